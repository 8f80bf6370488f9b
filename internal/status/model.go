package status

import (
	"strconv"
	"strings"

	statussdk "github.com/TBD54566975/ssi-sdk/credential/status"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Scheme is the family of status list a reference points into.
type Scheme string

const (
	StatusList2021     Scheme = "StatusList2021"
	RevocationList2020 Scheme = "RevocationList2020"

	StatusList2021EntryType          = "StatusList2021Entry"
	StatusList2021CredentialType     = "StatusList2021Credential"
	StatusList2021Context            = "https://w3id.org/vc/status-list/2021/v1"
	RevocationList2020StatusType     = "RevocationList2020Status"
	RevocationList2020CredentialType = "RevocationList2020Credential"
	RevocationList2020Context        = "https://w3id.org/vc-revocation-list-2020/v1"
)

// ListType identifies one status list of an issuer. RevocationList2020 lists have no purpose.
type ListType struct {
	Scheme  Scheme                  `json:"scheme"`
	Purpose statussdk.StatusPurpose `json:"purpose,omitempty"`
}

var (
	Revocation2021 = ListType{Scheme: StatusList2021, Purpose: statussdk.StatusRevocation}
	Suspension2021 = ListType{Scheme: StatusList2021, Purpose: statussdk.StatusSuspension}
	Revocation2020 = ListType{Scheme: RevocationList2020}

	// KnownListTypes is every list type this service can host.
	KnownListTypes = []ListType{Revocation2021, Suspension2021, Revocation2020}
)

// ParseListType accepts the scheme name or its entry type ("StatusList2021Entry", "RevocationList2020Status").
// A StatusList2021 type with no purpose means revocation.
func ParseListType(scheme, purpose string) (ListType, error) {
	switch scheme {
	case string(StatusList2021), StatusList2021EntryType:
		switch statussdk.StatusPurpose(purpose) {
		case statussdk.StatusRevocation, "":
			return Revocation2021, nil
		case statussdk.StatusSuspension:
			return Suspension2021, nil
		}
		return ListType{}, errors.Wrapf(ErrInvalidReference, "unsupported status purpose %q", purpose)
	case string(RevocationList2020), RevocationList2020StatusType:
		if purpose != "" && statussdk.StatusPurpose(purpose) != statussdk.StatusRevocation {
			return ListType{}, errors.Wrapf(ErrInvalidReference, "%s only supports revocation", RevocationList2020)
		}
		return Revocation2020, nil
	}
	return ListType{}, errors.Wrapf(ErrInvalidReference, "unsupported status type %q", scheme)
}

// ListTypeFromID is the inverse of ListType.ID.
func ListTypeFromID(id string) (ListType, error) {
	for _, t := range KnownListTypes {
		if t.ID() == strings.ToLower(id) {
			return t, nil
		}
	}
	return ListType{}, errors.Wrapf(ErrNotFound, "status list %q", id)
}

// ID names the list in URLs and storage keys.
func (t ListType) ID() string {
	if t.Scheme == RevocationList2020 {
		return strings.ToLower(string(RevocationList2020))
	}
	return string(t.Purpose)
}

func (t ListType) String() string {
	if t.Purpose == "" {
		return string(t.Scheme)
	}
	return string(t.Scheme) + "/" + string(t.Purpose)
}

func (t ListType) CredentialType() string {
	if t.Scheme == RevocationList2020 {
		return RevocationList2020CredentialType
	}
	return StatusList2021CredentialType
}

func (t ListType) Context() string {
	if t.Scheme == RevocationList2020 {
		return RevocationList2020Context
	}
	return StatusList2021Context
}

// SubjectType is the type of the credentialSubject of the list credential.
func (t ListType) SubjectType() string {
	if t.Scheme == RevocationList2020 {
		return string(RevocationList2020)
	}
	return string(StatusList2021)
}

// Reference is the credentialStatus entry embedded in an issued credential. Implementations are
// StatusList2021Reference and RevocationList2020Reference.
type Reference interface {
	ListType() ListType
	Index() uint
	ListURL() string
	isReference()
}

// StatusList2021Reference is a StatusList2021Entry.
type StatusList2021Reference struct {
	statussdk.StatusList2021Entry
	index uint
}

func NewStatusList2021Reference(credentialID string, purpose statussdk.StatusPurpose, index uint, listURL string) *StatusList2021Reference {
	return &StatusList2021Reference{
		StatusList2021Entry: statussdk.StatusList2021Entry{
			ID:                   credentialID + "#" + strconv.FormatUint(uint64(index), 10),
			Type:                 StatusList2021EntryType,
			StatusPurpose:        purpose,
			StatusListIndex:      strconv.FormatUint(uint64(index), 10),
			StatusListCredential: listURL,
		},
		index: index,
	}
}

func (r *StatusList2021Reference) ListType() ListType {
	return ListType{Scheme: StatusList2021, Purpose: r.StatusPurpose}
}

func (r *StatusList2021Reference) Index() uint {
	return r.index
}

func (r *StatusList2021Reference) ListURL() string {
	return r.StatusListCredential
}

func (*StatusList2021Reference) isReference() {}

// RevocationList2020Reference is a RevocationList2020Status entry.
type RevocationList2020Reference struct {
	ID                       string `json:"id"`
	Type                     string `json:"type"`
	RevocationListIndex      string `json:"revocationListIndex"`
	RevocationListCredential string `json:"revocationListCredential"`
	index                    uint
}

func NewRevocationList2020Reference(credentialID string, index uint, listURL string) *RevocationList2020Reference {
	return &RevocationList2020Reference{
		ID:                       credentialID + "#" + strconv.FormatUint(uint64(index), 10),
		Type:                     RevocationList2020StatusType,
		RevocationListIndex:      strconv.FormatUint(uint64(index), 10),
		RevocationListCredential: listURL,
		index:                    index,
	}
}

func (r *RevocationList2020Reference) ListType() ListType {
	return Revocation2020
}

func (r *RevocationList2020Reference) Index() uint {
	return r.index
}

func (r *RevocationList2020Reference) ListURL() string {
	return r.RevocationListCredential
}

func (*RevocationList2020Reference) isReference() {}

// NewReference builds the entry of the scheme of t.
func NewReference(t ListType, credentialID string, index uint, listURL string) Reference {
	if t.Scheme == RevocationList2020 {
		return NewRevocationList2020Reference(credentialID, index, listURL)
	}
	return NewStatusList2021Reference(credentialID, t.Purpose, index, listURL)
}

// flexIndex accepts an index written as a JSON number or a decimal string.
type flexIndex struct {
	value uint
	set   bool
}

func (f *flexIndex) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return errors.Wrapf(ErrInvalidReference, "index %s is not a non-negative integer", string(b))
	}
	f.value = uint(v)
	f.set = true
	return nil
}

type rawReference struct {
	ID                       string    `json:"id"`
	Type                     string    `json:"type"`
	StatusPurpose            string    `json:"statusPurpose"`
	StatusListIndex          flexIndex `json:"statusListIndex"`
	StatusListCredential     string    `json:"statusListCredential"`
	RevocationListIndex      flexIndex `json:"revocationListIndex"`
	RevocationListCredential string    `json:"revocationListCredential"`
}

// ParseReference reads a single credentialStatus entry, as found in a decoded credential.
func ParseReference(credentialStatus any) (Reference, error) {
	data, err := json.Marshal(credentialStatus)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidReference, "marshalling credential status: %s", err)
	}
	var raw rawReference
	if err = json.Unmarshal(data, &raw); err != nil {
		if errors.Is(err, ErrInvalidReference) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrInvalidReference, "decoding credential status: %s", err)
	}

	t, err := ParseListType(raw.Type, raw.StatusPurpose)
	if err != nil {
		return nil, err
	}
	if t.Scheme == RevocationList2020 {
		if !raw.RevocationListIndex.set || raw.RevocationListCredential == "" {
			return nil, errors.Wrap(ErrInvalidReference, "revocationListIndex and revocationListCredential are required")
		}
		return &RevocationList2020Reference{
			ID:                       raw.ID,
			Type:                     RevocationList2020StatusType,
			RevocationListIndex:      strconv.FormatUint(uint64(raw.RevocationListIndex.value), 10),
			RevocationListCredential: raw.RevocationListCredential,
			index:                    raw.RevocationListIndex.value,
		}, nil
	}
	if !raw.StatusListIndex.set || raw.StatusListCredential == "" {
		return nil, errors.Wrap(ErrInvalidReference, "statusListIndex and statusListCredential are required")
	}
	return &StatusList2021Reference{
		StatusList2021Entry: statussdk.StatusList2021Entry{
			ID:                   raw.ID,
			Type:                 StatusList2021EntryType,
			StatusPurpose:        t.Purpose,
			StatusListIndex:      strconv.FormatUint(uint64(raw.StatusListIndex.value), 10),
			StatusListCredential: raw.StatusListCredential,
		},
		index: raw.StatusListIndex.value,
	}, nil
}

// ParseReferences reads a credentialStatus that is either one entry or an array of entries.
func ParseReferences(credentialStatus any) ([]Reference, error) {
	if credentialStatus == nil {
		return nil, nil
	}
	data, err := json.Marshal(credentialStatus)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidReference, "marshalling credential status: %s", err)
	}
	var entries []json.RawMessage
	if err = json.Unmarshal(data, &entries); err != nil {
		ref, err := ParseReference(json.RawMessage(data))
		if err != nil {
			return nil, err
		}
		return []Reference{ref}, nil
	}
	refs := make([]Reference, 0, len(entries))
	for _, entry := range entries {
		ref, err := ParseReference(entry)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
