package credential

import (
	"time"

	"github.com/TBD54566975/ssi-sdk/credential"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const (
	IDProperty = "id"

	// UUIDPrefix prefixes the ids assigned to credentials issued without one.
	UUIDPrefix = "urn:uuid:"
)

// CopyCredential deep copies a credential through its JSON form.
func CopyCredential(c credential.VerifiableCredential) (*credential.VerifiableCredential, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling credential")
	}
	var cred credential.VerifiableCredential
	if err = json.Unmarshal(data, &cred); err != nil {
		return nil, errors.Wrap(err, "unmarshalling credential")
	}
	return &cred, nil
}

// IssuerID returns the issuer of c, which is either a string or an object carrying an id.
func IssuerID(c credential.VerifiableCredential) string {
	switch issuer := c.Issuer.(type) {
	case string:
		return issuer
	case map[string]any:
		if id, ok := issuer[IDProperty].(string); ok {
			return id
		}
	}
	return ""
}

// Contexts returns the @context of c as a list.
func Contexts(c credential.VerifiableCredential) []any {
	switch contexts := c.Context.(type) {
	case nil:
		return nil
	case []any:
		return contexts
	case []string:
		values := make([]any, 0, len(contexts))
		for _, context := range contexts {
			values = append(values, context)
		}
		return values
	default:
		return []any{contexts}
	}
}

// AddContext appends context to the @context of c unless it is already there.
func AddContext(c *credential.VerifiableCredential, context string) {
	contexts := Contexts(*c)
	for _, existing := range contexts {
		if existing == context {
			c.Context = contexts
			return
		}
	}
	c.Context = append(contexts, context)
}

func IsSigned(c credential.VerifiableCredential) bool {
	return c.Proof != nil
}

// ParseDate reads a credential date, which is RFC 3339 with or without fractional seconds.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing date %q", date)
	}
	return t, nil
}
