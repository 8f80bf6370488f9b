package status

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gopkg.in/h2non/gock.v1"

	"github.com/opsecid/traceability-service/config"
	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/pkg/storage"
	"github.com/opsecid/traceability-service/pkg/testutil"
)

const (
	testListBase = "https://traceability.example.com/v1"
	testIssuer   = "did:web:traceability.example.com:organizations:acme"
	testLabel    = "acme"
	testVerkey   = "verkey-1"
)

func newTestService(t *testing.T, db storage.ServiceStorage, length uint) (*Service, *testutil.FakeSigner) {
	signer := testutil.NewFakeSigner()
	service, err := NewStatusService(config.StatusServiceConfig{Length: length}, testListBase, db, signer)
	require.NoError(t, err)
	return service, signer
}

func createList(t *testing.T, service *Service, listType statusint.ListType) *CreateStatusListResponse {
	created, err := service.CreateStatusList(context.Background(), CreateStatusListRequest{
		Issuer:             testIssuer,
		Label:              testLabel,
		Type:               listType,
		VerificationMethod: testIssuer + "#" + testVerkey,
		VerificationKey:    testVerkey,
	})
	require.NoError(t, err)
	return created
}

func createEntry(t *testing.T, service *Service, listType statusint.ListType, credentialID string) statusint.Reference {
	entry, err := service.CreateEntry(context.Background(), CreateEntryRequest{
		Issuer:       testIssuer,
		Type:         listType,
		CredentialID: credentialID,
	})
	require.NoError(t, err)
	return entry.Reference
}

func getStatus(t *testing.T, service *Service, ref statusint.Reference) bool {
	got, err := service.GetStatus(context.Background(), GetStatusRequest{Reference: ref})
	require.NoError(t, err)
	return got.Set
}

func TestNewStatusService(t *testing.T) {
	db := testutil.TestDatabases[0].ServiceStorage(t)

	_, err := NewStatusService(config.StatusServiceConfig{}, testListBase, nil, testutil.NewFakeSigner())
	assert.Error(t, err)

	_, err = NewStatusService(config.StatusServiceConfig{}, testListBase, db, nil)
	assert.Error(t, err)

	service, err := NewStatusService(config.StatusServiceConfig{}, testListBase+"/", db, testutil.NewFakeSigner())
	require.NoError(t, err)
	assert.EqualValues(t, statusint.DefaultListLength, service.config.Length)
	assert.Equal(t, testListBase+"/organizations/acme/credentials/status/revocation", service.ListURL(testLabel, statusint.Revocation2021))

	types, err := service.ConfiguredTypes()
	assert.NoError(t, err)
	assert.Equal(t, statusint.KnownListTypes, types)

	service.config.Types = []string{"StatusList2021/suspension", "RevocationList2020"}
	types, err = service.ConfiguredTypes()
	assert.NoError(t, err)
	assert.Equal(t, []statusint.ListType{statusint.Suspension2021, statusint.Revocation2020}, types)

	service.config.Types = []string{"StatusList2021/message"}
	_, err = service.ConfiguredTypes()
	assert.ErrorIs(t, err, statusint.ErrInvalidReference)
}

func TestStatusService(t *testing.T) {
	for _, test := range testutil.TestDatabases {
		t.Run(test.Name, func(t *testing.T) {
			t.Run("capacity eight lifecycle", func(tt *testing.T) {
				service, signer := newTestService(tt, test.ServiceStorage(tt), 8)

				created := createList(tt, service, statusint.Revocation2021)
				assert.Equal(tt, testListBase+"/organizations/acme/credentials/status/revocation", created.URL)
				require.NotNil(tt, created.Credential.Proof)
				bits, err := statusint.ExpandCredential(created.Credential, 8)
				require.NoError(tt, err)
				assert.Equal(tt, "00000000", bits.String())

				ref := createEntry(tt, service, statusint.Revocation2021, "urn:uuid:1")
				assert.Less(tt, ref.Index(), uint(8))
				assert.Equal(tt, created.URL, ref.ListURL())
				assert.False(tt, getStatus(tt, service, ref))

				changed, err := service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2021,
					Reference: ref,
					Value:     true,
				})
				require.NoError(tt, err)
				assert.True(tt, changed.Changed)
				assert.NotNil(tt, changed.Credential.Proof)
				assert.True(tt, getStatus(tt, service, ref))

				// only the flipped bit is set
				got, err := service.GetStatusListCredential(context.Background(), GetStatusListCredentialRequest{Issuer: testIssuer, Type: statusint.Revocation2021})
				require.NoError(tt, err)
				bits, err = statusint.ExpandCredential(got.Credential, 8)
				require.NoError(tt, err)
				assert.EqualValues(tt, 1, bits.Count())
				set, err := bits.Test(ref.Index())
				assert.NoError(tt, err)
				assert.True(tt, set)

				// repeating the change writes and signs nothing
				signs := signer.Signs()
				changed, err = service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2021,
					Reference: ref,
					Value:     true,
				})
				require.NoError(tt, err)
				assert.False(tt, changed.Changed)
				assert.Equal(tt, signs, signer.Signs())

				// reads are idempotent
				for i := 0; i < 3; i++ {
					assert.True(tt, getStatus(tt, service, ref))
				}

				changed, err = service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2021,
					Reference: ref,
					Value:     false,
				})
				require.NoError(tt, err)
				assert.True(tt, changed.Changed)
				assert.False(tt, getStatus(tt, service, ref))
			})

			t.Run("exhaustion leaves the list untouched", func(tt *testing.T) {
				service, _ := newTestService(tt, test.ServiceStorage(tt), 8)
				createList(tt, service, statusint.Suspension2021)

				seen := make(map[uint]bool)
				for i := 0; i < 8; i++ {
					ref := createEntry(tt, service, statusint.Suspension2021, "urn:uuid:x")
					assert.False(tt, seen[ref.Index()])
					seen[ref.Index()] = true
				}

				before, err := service.GetStatusListCredential(context.Background(), GetStatusListCredentialRequest{Issuer: testIssuer, Type: statusint.Suspension2021})
				require.NoError(tt, err)

				_, err = service.CreateEntry(context.Background(), CreateEntryRequest{Issuer: testIssuer, Type: statusint.Suspension2021, CredentialID: "urn:uuid:y"})
				assert.ErrorIs(tt, err, statusint.ErrCapacityExhausted)

				after, err := service.GetStatusListCredential(context.Background(), GetStatusListCredentialRequest{Issuer: testIssuer, Type: statusint.Suspension2021})
				require.NoError(tt, err)
				assert.Equal(tt, before, after)
			})

			t.Run("lifecycle errors", func(tt *testing.T) {
				service, _ := newTestService(tt, test.ServiceStorage(tt), 16)

				_, err := service.CreateEntry(context.Background(), CreateEntryRequest{Issuer: testIssuer, Type: statusint.Revocation2020, CredentialID: "urn:uuid:1"})
				assert.ErrorIs(tt, err, statusint.ErrNotInitialized)

				_, err = service.GetStatusListCredential(context.Background(), GetStatusListCredentialRequest{Issuer: testIssuer, Type: statusint.Revocation2020})
				assert.ErrorIs(tt, err, statusint.ErrNotFound)

				createList(tt, service, statusint.Revocation2020)
				_, err = service.CreateStatusList(context.Background(), CreateStatusListRequest{
					Issuer:             testIssuer,
					Label:              testLabel,
					Type:               statusint.Revocation2020,
					VerificationMethod: testIssuer + "#" + testVerkey,
					VerificationKey:    testVerkey,
				})
				assert.ErrorIs(tt, err, statusint.ErrAlreadyInitialized)

				ref := createEntry(tt, service, statusint.Revocation2020, "urn:uuid:1")
				_, isRevocationList := ref.(*statusint.RevocationList2020Reference)
				assert.True(tt, isRevocationList)

				_, err = service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2021,
					Reference: ref,
					Value:     true,
				})
				assert.ErrorIs(tt, err, statusint.ErrStatusTypeMismatch)

				outOfRange := statusint.NewReference(statusint.Revocation2020, "urn:uuid:2", 16, ref.ListURL())
				_, err = service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2020,
					Reference: outOfRange,
					Value:     true,
				})
				assert.ErrorIs(tt, err, statusint.ErrIndexOutOfRange)

				foreign := statusint.NewReference(statusint.Revocation2020, "urn:uuid:3", 1, "https://elsewhere.example.com/list")
				_, err = service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2020,
					Reference: foreign,
					Value:     true,
				})
				assert.ErrorIs(tt, err, statusint.ErrInvalidReference)

				lists, err := service.ListStatusLists(context.Background(), testIssuer)
				require.NoError(tt, err)
				require.Len(tt, lists.StatusLists, 1)
				assert.Equal(tt, statusint.Revocation2020, lists.StatusLists[0].Type)

				byURL, err := service.GetStatusListCredentialByURL(context.Background(), ref.ListURL())
				require.NoError(tt, err)
				assert.Equal(tt, ref.ListURL(), byURL.Credential.ID)
			})

			t.Run("signer failure stores nothing", func(tt *testing.T) {
				service, signer := newTestService(tt, test.ServiceStorage(tt), 16)
				signer.SignErr = errors.New("wallet locked")

				_, err := service.CreateStatusList(context.Background(), CreateStatusListRequest{
					Issuer:             testIssuer,
					Label:              testLabel,
					Type:               statusint.Revocation2021,
					VerificationMethod: testIssuer + "#" + testVerkey,
					VerificationKey:    testVerkey,
				})
				assert.ErrorIs(tt, err, statusint.ErrSigner)
				assert.Contains(tt, err.Error(), "wallet locked")

				_, err = service.GetStatusListCredential(context.Background(), GetStatusListCredentialRequest{Issuer: testIssuer, Type: statusint.Revocation2021})
				assert.ErrorIs(tt, err, statusint.ErrNotFound)

				signer.SignErr = nil
				createList(tt, service, statusint.Revocation2021)
				ref := createEntry(tt, service, statusint.Revocation2021, "urn:uuid:1")

				signer.SignErr = errors.New("agent down")
				_, err = service.ChangeStatus(context.Background(), ChangeStatusRequest{
					Issuer:    testIssuer,
					Type:      statusint.Revocation2021,
					Reference: ref,
					Value:     true,
				})
				assert.ErrorIs(tt, err, statusint.ErrSigner)
				assert.False(tt, getStatus(tt, service, ref))
			})
		})
	}
}

func TestStatusServiceConcurrency(t *testing.T) {
	for _, test := range testutil.TestDatabases {
		t.Run(test.Name, func(t *testing.T) {
			t.Run("concurrent entries are unique", func(tt *testing.T) {
				service, _ := newTestService(tt, test.ServiceStorage(tt), 256)
				createList(tt, service, statusint.Revocation2021)

				const writers = 64
				var (
					mu   sync.Mutex
					refs []statusint.Reference
				)
				group, ctx := errgroup.WithContext(context.Background())
				for i := 0; i < writers; i++ {
					group.Go(func() error {
						entry, err := service.CreateEntry(ctx, CreateEntryRequest{Issuer: testIssuer, Type: statusint.Revocation2021, CredentialID: "urn:uuid:c"})
						if err != nil {
							return err
						}
						mu.Lock()
						refs = append(refs, entry.Reference)
						mu.Unlock()
						return nil
					})
				}
				require.NoError(tt, group.Wait())

				seen := make(map[uint]bool)
				for _, ref := range refs {
					assert.False(tt, seen[ref.Index()], "index %d allocated twice", ref.Index())
					seen[ref.Index()] = true
				}
				assert.Len(tt, seen, writers)
			})

			t.Run("entries allocated by two replicas are unique", func(tt *testing.T) {
				db := test.ServiceStorage(tt)
				first, _ := newTestService(tt, db, 256)
				second, _ := newTestService(tt, db, 256)
				createList(tt, first, statusint.Revocation2021)

				// each replica has its own in-process locks, so only the storage transaction keeps them apart
				const writers = 32
				var (
					mu      sync.Mutex
					indices []uint
				)
				group, ctx := errgroup.WithContext(context.Background())
				for i := 0; i < writers; i++ {
					replica := first
					if i%2 == 1 {
						replica = second
					}
					group.Go(func() error {
						entry, err := replica.CreateEntry(ctx, CreateEntryRequest{Issuer: testIssuer, Type: statusint.Revocation2021, CredentialID: "urn:uuid:c"})
						if err != nil {
							return err
						}
						mu.Lock()
						indices = append(indices, entry.Reference.Index())
						mu.Unlock()
						return nil
					})
				}
				require.NoError(tt, group.Wait())

				seen := make(map[uint]bool)
				for _, index := range indices {
					assert.False(tt, seen[index], "index %d allocated twice", index)
					seen[index] = true
				}
				assert.Len(tt, seen, writers)

				_, err := first.storage.Execute(context.Background(), func(ctx context.Context, tx storage.Tx) (any, error) {
					occupied, err := first.storage.GetOccupancyTx(ctx, tx, testIssuer, statusint.Revocation2021)
					if err != nil {
						return nil, err
					}
					assert.ElementsMatch(tt, indices, occupied)
					return nil, nil
				}, first.storage.indexWatchKeys(testIssuer, statusint.Revocation2021))
				require.NoError(tt, err)
			})

			t.Run("concurrent changes on different indices are both kept", func(tt *testing.T) {
				service, _ := newTestService(tt, test.ServiceStorage(tt), 64)
				createList(tt, service, statusint.Revocation2021)

				first := createEntry(tt, service, statusint.Revocation2021, "urn:uuid:1")
				second := createEntry(tt, service, statusint.Revocation2021, "urn:uuid:2")

				group, ctx := errgroup.WithContext(context.Background())
				for _, ref := range []statusint.Reference{first, second} {
					ref := ref
					group.Go(func() error {
						_, err := service.ChangeStatus(ctx, ChangeStatusRequest{
							Issuer:    testIssuer,
							Type:      statusint.Revocation2021,
							Reference: ref,
							Value:     true,
						})
						return err
					})
				}
				require.NoError(tt, group.Wait())

				assert.True(tt, getStatus(tt, service, first))
				assert.True(tt, getStatus(tt, service, second))

				got, err := service.GetStatusListCredential(context.Background(), GetStatusListCredentialRequest{Issuer: testIssuer, Type: statusint.Revocation2021})
				require.NoError(tt, err)
				bits, err := statusint.ExpandCredential(got.Credential, 64)
				require.NoError(tt, err)
				assert.EqualValues(tt, 2, bits.Count())
			})
		})
	}
}

func TestRemoteStatus(t *testing.T) {
	const remoteList = "https://other.example.com/v1/organizations/globex/credentials/status/revocation"

	service, _ := newTestService(t, testutil.TestDatabases[0].ServiceStorage(t), 16)
	gock.InterceptClient(service.fetcher.HTTPClient)
	defer gock.RestoreClient(service.fetcher.HTTPClient)
	defer gock.Off()

	bits := statusint.NewBitstring(16)
	require.NoError(t, bits.Set(5, true))
	encoded, err := statusint.Generate(bits)
	require.NoError(t, err)
	remote := statusint.NewListCredential(remoteList, "did:web:other.example.com:organizations:globex", statusint.Revocation2021, encoded, service.clock.Now())

	t.Run("set and unset bits", func(tt *testing.T) {
		gock.New("https://other.example.com").
			Get("/v1/organizations/globex/credentials/status/revocation").
			Times(2).
			Reply(200).
			JSON(remote)

		assert.True(tt, getStatus(tt, service, statusint.NewReference(statusint.Revocation2021, "urn:uuid:r", 5, remoteList)))
		assert.False(tt, getStatus(tt, service, statusint.NewReference(statusint.Revocation2021, "urn:uuid:r", 6, remoteList)))
		assert.True(tt, gock.IsDone())
	})

	t.Run("purpose mismatch", func(tt *testing.T) {
		gock.New("https://other.example.com").
			Get("/v1/organizations/globex/credentials/status/revocation").
			Reply(200).
			JSON(remote)

		_, err := service.GetStatus(context.Background(), GetStatusRequest{Reference: statusint.NewReference(statusint.Suspension2021, "urn:uuid:r", 5, remoteList)})
		assert.ErrorIs(tt, err, statusint.ErrStatusTypeMismatch)
	})

	t.Run("missing list", func(tt *testing.T) {
		gock.New("https://other.example.com").
			Get("/v1/organizations/globex/credentials/status/revocation").
			Reply(404)

		_, err := service.GetStatus(context.Background(), GetStatusRequest{Reference: statusint.NewReference(statusint.Revocation2021, "urn:uuid:r", 5, remoteList)})
		assert.ErrorIs(tt, err, statusint.ErrNotFound)
	})

	t.Run("malformed list", func(tt *testing.T) {
		gock.New("https://other.example.com").
			Get("/v1/organizations/globex/credentials/status/revocation").
			Reply(200).
			BodyString("<html>maintenance</html>")

		_, err := service.GetStatus(context.Background(), GetStatusRequest{Reference: statusint.NewReference(statusint.Revocation2021, "urn:uuid:r", 5, remoteList)})
		assert.ErrorIs(tt, err, statusint.ErrDecoding)
	})
}

func TestKeyedMutex(t *testing.T) {
	locks := newKeyedMutex()
	var counter int
	group := new(errgroup.Group)
	for i := 0; i < 50; i++ {
		group.Go(func() error {
			unlock := locks.Lock("list")
			defer unlock()
			counter++
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, 50, counter)
	assert.Empty(t, locks.locks)
}
