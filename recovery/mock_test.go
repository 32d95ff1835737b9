package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var errStoreFailure = errors.New("store failure")

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	local    map[f8e.AccountID]*LocalRecoveryAttempt
	server   map[f8e.AccountID]ServerRecovery
	clearErr error
}

func newMemStore() *memStore {
	return &memStore{
		local:  make(map[f8e.AccountID]*LocalRecoveryAttempt),
		server: make(map[f8e.AccountID]ServerRecovery),
	}
}

func (s *memStore) LocalProgress(
	id f8e.AccountID) (fn.Option[LocalRecoveryAttempt], error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.local[id]
	if !ok {
		return fn.None[LocalRecoveryAttempt](), nil
	}

	return fn.Some(*attempt.Copy()), nil
}

func (s *memStore) SetLocalProgress(id f8e.AccountID,
	progress Progress) (*LocalRecoveryAttempt, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := ApplyProgress(id, s.local[id], progress)
	if err != nil {
		return nil, err
	}
	s.local[id] = next

	return next.Copy(), nil
}

func (s *memStore) ServerRecovery(
	id f8e.AccountID) (fn.Option[ServerRecovery], error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.server[id]
	if !ok {
		return fn.None[ServerRecovery](), nil
	}

	return fn.Some(record), nil
}

func (s *memStore) SetServerRecovery(id f8e.AccountID,
	record fn.Option[ServerRecovery]) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.server, id)
	record.WhenSome(func(r ServerRecovery) {
		s.server[id] = r
	})

	return nil
}

func (s *memStore) Clear(id f8e.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clearErr != nil {
		return s.clearErr
	}

	delete(s.local, id)
	delete(s.server, id)

	return nil
}

// mockRecoveryClient answers cancellations with a queue of errors.
type mockRecoveryClient struct {
	mu         sync.Mutex
	cancelErrs []error
	cancels    int
	active     fn.Option[ServerRecovery]
}

func (c *mockRecoveryClient) GetActiveRecovery(context.Context,
	f8e.AccountID) (fn.Option[ServerRecovery], error) {

	return c.active, nil
}

func (c *mockRecoveryClient) CancelRecovery(context.Context, f8e.AccountID,
	ProofOfPossession) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancels++
	if len(c.cancelErrs) == 0 {
		return nil
	}

	err := c.cancelErrs[0]
	c.cancelErrs = c.cancelErrs[1:]

	return err
}

// mockAuthClient accepts exactly one key, or fails with err.
type mockAuthClient struct {
	accepted *btcec.PublicKey
	err      error
	key      *btcec.PublicKey
}

var authChallenge = []byte("auth-challenge")

func (c *mockAuthClient) InitiateAuthentication(_ context.Context,
	key *btcec.PublicKey) (*f8e.AuthChallenge, error) {

	if c.err != nil {
		return nil, c.err
	}

	c.key = key

	return &f8e.AuthChallenge{
		Session:   "session",
		Challenge: authChallenge,
	}, nil
}

func (c *mockAuthClient) CompleteAuthentication(_ context.Context,
	_ string, sig *ecdsa.Signature) (*f8e.AuthTokens, error) {

	if !c.key.IsEqual(c.accepted) {
		return nil, f8e.NewSpecificClientError(f8e.CodeUnauthorized)
	}

	digest := chainhash.HashB(authChallenge)
	if !sig.Verify(digest, c.accepted) {
		return nil, f8e.NewClientError(errors.New("bad signature"))
	}

	return &f8e.AuthTokens{AccessToken: "token"}, nil
}

func newTestKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv
}

// testBundles returns keybundles with fresh keys and the app global auth
// private key.
func testBundles(t *testing.T,
	factor f8e.PhysicalFactor) (*PendingKeybundles, *btcec.PrivateKey) {

	t.Helper()

	appAuth := newTestKey(t)

	return &PendingKeybundles{
		LostFactor:          factor,
		AppGlobalAuthKey:    appAuth.PubKey(),
		AppRecoveryAuthKey:  newTestKey(t).PubKey(),
		HardwareAuthKey:     newTestKey(t).PubKey(),
		AppSpendingKey:      newTestKey(t).PubKey(),
		HardwareSpendingKey: newTestKey(t).PubKey(),
	}, appAuth
}

// serverRecoveryFor returns a server record matching bundles.
func serverRecoveryFor(id f8e.AccountID,
	bundles *PendingKeybundles) ServerRecovery {

	start := time.Unix(1_700_000_000, 0)

	return ServerRecovery{
		AccountID:          id,
		LostFactor:         bundles.LostFactor,
		DelayStartTime:     start,
		DelayEndTime:       start.Add(7 * 24 * time.Hour),
		AppGlobalAuthKey:   bundles.AppGlobalAuthKey,
		AppRecoveryAuthKey: bundles.AppRecoveryAuthKey,
		HardwareAuthKey:    bundles.HardwareAuthKey,
	}
}

// testProgressPath returns the progress markers from CreatedPendingKeybundles
// up to and including phase along the successful path.
func testProgressPath(t *testing.T, bundles *PendingKeybundles,
	phase Phase) []Progress {

	t.Helper()

	path := []Progress{CreatedPendingKeybundles(bundles)}
	for p := PhaseAttemptingCompletion; p <= phase; p++ {
		switch p {
		case PhaseAttemptingCompletion:
			path = append(path, AttemptingCompletion(
				[]byte("sealed-csek"), []byte("sealed-ssek"),
			))

		case PhaseCompletionAttemptFailedDueToServerCancellation:
			continue

		case PhaseCreatedSpendingKeys:
			path = append(path, CreatedSpendingKeysProgress(
				&SpendingKeyset{
					KeysetID:          "keyset",
					ServerSpendingKey: newTestKey(t).PubKey(),
				},
			))

		case PhaseCompletedRecovery:
			path = append(path, CompletedRecoveryProgress("keybox"))

		default:
			path = append(path, Reached(p))
		}
	}

	return path
}
