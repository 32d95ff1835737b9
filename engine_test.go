package keyrecovery

import (
	"bytes"
	"context"
	"testing"

	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/keyrecovery/socrec"
	"github.com/stretchr/testify/require"
)

// unusedRelationships satisfies the interface for tests that never reach the
// server's social recovery surface.
type unusedRelationships struct {
	socrec.RelationshipsService
}

// TestEngineLifecycle opens an engine on disk, syncs a record through it and
// checks the metrics registry saw the published state.
func TestEngineLifecycle(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HomeDir = t.TempDir()
	validated, err := ValidateConfig(cfg)
	require.NoError(t, err)

	backend, err := OpenBackend(validated)
	require.NoError(t, err)

	keyRing, err := keychain.NewSeedKeyRing(bytes.Repeat([]byte{7}, 32), 0)
	require.NoError(t, err)

	client := newFakeRecoveryClient()
	client.records["account"] = newTestRecord(t, "account")

	engine, err := NewEngine(validated, backend, Dependencies{
		RecoveryClient: client,
		Relationships:  unusedRelationships{},
		KeyRing:        keyRing,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start())

	engine.Syncer.Track("account")
	require.NoError(t, engine.Syncer.SyncOnce(context.Background()))

	state, err := engine.Recovery.ActiveRecovery("account")
	require.NoError(t, err)
	require.IsType(t, recovery.SomeoneElseIsRecovering{}, state)

	accounts, err := engine.DB.Accounts()
	require.NoError(t, err)
	require.Equal(t, []f8e.AccountID{"account"}, accounts)

	families, err := engine.Registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, family := range families {
		if family.GetName() == "keyrecovery_recovery_reconciled_total" {
			found = true
		}
	}
	require.True(t, found)

	states, err := engine.SocRec.ContactStates()
	require.NoError(t, err)
	require.Empty(t, states)

	require.NoError(t, engine.Stop())
}

// TestNewEngineRequiresDependencies checks missing services are rejected.
func TestNewEngineRequiresDependencies(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	_, err := NewEngine(&cfg, nil, Dependencies{})
	require.Error(t, err)
}
