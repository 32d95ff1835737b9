package recovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
)

// ErrInvalidServerRecovery is returned for a server record that lacks the
// fields every record must carry.
var ErrInvalidServerRecovery = errors.New("invalid server recovery")

// ServerRecovery is the cached copy of the server's active recovery record.
type ServerRecovery struct {
	// AccountID is the account under recovery.
	AccountID f8e.AccountID

	// LostFactor is the factor being replaced.
	LostFactor f8e.PhysicalFactor

	// DelayStartTime and DelayEndTime bound the delay period.
	DelayStartTime time.Time
	DelayEndTime   time.Time

	// AppGlobalAuthKey is the destination app global auth key.
	AppGlobalAuthKey *btcec.PublicKey

	// AppRecoveryAuthKey is the destination app recovery auth key. Older
	// records do not carry it.
	AppRecoveryAuthKey *btcec.PublicKey

	// HardwareAuthKey is the destination hardware auth key.
	HardwareAuthKey *btcec.PublicKey

	// AppSpendingKey and HardwareSpendingKey are the destination spending
	// keys. Older records do not carry them.
	AppSpendingKey      *btcec.PublicKey
	HardwareSpendingKey *btcec.PublicKey
}

// Validate checks the record carries its required keys and a known lost
// factor. Records come from the server and are checked before being cached.
func (s *ServerRecovery) Validate() error {
	switch {
	case s.AppGlobalAuthKey == nil:
		return fmt.Errorf("%w: missing app global auth key",
			ErrInvalidServerRecovery)

	case s.HardwareAuthKey == nil:
		return fmt.Errorf("%w: missing hardware auth key",
			ErrInvalidServerRecovery)

	case s.LostFactor != f8e.FactorApp &&
		s.LostFactor != f8e.FactorHardware:

		return fmt.Errorf("%w: unknown lost factor %d",
			ErrInvalidServerRecovery, s.LostFactor)

	case s.DelayEndTime.Before(s.DelayStartTime):
		return fmt.Errorf("%w: delay ends before it starts",
			ErrInvalidServerRecovery)
	}

	return nil
}

// Matches reports whether the record's destination keys are the ones this
// device generated for attempt. Optional keys are only compared when the
// server reported them.
func (s *ServerRecovery) Matches(attempt *LocalRecoveryAttempt) bool {
	if s == nil || attempt == nil {
		return false
	}

	bundles := &attempt.Keybundles

	if !keysEqual(s.AppGlobalAuthKey, bundles.AppGlobalAuthKey) ||
		!keysEqual(s.HardwareAuthKey, bundles.HardwareAuthKey) {

		return false
	}

	optional := []struct {
		server, local *btcec.PublicKey
	}{
		{s.AppRecoveryAuthKey, bundles.AppRecoveryAuthKey},
		{s.AppSpendingKey, bundles.AppSpendingKey},
		{s.HardwareSpendingKey, bundles.HardwareSpendingKey},
	}
	for _, key := range optional {
		if key.server != nil && !keysEqual(key.server, key.local) {
			return false
		}
	}

	return s.LostFactor == bundles.LostFactor
}

// Ready reports whether the delay period has elapsed at now.
func (s *ServerRecovery) Ready(now time.Time) bool {
	return !now.Before(s.DelayEndTime)
}

func keysEqual(a, b *btcec.PublicKey) bool {
	if a == nil || b == nil {
		return false
	}

	return a.IsEqual(b)
}
