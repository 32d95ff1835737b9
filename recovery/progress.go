package recovery

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
)

var (
	// ErrPhaseOutOfOrder is returned when a phase is written before its
	// predecessor was recorded.
	ErrPhaseOutOfOrder = errors.New("recovery phase written out of order")

	// ErrPhaseRegression is returned when a phase earlier than the stored
	// one is written. Progress only rewinds through Clear.
	ErrPhaseRegression = errors.New("recovery phase regression")

	// ErrAttemptExists is returned when new pending keybundles are written
	// over an attempt that was not cleared.
	ErrAttemptExists = errors.New("local recovery attempt already exists")

	// ErrMissingArtifacts is returned when a progress marker lacks the
	// artifacts its phase produces.
	ErrMissingArtifacts = errors.New("recovery progress missing artifacts")
)

// Phase is a local recovery phase marker. Phases are strictly ordered, except
// that RotatedAuthKeys and CompletionAttemptFailedDueToServerCancellation are
// the two possible outcomes of AttemptingCompletion.
type Phase uint8

const (
	// PhaseCreatedPendingKeybundles means destination keys were generated
	// and the recovery was initiated with the server.
	PhaseCreatedPendingKeybundles Phase = iota + 1

	// PhaseAttemptingCompletion means the hardware sealed CSEK/SSEK were
	// persisted and the completion request may have been sent.
	PhaseAttemptingCompletion

	// PhaseRotatedAuthKeys means the server accepted completion.
	PhaseRotatedAuthKeys

	// PhaseCompletionAttemptFailedDueToServerCancellation means the
	// recovery was cancelled on the server before completion landed.
	PhaseCompletionAttemptFailedDueToServerCancellation

	// PhaseCreatedSpendingKeys means the server created its spending
	// keyset for the destination keys.
	PhaseCreatedSpendingKeys

	// PhaseActivatedSpendingKeys means the new keyset is active.
	PhaseActivatedSpendingKeys

	// PhaseUploadedDescriptorBackups means wallet descriptors were backed
	// up to the server.
	PhaseUploadedDescriptorBackups

	// PhaseDdkBackedUp means the delegated decryption key was backed up.
	PhaseDdkBackedUp

	// PhaseBackedUpToCloud means the cloud backup was rewritten.
	PhaseBackedUpToCloud

	// PhaseSweepingFunds means funds are being moved to the new keyset.
	PhaseSweepingFunds

	// PhaseCompletedRecovery means the new keybox is active locally.
	PhaseCompletedRecovery
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreatedPendingKeybundles:
		return "CreatedPendingKeybundles"
	case PhaseAttemptingCompletion:
		return "AttemptingCompletion"
	case PhaseRotatedAuthKeys:
		return "RotatedAuthKeys"
	case PhaseCompletionAttemptFailedDueToServerCancellation:
		return "CompletionAttemptFailedDueToServerCancellation"
	case PhaseCreatedSpendingKeys:
		return "CreatedSpendingKeys"
	case PhaseActivatedSpendingKeys:
		return "ActivatedSpendingKeys"
	case PhaseUploadedDescriptorBackups:
		return "UploadedDescriptorBackups"
	case PhaseDdkBackedUp:
		return "DdkBackedUp"
	case PhaseBackedUpToCloud:
		return "BackedUpToCloud"
	case PhaseSweepingFunds:
		return "SweepingFunds"
	case PhaseCompletedRecovery:
		return "CompletedRecovery"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseCreatedPendingKeybundles &&
		p <= PhaseCompletedRecovery
}

// predecessor returns the phase that must be stored before p is accepted.
func (p Phase) predecessor() Phase {
	switch p {
	case PhaseRotatedAuthKeys,
		PhaseCompletionAttemptFailedDueToServerCancellation:

		return PhaseAttemptingCompletion

	case PhaseCreatedSpendingKeys:
		return PhaseRotatedAuthKeys

	default:
		return p - 1
	}
}

// depth is the position of p along any valid progress path.
func (p Phase) depth() int {
	if p >= PhaseCompletionAttemptFailedDueToServerCancellation {
		return int(p) - 1
	}

	return int(p)
}

// PendingKeybundles are the destination keys generated when a recovery is
// initiated.
type PendingKeybundles struct {
	// LostFactor is the factor being replaced.
	LostFactor f8e.PhysicalFactor

	// AppGlobalAuthKey is the destination app global auth key.
	AppGlobalAuthKey *btcec.PublicKey

	// AppRecoveryAuthKey is the destination app recovery auth key.
	AppRecoveryAuthKey *btcec.PublicKey

	// HardwareAuthKey is the destination hardware auth key.
	HardwareAuthKey *btcec.PublicKey

	// AppSpendingKey is the destination app spending key.
	AppSpendingKey *btcec.PublicKey

	// HardwareSpendingKey is the destination hardware spending key.
	HardwareSpendingKey *btcec.PublicKey
}

func (p *PendingKeybundles) validate() error {
	if p.AppGlobalAuthKey == nil || p.AppRecoveryAuthKey == nil ||
		p.HardwareAuthKey == nil || p.AppSpendingKey == nil ||
		p.HardwareSpendingKey == nil {

		return fmt.Errorf("%w: incomplete keybundles",
			ErrMissingArtifacts)
	}

	return nil
}

// SpendingKeyset is the server half of the new spending keyset.
type SpendingKeyset struct {
	// KeysetID is the server assigned keyset id.
	KeysetID string

	// ServerSpendingKey is the server spending public key.
	ServerSpendingKey *btcec.PublicKey
}

// Progress is one phase marker with the artifacts produced in that phase.
type Progress struct {
	// Phase is the phase that was reached.
	Phase Phase

	// Keybundles is set with PhaseCreatedPendingKeybundles.
	Keybundles *PendingKeybundles

	// SealedCsek and SealedSsek are set with PhaseAttemptingCompletion.
	SealedCsek []byte
	SealedSsek []byte

	// Keyset is set with PhaseCreatedSpendingKeys.
	Keyset *SpendingKeyset

	// KeyboxID is set with PhaseCompletedRecovery.
	KeyboxID string
}

// CreatedPendingKeybundles returns the first progress marker of an attempt.
func CreatedPendingKeybundles(bundles *PendingKeybundles) Progress {
	return Progress{
		Phase:      PhaseCreatedPendingKeybundles,
		Keybundles: bundles,
	}
}

// AttemptingCompletion returns the marker written before completion is sent.
func AttemptingCompletion(sealedCsek, sealedSsek []byte) Progress {
	return Progress{
		Phase:      PhaseAttemptingCompletion,
		SealedCsek: sealedCsek,
		SealedSsek: sealedSsek,
	}
}

// CreatedSpendingKeysProgress returns the marker carrying the server keyset.
func CreatedSpendingKeysProgress(keyset *SpendingKeyset) Progress {
	return Progress{
		Phase:  PhaseCreatedSpendingKeys,
		Keyset: keyset,
	}
}

// CompletedRecoveryProgress returns the final marker.
func CompletedRecoveryProgress(keyboxID string) Progress {
	return Progress{
		Phase:    PhaseCompletedRecovery,
		KeyboxID: keyboxID,
	}
}

// Reached returns a marker for phases that carry no artifacts.
func Reached(phase Phase) Progress {
	return Progress{Phase: phase}
}

// validate checks that the marker carries its phase's artifacts.
func (p Progress) validate() error {
	switch p.Phase {
	case PhaseCreatedPendingKeybundles:
		if p.Keybundles == nil {
			return fmt.Errorf("%w: keybundles", ErrMissingArtifacts)
		}

		return p.Keybundles.validate()

	case PhaseAttemptingCompletion:
		if len(p.SealedCsek) == 0 || len(p.SealedSsek) == 0 {
			return fmt.Errorf("%w: sealed csek/ssek",
				ErrMissingArtifacts)
		}

	case PhaseCreatedSpendingKeys:
		if p.Keyset == nil || p.Keyset.ServerSpendingKey == nil {
			return fmt.Errorf("%w: server keyset",
				ErrMissingArtifacts)
		}

	case PhaseCompletedRecovery:
		if p.KeyboxID == "" {
			return fmt.Errorf("%w: keybox id", ErrMissingArtifacts)
		}

	default:
		if !p.Phase.Valid() {
			return fmt.Errorf("unknown recovery phase %v", p.Phase)
		}
	}

	return nil
}

// LocalRecoveryAttempt is the accumulated local progress of one recovery.
// Reaching a phase implies every artifact of the earlier phases is present.
type LocalRecoveryAttempt struct {
	// AccountID is the account being recovered.
	AccountID f8e.AccountID

	// Phase is the latest phase reached.
	Phase Phase

	// Keybundles are the destination keys.
	Keybundles PendingKeybundles

	// SealedCsek and SealedSsek are the hardware sealed keys written
	// when completion was first attempted.
	SealedCsek []byte
	SealedSsek []byte

	// Keyset is set from PhaseCreatedSpendingKeys on.
	Keyset *SpendingKeyset

	// KeyboxID is set at PhaseCompletedRecovery.
	KeyboxID string
}

// LostFactor returns the factor being replaced.
func (a *LocalRecoveryAttempt) LostFactor() f8e.PhysicalFactor {
	return a.Keybundles.LostFactor
}

// Copy returns a copy that shares no slices with a.
func (a *LocalRecoveryAttempt) Copy() *LocalRecoveryAttempt {
	c := *a
	c.SealedCsek = append([]byte(nil), a.SealedCsek...)
	c.SealedSsek = append([]byte(nil), a.SealedSsek...)
	if a.Keyset != nil {
		keyset := *a.Keyset
		c.Keyset = &keyset
	}

	return &c
}

// ApplyProgress advances current (nil when no attempt exists) to progress and
// returns the new attempt. Writing the stored phase again is an idempotent
// retry and overwrites that phase's artifacts. Stores call this inside the
// transaction that persists the result.
func ApplyProgress(accountID f8e.AccountID, current *LocalRecoveryAttempt,
	progress Progress) (*LocalRecoveryAttempt, error) {

	if err := progress.validate(); err != nil {
		return nil, err
	}

	if current == nil {
		if progress.Phase != PhaseCreatedPendingKeybundles {
			return nil, fmt.Errorf("%w: %v with no attempt",
				ErrPhaseOutOfOrder, progress.Phase)
		}

		return &LocalRecoveryAttempt{
			AccountID:  accountID,
			Phase:      progress.Phase,
			Keybundles: *progress.Keybundles,
		}, nil
	}

	if current.AccountID != accountID {
		return nil, fmt.Errorf("attempt belongs to account %v, not %v",
			current.AccountID, accountID)
	}

	if progress.Phase == PhaseCreatedPendingKeybundles {
		return nil, ErrAttemptExists
	}

	next := current.Copy()

	switch {
	case progress.Phase == current.Phase:
	case progress.Phase.predecessor() == current.Phase:

	case progress.Phase.depth() <= current.Phase.depth():
		return nil, fmt.Errorf("%w: %v after %v", ErrPhaseRegression,
			progress.Phase, current.Phase)

	default:
		return nil, fmt.Errorf("%w: %v after %v", ErrPhaseOutOfOrder,
			progress.Phase, current.Phase)
	}

	next.Phase = progress.Phase

	switch progress.Phase {
	case PhaseAttemptingCompletion:
		next.SealedCsek = append([]byte(nil), progress.SealedCsek...)
		next.SealedSsek = append([]byte(nil), progress.SealedSsek...)

	case PhaseCreatedSpendingKeys:
		keyset := *progress.Keyset
		next.Keyset = &keyset

	case PhaseCompletedRecovery:
		next.KeyboxID = progress.KeyboxID
	}

	return next, nil
}
