package recovery

import (
	"fmt"

	"github.com/lightningnetwork/keyrecovery/f8e"
)

// Recovery is the reconciled recovery state of an account. It is derived from
// the local attempt and the cached server record and never persisted. Callers
// switch on the concrete type:
//
//	Loading
//	NoActiveRecovery
//	SomeoneElseIsRecovering
//	NoLongerRecovering
//	StillRecovering
//	  ServerDependentRecovery: InitiatedRecovery
//	  ServerIndependentRecovery: MaybeNoLongerRecovering, RotatedAuthKeys,
//	    CreatedSpendingKeys, ActivatedSpendingKeys,
//	    UploadedDescriptorBackups, DdkBackedUp, BackedUpToCloud,
//	    SweepingFunds, CompletedRecovery
type Recovery interface {
	fmt.Stringer

	// rank orders variants along a recovery. A later local phase never
	// reconciles to a lower rank for the same server record.
	rank() int
}

// StillRecovering is a recovery this device initiated and has not abandoned.
type StillRecovering interface {
	Recovery

	// Attempt returns the local attempt backing the state.
	Attempt() *LocalRecoveryAttempt
}

// ServerDependentRecovery is a recovery whose progress is still decided by
// the server record.
type ServerDependentRecovery interface {
	StillRecovering

	// ServerRecovery returns the matching server record.
	ServerRecovery() *ServerRecovery
}

// ServerIndependentRecovery is a recovery past the irreversible boundary.
// Only local progress decides these states.
type ServerIndependentRecovery interface {
	StillRecovering

	serverIndependent()
}

// Loading means the inputs have not been read yet.
type Loading struct{}

func (Loading) String() string { return "Loading" }
func (Loading) rank() int      { return -1 }

// NoActiveRecovery means no recovery is in flight.
type NoActiveRecovery struct{}

func (NoActiveRecovery) String() string { return "NoActiveRecovery" }
func (NoActiveRecovery) rank() int      { return 0 }

// SomeoneElseIsRecovering means the server has a recovery that this device
// did not initiate.
type SomeoneElseIsRecovering struct {
	LostFactor f8e.PhysicalFactor
}

func (s SomeoneElseIsRecovering) String() string {
	return fmt.Sprintf("SomeoneElseIsRecovering(%v)", s.LostFactor)
}

func (SomeoneElseIsRecovering) rank() int { return 1 }

// NoLongerRecovering means the local attempt was cancelled on the server
// before it became irreversible. CompletionAttempted is set when the
// cancellation was only discovered while attempting completion.
type NoLongerRecovering struct {
	LostFactor          f8e.PhysicalFactor
	CompletionAttempted bool
}

func (n NoLongerRecovering) String() string {
	return fmt.Sprintf("NoLongerRecovering(%v)", n.LostFactor)
}

func (n NoLongerRecovering) rank() int {
	if n.CompletionAttempted {
		return rankOfPhase(PhaseRotatedAuthKeys)
	}

	return 1
}

// InitiatedRecovery means the local keybundles match the active server
// record. Once AttemptingCompletion was written the sealed CSEK/SSEK are
// carried so completion can be retried with the same keys.
type InitiatedRecovery struct {
	attempt *LocalRecoveryAttempt
	server  *ServerRecovery
}

func (i *InitiatedRecovery) String() string {
	return fmt.Sprintf("InitiatedRecovery(%v)", i.attempt.LostFactor())
}

func (*InitiatedRecovery) rank() int { return 2 }

// Attempt returns the local attempt.
func (i *InitiatedRecovery) Attempt() *LocalRecoveryAttempt {
	return i.attempt
}

// ServerRecovery returns the matching server record.
func (i *InitiatedRecovery) ServerRecovery() *ServerRecovery {
	return i.server
}

// CompletionStarted reports whether sealed CSEK/SSEK exist, meaning
// completion must reuse them.
func (i *InitiatedRecovery) CompletionStarted() bool {
	return i.attempt.Phase == PhaseAttemptingCompletion
}

// serverIndependentState is embedded by every server independent variant.
type serverIndependentState struct {
	attempt *LocalRecoveryAttempt
}

// Attempt returns the local attempt.
func (s *serverIndependentState) Attempt() *LocalRecoveryAttempt {
	return s.attempt
}

func (s *serverIndependentState) serverIndependent() {}

// MaybeNoLongerRecovering means completion may or may not have landed before
// the server record disappeared. Manager.ResolveMaybeNoLongerRecovering
// settles it.
type MaybeNoLongerRecovering struct{ serverIndependentState }

func (*MaybeNoLongerRecovering) String() string {
	return "MaybeNoLongerRecovering"
}

func (*MaybeNoLongerRecovering) rank() int { return 3 }

// RotatedAuthKeys means the server accepted completion.
type RotatedAuthKeys struct{ serverIndependentState }

func (*RotatedAuthKeys) String() string { return "RotatedAuthKeys" }
func (*RotatedAuthKeys) rank() int {
	return rankOfPhase(PhaseRotatedAuthKeys)
}

// CreatedSpendingKeys means the server keyset exists.
type CreatedSpendingKeys struct{ serverIndependentState }

func (*CreatedSpendingKeys) String() string { return "CreatedSpendingKeys" }
func (*CreatedSpendingKeys) rank() int {
	return rankOfPhase(PhaseCreatedSpendingKeys)
}

// Keyset returns the server keyset.
func (c *CreatedSpendingKeys) Keyset() *SpendingKeyset {
	return c.attempt.Keyset
}

// ActivatedSpendingKeys means the new keyset is active.
type ActivatedSpendingKeys struct{ serverIndependentState }

func (*ActivatedSpendingKeys) String() string { return "ActivatedSpendingKeys" }
func (*ActivatedSpendingKeys) rank() int {
	return rankOfPhase(PhaseActivatedSpendingKeys)
}

// UploadedDescriptorBackups means descriptors were backed up.
type UploadedDescriptorBackups struct{ serverIndependentState }

func (*UploadedDescriptorBackups) String() string {
	return "UploadedDescriptorBackups"
}

func (*UploadedDescriptorBackups) rank() int {
	return rankOfPhase(PhaseUploadedDescriptorBackups)
}

// DdkBackedUp means the delegated decryption key was backed up.
type DdkBackedUp struct{ serverIndependentState }

func (*DdkBackedUp) String() string { return "DdkBackedUp" }
func (*DdkBackedUp) rank() int {
	return rankOfPhase(PhaseDdkBackedUp)
}

// BackedUpToCloud means the cloud backup was rewritten.
type BackedUpToCloud struct{ serverIndependentState }

func (*BackedUpToCloud) String() string { return "BackedUpToCloud" }
func (*BackedUpToCloud) rank() int {
	return rankOfPhase(PhaseBackedUpToCloud)
}

// SweepingFunds means funds are moving to the new keyset.
type SweepingFunds struct{ serverIndependentState }

func (*SweepingFunds) String() string { return "SweepingFunds" }
func (*SweepingFunds) rank() int {
	return rankOfPhase(PhaseSweepingFunds)
}

// CompletedRecovery means the recovery is done. Clear may be called.
type CompletedRecovery struct{ serverIndependentState }

func (*CompletedRecovery) String() string { return "CompletedRecovery" }
func (*CompletedRecovery) rank() int {
	return rankOfPhase(PhaseCompletedRecovery)
}

// KeyboxID returns the activated keybox id.
func (c *CompletedRecovery) KeyboxID() string {
	return c.attempt.KeyboxID
}

// rankOfPhase ranks the server independent phases after
// MaybeNoLongerRecovering.
func rankOfPhase(p Phase) int {
	return p.depth() + 1
}
