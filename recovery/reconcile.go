package recovery

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Reconcile projects the local attempt and the cached server record into the
// account's Recovery state. It performs no I/O.
func Reconcile(local fn.Option[LocalRecoveryAttempt],
	server fn.Option[ServerRecovery]) Recovery {

	if local.IsNone() {
		someoneElse := fn.MapOption(func(s ServerRecovery) Recovery {
			return SomeoneElseIsRecovering{LostFactor: s.LostFactor}
		})

		return someoneElse(server).UnwrapOr(NoActiveRecovery{})
	}

	stored := local.UnsafeFromSome()
	attempt := stored.Copy()

	var record *ServerRecovery
	server.WhenSome(func(s ServerRecovery) {
		record = &s
	})

	switch attempt.Phase {
	case PhaseCreatedPendingKeybundles:
		switch {
		case record == nil:
			return NoLongerRecovering{
				LostFactor: attempt.LostFactor(),
			}

		case record.Matches(attempt):
			return &InitiatedRecovery{
				attempt: attempt,
				server:  record,
			}

		default:
			return SomeoneElseIsRecovering{
				LostFactor: record.LostFactor,
			}
		}

	case PhaseAttemptingCompletion:
		if record.Matches(attempt) {
			return &InitiatedRecovery{
				attempt: attempt,
				server:  record,
			}
		}

		return &MaybeNoLongerRecovering{
			serverIndependentState{attempt: attempt},
		}

	case PhaseCompletionAttemptFailedDueToServerCancellation:
		return NoLongerRecovering{
			LostFactor:          attempt.LostFactor(),
			CompletionAttempted: true,
		}
	}

	state := serverIndependentState{attempt: attempt}

	switch attempt.Phase {
	case PhaseRotatedAuthKeys:
		return &RotatedAuthKeys{state}
	case PhaseCreatedSpendingKeys:
		return &CreatedSpendingKeys{state}
	case PhaseActivatedSpendingKeys:
		return &ActivatedSpendingKeys{state}
	case PhaseUploadedDescriptorBackups:
		return &UploadedDescriptorBackups{state}
	case PhaseDdkBackedUp:
		return &DdkBackedUp{state}
	case PhaseBackedUpToCloud:
		return &BackedUpToCloud{state}
	case PhaseSweepingFunds:
		return &SweepingFunds{state}
	default:
		return &CompletedRecovery{state}
	}
}
