package raid

import (
	"context"
	"time"

	"github.com/rallyhouse/rally/pkg/models"
)

// VerdictStatus is the outcome of one external verification call.
type VerdictStatus string

const (
	// VerdictVerified confirms the action happened on the platform.
	VerdictVerified VerdictStatus = "verified"

	// VerdictNotYet means the platform has not (yet) shown the action.
	// Retriable; the monitor schedules another attempt.
	VerdictNotYet VerdictStatus = "not_yet"

	// VerdictRejected is terminal for the action: the platform says it
	// did not happen.
	VerdictRejected VerdictStatus = "rejected"
)

// Verdict is the verification adapter's answer for one action.
type Verdict struct {
	Status VerdictStatus

	// PointsOverride, when set, replaces the objective's points_per_action
	// for this action.
	PointsOverride *int
}

// Verifier confirms claimed engagement against the external platform. One
// implementation per platform; calls may block on network I/O and must
// honor the context.
type Verifier interface {
	VerifyAction(ctx context.Context, objectiveType models.ObjectiveType,
		target, participantRef string, submittedAt time.Time) (Verdict, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, objectiveType models.ObjectiveType,
	target, participantRef string, submittedAt time.Time) (Verdict, error)

// VerifyAction calls f.
func (f VerifierFunc) VerifyAction(ctx context.Context, objectiveType models.ObjectiveType,
	target, participantRef string, submittedAt time.Time) (Verdict, error) {
	return f(ctx, objectiveType, target, participantRef, submittedAt)
}
