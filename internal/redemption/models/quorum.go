package models

// QuorumOutcome is the result of re-evaluating the threshold after one sign-off.
type QuorumOutcome struct {
	ApprovedCount int
	Required      int
	// Reached is true only on the sign-off whose commit first brings the
	// count to the threshold while the request is still Pending.
	Reached bool
}

// EvaluateQuorum is the single place the threshold is computed. It is pure so
// the exactly-once crossing can be tested without a store.
func EvaluateQuorum(countBefore, countAfter, required int, status Status) QuorumOutcome {
	return QuorumOutcome{
		ApprovedCount: countAfter,
		Required:      required,
		Reached:       status == StatusPending && countBefore < required && countAfter >= required,
	}
}
