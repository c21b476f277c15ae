package domain

import "fmt"

// Outcome is the terminal state of a convergence run. Exactly one outcome
// is produced per run.
type Outcome string

const (
	// OutcomeConverged means the position ended within tolerance of target.
	OutcomeConverged Outcome = "CONVERGED"

	// OutcomeGaveUp means the iteration budget was spent (or the run was
	// cancelled) before reaching tolerance. Progress made so far stands.
	OutcomeGaveUp Outcome = "GAVE_UP"

	// OutcomeAborted means the venue was unreachable: price or balance
	// unavailable on consecutive reads. Distinct from GaveUp so callers can
	// tell "converging slowly" from "venue is down".
	OutcomeAborted Outcome = "ABORTED"
)

// ConvergenceResult reports how a run ended. LastUSD always carries the last
// observed position value, whatever the outcome, so the caller can reconcile
// actual vs. intended state; partial progress is never discarded silently.
type ConvergenceResult struct {
	Token      string
	Outcome    Outcome
	LastUSD    float64 // last observed position value
	TargetUSD  float64
	Iterations int
	Reason     string // populated for GaveUp
	Err        error  // populated for Aborted
}

// Converged reports whether the run reached tolerance.
func (r ConvergenceResult) Converged() bool {
	return r.Outcome == OutcomeConverged
}

func (r ConvergenceResult) String() string {
	switch r.Outcome {
	case OutcomeConverged:
		return fmt.Sprintf("%s converged at $%.2f (target $%.2f, %d iterations)",
			shortMint(r.Token), r.LastUSD, r.TargetUSD, r.Iterations)
	case OutcomeGaveUp:
		return fmt.Sprintf("%s gave up at $%.2f (target $%.2f): %s",
			shortMint(r.Token), r.LastUSD, r.TargetUSD, r.Reason)
	default:
		return fmt.Sprintf("%s aborted at $%.2f (target $%.2f): %v",
			shortMint(r.Token), r.LastUSD, r.TargetUSD, r.Err)
	}
}

// shortMint truncates a mint address for log lines.
func shortMint(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
