package domain

import "time"

// Verdict is the advisory function's binary answer to a limit breach.
type Verdict string

const (
	// VerdictOverride keeps positions open despite the breach.
	VerdictOverride Verdict = "OVERRIDE"

	// VerdictRespect lets the breach stand and liquidation proceed.
	// This is the fail-safe default for any advisory failure.
	VerdictRespect Verdict = "RESPECT_LIMIT"
)

// DefaultDecisionTTL is how long a cached advisory decision stays valid
// before the monitor must re-query.
const DefaultDecisionTTL = 15 * time.Minute

// OverrideDecision records one advisory verdict together with its own
// staleness: once CacheTTL has elapsed since Timestamp the decision must
// not be reused.
type OverrideDecision struct {
	LimitType  LimitType
	Verdict    Verdict
	Rationale  string
	Confidence float64 // 0..1
	Timestamp  time.Time
	CacheTTL   time.Duration
}

// Fresh reports whether the decision is still within its TTL at now.
func (d OverrideDecision) Fresh(now time.Time) bool {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return now.Sub(d.Timestamp) < ttl
}

// PositionContext is the caller-assembled summary of held positions and
// recent price context handed to the advisory function. Opaque to the
// execution core beyond pass-through.
type PositionContext struct {
	Positions []Position
	TotalUSD  float64
	Baseline  float64
	Notes     string // free-form market context, if the caller has any
}
