package domain

import (
	"fmt"
	"time"
)

// LimitMode selects how PnL limits are expressed.
type LimitMode string

const (
	LimitModePercentage LimitMode = "PERCENTAGE"
	LimitModeAbsolute   LimitMode = "ABSOLUTE"
)

// LimitType identifies which side of the band was crossed.
type LimitType string

const (
	LimitTypeLoss LimitType = "LOSS"
	LimitTypeGain LimitType = "GAIN"
)

// RiskLimitConfig bounds portfolio PnL over a rolling lookback window.
// Loaded once per monitor lifetime and passed by value; the monitor never
// mutates it at runtime.
type RiskLimitConfig struct {
	Mode LimitMode

	// Interpreted in USD for LimitModeAbsolute, in percent (e.g. 12 = 12%)
	// for LimitModePercentage. Both must be positive.
	LossLimit float64
	GainLimit float64

	LookbackHours float64

	// MinimumBalanceUSD is an absolute floor: current value below it forces
	// a breach regardless of the lookback comparison. Zero disables it.
	MinimumBalanceUSD float64
}

// Default risk monitor settings.
const (
	DefaultLookbackHours = 12.0
	DefaultTickInterval  = 5 * time.Minute
)

// Validate checks the config invariants.
func (c RiskLimitConfig) Validate() error {
	switch c.Mode {
	case LimitModePercentage, LimitModeAbsolute:
	default:
		return fmt.Errorf("unknown limit mode %q", c.Mode)
	}
	if c.LossLimit <= 0 || c.GainLimit <= 0 {
		return fmt.Errorf("loss and gain limits must be positive, got %.2f / %.2f", c.LossLimit, c.GainLimit)
	}
	if c.LookbackHours <= 0 {
		return fmt.Errorf("lookback hours must be positive, got %.2f", c.LookbackHours)
	}
	return nil
}

// Lookback returns the lookback window as a duration.
func (c RiskLimitConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours * float64(time.Hour))
}

// Breached evaluates current against baseline under this config and returns
// the crossed limit, if any. Loss and gain bands are mirrored: delta at or
// beyond either edge is a breach.
func (c RiskLimitConfig) Breached(baseline, current float64) (LimitType, bool) {
	var delta float64
	if c.Mode == LimitModePercentage {
		if baseline == 0 {
			return "", false
		}
		delta = (current - baseline) / baseline * 100
	} else {
		delta = current - baseline
	}

	switch {
	case delta <= -c.LossLimit:
		return LimitTypeLoss, true
	case delta >= c.GainLimit:
		return LimitTypeGain, true
	}
	return "", false
}
