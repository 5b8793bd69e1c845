// Package intelligence holds the engine's heuristics: the forgetting curve
// applied to learned patterns and the conversation summarizer.
package intelligence

import (
	"math"
	"time"
)

// DefaultDecayRate is the per-day decay rate used when none is configured.
const DefaultDecayRate = 0.05

// ForgettingCurve models how confidence fades when a pattern is not observed.
//
// Retention follows R = e^(-decayRate * days), where days is the time since
// the pattern was last seen. Confidence is multiplied by R when read, so the
// stored value stays untouched and decay is reversible by a new observation.
//
// Example usage:
//
//	curve := NewForgettingCurve(0.05)
//	effective := curve.Decay(p.Confidence, p.LastSeen, time.Now())
type ForgettingCurve struct {
	// decayRate is the per-day exponential decay rate. Typical range: 0.01-0.2
	decayRate float64
}

// NewForgettingCurve creates a forgetting curve.
//
// A non-positive rate falls back to DefaultDecayRate.
func NewForgettingCurve(decayRate float64) *ForgettingCurve {
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}
	return &ForgettingCurve{decayRate: decayRate}
}

// Retention returns the retention strength in [0, 1] for something last seen
// at lastSeen. A lastSeen in the future counts as just seen.
func (c *ForgettingCurve) Retention(lastSeen, now time.Time) float64 {
	elapsed := now.Sub(lastSeen)
	if elapsed <= 0 {
		return 1.0
	}

	retention := math.Exp(-c.decayRate * elapsed.Hours() / 24.0)
	if retention > 1.0 {
		return 1.0
	}
	if retention < 0.0 {
		return 0.0
	}
	return retention
}

// Decay applies the curve to a stored confidence value.
func (c *ForgettingCurve) Decay(confidence float64, lastSeen, now time.Time) float64 {
	return confidence * c.Retention(lastSeen, now)
}

// HalfLife returns the time after which retention drops to 0.5.
func (c *ForgettingCurve) HalfLife() time.Duration {
	days := math.Ln2 / c.decayRate
	return time.Duration(days * 24 * float64(time.Hour))
}
