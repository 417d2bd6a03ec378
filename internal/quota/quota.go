// Package quota decides whether a submitted clip may be processed, based on
// its reported duration and the requester's privilege tier.
package quota

import (
	"errors"
	"fmt"
	"math"
)

// ErrQuotaExceeded is returned (wrapped) when a clip is rejected.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Guard is a pure admission policy. The zero value rejects every clip longer
// than zero seconds for non-privileged users.
type Guard struct {
	// ThresholdSeconds is the longest accepted clip for non-privileged users.
	ThresholdSeconds int
	// CostPerSecond is the monetary rate used to estimate the cost of a
	// rejected clip.
	CostPerSecond float64
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Accepted bool
	// EstimatedCost is set on rejection, rounded to cents.
	EstimatedCost float64
}

// NewGuard returns a Guard with the given threshold and rate.
func NewGuard(thresholdSeconds int, costPerSecond float64) Guard {
	return Guard{ThresholdSeconds: thresholdSeconds, CostPerSecond: costPerSecond}
}

// Evaluate returns Accept for privileged users and for clips no longer than
// the threshold. Anything longer is rejected with an estimated cost.
func (g Guard) Evaluate(userID string, durationSeconds int, privileged bool) Decision {
	if privileged || durationSeconds <= g.ThresholdSeconds {
		return Decision{Accepted: true}
	}
	return Decision{EstimatedCost: g.EstimateCost(durationSeconds)}
}

// EstimateCost prices a clip at CostPerSecond, rounded half-up to cents.
// Any positive raw cost is at least one cent.
func (g Guard) EstimateCost(durationSeconds int) float64 {
	raw := float64(durationSeconds) * g.CostPerSecond
	if raw <= 0 {
		return 0
	}
	return math.Max(math.Round(raw*100)/100, 0.01)
}

// Err returns nil for an accepted decision and an error wrapping
// ErrQuotaExceeded otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return fmt.Errorf("%w: estimated cost $%.2f", ErrQuotaExceeded, d.EstimatedCost)
}
