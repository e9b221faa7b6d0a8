// Package trust computes weighted composite trust scores and tracks
// agent-reported confidence. Score computation is pure and deterministic:
// identical factor sets always produce identical values, so callers may invoke
// it concurrently without locking.
package trust

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/industriverse/trustcore/types"
)

// WeightEpsilon is the tolerance on the sum-to-one weight invariant, shared
// with the bid market's selection weights.
const WeightEpsilon = 1e-6

// ErrInvalidWeighting is returned when a weight set does not sum to 1.0
// within WeightEpsilon. It is fatal at configuration load time.
var ErrInvalidWeighting = errors.New("weights must sum to 1.0")

// ValidateWeightSum checks the sum-to-one invariant over a set of weights.
func ValidateWeightSum(weights ...float64) error {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > WeightEpsilon {
		return fmt.Errorf("%w: got %.6f", ErrInvalidWeighting, sum)
	}
	return nil
}

// Compute derives a TrustScore from weighted factors.
//
// The factor list must be non-empty and its weights must sum to 1.0 within
// WeightEpsilon, otherwise ErrInvalidWeighting is returned. The value is the
// weighted sum of raw scores, clamped to [0,1] to absorb floating error.
func Compute(factors []types.TrustFactor) (types.TrustScore, error) {
	if len(factors) == 0 {
		return types.TrustScore{}, fmt.Errorf("%w: no factors supplied", ErrInvalidWeighting)
	}

	weights := make([]float64, len(factors))
	for i, f := range factors {
		weights[i] = f.Weight
	}
	if err := ValidateWeightSum(weights...); err != nil {
		return types.TrustScore{}, err
	}

	contributions := make(map[string]float64, len(factors))
	var value float64
	for _, f := range factors {
		c := f.RawScore * f.Weight
		contributions[f.Name] = c
		value += c
	}

	return types.TrustScore{
		Value:               clamp01(value),
		FactorContributions: contributions,
		ComputedAt:          time.Now(),
	}, nil
}

// Contributions expands factors into per-factor audit records (score, weight,
// resulting contribution), in input order.
func Contributions(factors []types.TrustFactor) []types.FactorContribution {
	out := make([]types.FactorContribution, len(factors))
	for i, f := range factors {
		out[i] = types.FactorContribution{
			Name:         f.Name,
			RawScore:     f.RawScore,
			Weight:       f.Weight,
			Contribution: f.RawScore * f.Weight,
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ─── Confidence ──────────────────────────────────────────────────────────────

// BandOf maps a confidence value onto its band.
func BandOf(value float64) types.ConfidenceBand {
	switch {
	case value >= 0.8:
		return types.BandHigh
	case value >= 0.5:
		return types.BandMedium
	case value >= 0.2:
		return types.BandLow
	default:
		return types.BandVeryLow
	}
}

// NewConfidence builds a ConfidenceLevel with its band derived from the value.
func NewConfidence(value float64) types.ConfidenceLevel {
	return types.ConfidenceLevel{Value: value, Band: BandOf(value)}
}

// ConfidenceTracker holds the agent-reported confidence for each task's
// current decision. Safe for concurrent use.
type ConfidenceTracker struct {
	mu     sync.RWMutex
	byTask map[string]types.ConfidenceLevel
}

// NewConfidenceTracker returns an empty tracker.
func NewConfidenceTracker() *ConfidenceTracker {
	return &ConfidenceTracker{byTask: make(map[string]types.ConfidenceLevel)}
}

// Report records the confidence for a task's current decision, replacing any
// prior value, and returns the banded level.
func (t *ConfidenceTracker) Report(taskID string, value float64) types.ConfidenceLevel {
	level := NewConfidence(value)
	t.mu.Lock()
	t.byTask[taskID] = level
	t.mu.Unlock()
	return level
}

// Current returns the last reported confidence for a task.
func (t *ConfidenceTracker) Current(taskID string) (types.ConfidenceLevel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	level, ok := t.byTask[taskID]
	return level, ok
}

// Forget drops the tracked confidence for a task, e.g. when the task
// completes.
func (t *ConfidenceTracker) Forget(taskID string) {
	t.mu.Lock()
	delete(t.byTask, taskID)
	t.mu.Unlock()
}

// ─── Historical Aggregation ──────────────────────────────────────────────────

// halfLifeDays controls recency weighting of outcome records: a record loses
// half its weight every 30 days.
const halfLifeDays = 30.0

// AggregateSuccessRate folds a resolver's outcome history into a single
// recency-weighted success rate. Recent records weigh more (30-day
// half-life). An empty history yields the neutral 0.5.
func AggregateSuccessRate(records []types.OutcomeRecord, now time.Time) float64 {
	if len(records) == 0 {
		return 0.5
	}

	var weightedSum, totalWeight float64
	for _, rec := range records {
		age := now.Sub(rec.RecordedAt).Hours() / 24.0
		if age < 0 {
			age = 0
		}
		weight := 1.0 / (1.0 + age/halfLifeDays)

		score := (rec.QualityScore + rec.TimelinessScore) / 2.0
		weightedSum += score * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.5
	}
	return clamp01(weightedSum / totalWeight)
}
