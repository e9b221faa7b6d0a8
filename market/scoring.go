package market

import (
	"fmt"
	"sort"

	"github.com/industriverse/trustcore/trust"
	"github.com/industriverse/trustcore/types"
)

// scoreEpsilon is the tolerance below which two bid scores count as tied and
// the tie-break chain applies.
const scoreEpsilon = 1e-9

// SelectionWeights are the multi-criteria weights of the bid score. Must sum
// to 1.0 (same invariant and tolerance as trust factor weights).
type SelectionWeights struct {
	Capability   float64 `json:"capability" yaml:"capability"`
	Availability float64 `json:"availability" yaml:"availability"`
	ResponseTime float64 `json:"response_time" yaml:"response_time"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
}

// Validate checks the sum-to-one invariant.
func (w SelectionWeights) Validate() error {
	if err := trust.ValidateWeightSum(w.Capability, w.Availability, w.ResponseTime, w.Confidence); err != nil {
		return fmt.Errorf("bid selection weights: %w", err)
	}
	return nil
}

// DefaultWeights favor capability fit over responsiveness.
func DefaultWeights() SelectionWeights {
	return SelectionWeights{
		Capability:   0.4,
		Availability: 0.3,
		ResponseTime: 0.2,
		Confidence:   0.1,
	}
}

// ScoredBid pairs a bid with its composite score and the normalized
// components, for transparency in audit events.
type ScoredBid struct {
	Bid   types.Bid `json:"bid"`
	Score float64   `json:"score"`

	CapabilityScore   float64 `json:"capability_score"`
	AvailabilityScore float64 `json:"availability_score"`
	ResponseTimeScore float64 `json:"response_time_score"`
	ConfidenceScore   float64 `json:"confidence_score"`
}

// NormalizeResponseTime maps a response-time commitment onto (0,1], higher
// for shorter commitments: ref/(ref+seconds). Monotonically decreasing in the
// commitment, independent of the other bids, so scores are stable under any
// bid mix.
func NormalizeResponseTime(commitmentSeconds, refSeconds int64) float64 {
	if commitmentSeconds < 0 {
		commitmentSeconds = 0
	}
	if refSeconds <= 0 {
		refSeconds = 300
	}
	return float64(refSeconds) / float64(refSeconds+commitmentSeconds)
}

// RankBids scores all bids and sorts them best-first. Ties on score (within
// scoreEpsilon) prefer the shorter response commitment, then the
// lexicographically smaller resolver id, so ranking is fully deterministic.
func RankBids(bids []types.Bid, weights SelectionWeights, refSeconds int64) []ScoredBid {
	scored := make([]ScoredBid, len(bids))
	for i, bid := range bids {
		respNorm := NormalizeResponseTime(bid.ResponseTimeCommitmentSeconds, refSeconds)
		scored[i] = ScoredBid{
			Bid: bid,
			Score: weights.Capability*bid.CapabilityMatchScore +
				weights.Availability*bid.AvailabilityScore +
				weights.ResponseTime*respNorm +
				weights.Confidence*bid.ConfidenceScore,
			CapabilityScore:   bid.CapabilityMatchScore,
			AvailabilityScore: bid.AvailabilityScore,
			ResponseTimeScore: respNorm,
			ConfidenceScore:   bid.ConfidenceScore,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		di := scored[i].Score - scored[j].Score
		if di > scoreEpsilon {
			return true
		}
		if di < -scoreEpsilon {
			return false
		}
		if scored[i].Bid.ResponseTimeCommitmentSeconds != scored[j].Bid.ResponseTimeCommitmentSeconds {
			return scored[i].Bid.ResponseTimeCommitmentSeconds < scored[j].Bid.ResponseTimeCommitmentSeconds
		}
		return scored[i].Bid.ResolverID < scored[j].Bid.ResolverID
	})
	return scored
}

// CapabilityMatchScore computes the overlap ratio between required and
// offered capabilities. An empty requirement matches fully.
func CapabilityMatchScore(required, offered []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	offeredSet := make(map[string]bool, len(offered))
	for _, c := range offered {
		offeredSet[c] = true
	}
	matched := 0
	for _, r := range required {
		if offeredSet[r] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
