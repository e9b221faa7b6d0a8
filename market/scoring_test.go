package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/types"
)

func TestSelectionWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.NoError(t, SelectionWeights{Capability: 0.25, Availability: 0.25,
		ResponseTime: 0.25, Confidence: 0.25}.Validate())
	assert.Error(t, SelectionWeights{Capability: 0.5, Availability: 0.5,
		ResponseTime: 0.5}.Validate())
	assert.Error(t, SelectionWeights{}.Validate())
}

func TestNormalizeResponseTime(t *testing.T) {
	assert.InDelta(t, 0.5, NormalizeResponseTime(900, 900), 1e-9)
	assert.InDelta(t, 0.9, NormalizeResponseTime(100, 900), 1e-9)
	assert.InDelta(t, 1.0, NormalizeResponseTime(0, 900), 1e-9)
	// Monotonically decreasing in the commitment.
	prev := 1.1
	for _, commit := range []int64{0, 10, 60, 300, 3600, 86400} {
		norm := NormalizeResponseTime(commit, 300)
		assert.Less(t, norm, prev)
		prev = norm
	}
	// Negative commitments clamp to instant.
	assert.InDelta(t, 1.0, NormalizeResponseTime(-5, 300), 1e-9)
}

func TestRankBids_WeightedComposite(t *testing.T) {
	bids := []types.Bid{
		{ResolverID: "a", CapabilityMatchScore: 0.9, AvailabilityScore: 0.5,
			ResponseTimeCommitmentSeconds: 900, ConfidenceScore: 0.8},
		{ResolverID: "b", CapabilityMatchScore: 0.6, AvailabilityScore: 0.9,
			ResponseTimeCommitmentSeconds: 100, ConfidenceScore: 0.5},
	}
	ranked := RankBids(bids, DefaultWeights(), 900)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].Bid.ResolverID)
	assert.InDelta(t, 0.74, ranked[0].Score, 1e-9)
	assert.Equal(t, "a", ranked[1].Bid.ResolverID)
	assert.InDelta(t, 0.69, ranked[1].Score, 1e-9)
}

func TestRankBids_TieBreakChain(t *testing.T) {
	// Identical component scores: shorter response commitment wins.
	base := types.Bid{CapabilityMatchScore: 0.8, AvailabilityScore: 0.8, ConfidenceScore: 0.8}
	slow, fast := base, base
	slow.ResolverID, slow.ResponseTimeCommitmentSeconds = "slow", 600
	fast.ResolverID, fast.ResponseTimeCommitmentSeconds = "fast", 60

	// Zero weight on response time keeps the scores exactly tied.
	weights := SelectionWeights{Capability: 0.5, Availability: 0.3, ResponseTime: 0, Confidence: 0.2}
	ranked := RankBids([]types.Bid{slow, fast}, weights, 300)
	assert.Equal(t, "fast", ranked[0].Bid.ResolverID)

	// Same commitment too: lexicographically smaller resolver id wins.
	twinA, twinB := base, base
	twinA.ResolverID, twinA.ResponseTimeCommitmentSeconds = "resolver-b", 60
	twinB.ResolverID, twinB.ResponseTimeCommitmentSeconds = "resolver-a", 60
	ranked = RankBids([]types.Bid{twinA, twinB}, weights, 300)
	assert.Equal(t, "resolver-a", ranked[0].Bid.ResolverID)
}

func TestCapabilityMatchScore(t *testing.T) {
	offered := []string{"triage", "restart", "approval"}
	assert.Equal(t, 1.0, CapabilityMatchScore(nil, offered))
	assert.Equal(t, 1.0, CapabilityMatchScore([]string{"triage"}, offered))
	assert.Equal(t, 0.5, CapabilityMatchScore([]string{"triage", "rollback"}, offered))
	assert.Equal(t, 0.0, CapabilityMatchScore([]string{"rollback"}, offered))
	assert.Equal(t, 0.0, CapabilityMatchScore([]string{"rollback"}, nil))
}

func TestBreakerSet_TripAndCooldown(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	set := NewBreakerSet(3, 0.2, 30*time.Minute, fake)

	assert.True(t, set.Allowed("agent-1"))
	assert.Equal(t, BreakerClosed, set.StateOf("agent-1"))

	assert.False(t, set.RecordFailure("agent-1"))
	assert.False(t, set.RecordFailure("agent-1"))
	assert.True(t, set.RecordFailure("agent-1"))
	assert.Equal(t, BreakerOpen, set.StateOf("agent-1"))
	assert.False(t, set.Allowed("agent-1"))

	// After the cooldown the breaker admits one probe.
	fake.Advance(31 * time.Minute)
	assert.True(t, set.Allowed("agent-1"))
	assert.Equal(t, BreakerHalfOpen, set.StateOf("agent-1"))

	// A successful probe closes it and resets the count.
	set.RecordSuccess("agent-1")
	assert.Equal(t, BreakerClosed, set.StateOf("agent-1"))
	assert.False(t, set.RecordFailure("agent-1"))
}

func TestBreakerSet_TrustDrop(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	set := NewBreakerSet(3, 0.2, 30*time.Minute, fake)

	assert.False(t, set.CheckTrustDrop("human-1", 0.6))
	assert.True(t, set.Allowed("human-1"))

	assert.True(t, set.CheckTrustDrop("human-1", 0.1))
	assert.False(t, set.Allowed("human-1"))
}
