package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/trustcore/types"
)

func threeLevelPolicy() types.EscalationPolicy {
	return types.EscalationPolicy{
		WorkflowID: "wf-1",
		Levels: []types.EscalationLevel{
			{
				Ordinal:       0,
				ResolverGroup: "l1-agents",
				Triggers: []types.TriggerCondition{
					{Kind: types.TriggerConfidence, ConfidenceFloor: 0.5},
					{Kind: types.TriggerSeverity, MinSeverity: types.SeverityMedium},
				},
				RequiredCapabilities: []string{"triage"},
				TimeoutSeconds:       300,
			},
			{
				Ordinal:       1,
				ResolverGroup: "l2-operators",
				Triggers: []types.TriggerCondition{
					{Kind: types.TriggerSeverity, MinSeverity: types.SeverityHigh},
					{Kind: types.TriggerTime},
				},
				RequiredCapabilities: []string{"triage", "restart"},
				TimeoutSeconds:       600,
			},
			{
				Ordinal:       2,
				ResolverGroup: "l3-oncall",
				Triggers: []types.TriggerCondition{
					{Kind: types.TriggerContext, ContextFlags: []string{"production_outage"}},
					{Kind: types.TriggerTime},
				},
				RequiredCapabilities: []string{"approval"},
				TimeoutSeconds:       900,
			},
		},
	}
}

func TestValidatePolicy(t *testing.T) {
	assert.NoError(t, ValidatePolicy(threeLevelPolicy()))

	t.Run("no levels", func(t *testing.T) {
		assert.Error(t, ValidatePolicy(types.EscalationPolicy{WorkflowID: "wf-1"}))
	})

	t.Run("non-increasing ordinals", func(t *testing.T) {
		p := threeLevelPolicy()
		p.Levels[1].Ordinal = 0
		assert.Error(t, ValidatePolicy(p))
	})

	t.Run("zero timeout", func(t *testing.T) {
		p := threeLevelPolicy()
		p.Levels[2].TimeoutSeconds = 0
		assert.ErrorIs(t, ValidatePolicy(p), ErrTimerConfiguration)
	})

	t.Run("negative timeout", func(t *testing.T) {
		p := threeLevelPolicy()
		p.Levels[0].TimeoutSeconds = -30
		assert.ErrorIs(t, ValidatePolicy(p), ErrTimerConfiguration)
	})

	t.Run("level without triggers", func(t *testing.T) {
		p := threeLevelPolicy()
		p.Levels[0].Triggers = nil
		assert.Error(t, ValidatePolicy(p))
	})

	t.Run("unknown trigger kind", func(t *testing.T) {
		p := threeLevelPolicy()
		p.Levels[0].Triggers = append(p.Levels[0].Triggers,
			types.TriggerCondition{Kind: types.TriggerKind("phase_of_moon")})
		assert.Error(t, ValidatePolicy(p))
	})
}

func TestEvaluateTriggers_FirstLevelEntry(t *testing.T) {
	policy := threeLevelPolicy()

	t.Run("confidence floor fires", func(t *testing.T) {
		level, ok := EvaluateTriggers(policy, -1, types.RuntimeSignals{Confidence: 0.4})
		require.True(t, ok)
		assert.Equal(t, 0, level.Ordinal)
	})

	t.Run("severity fires", func(t *testing.T) {
		level, ok := EvaluateTriggers(policy, -1,
			types.RuntimeSignals{Confidence: 0.9, Severity: types.SeverityMedium})
		require.True(t, ok)
		assert.Equal(t, 0, level.Ordinal)
	})

	t.Run("nothing fires", func(t *testing.T) {
		_, ok := EvaluateTriggers(policy, -1,
			types.RuntimeSignals{Confidence: 0.9, Severity: types.SeverityLow})
		assert.False(t, ok)
	})
}

func TestEvaluateTriggers_ForwardOnly(t *testing.T) {
	policy := threeLevelPolicy()

	// Signals that would fire level 0 cannot re-enter it once level 1 is
	// current; with nothing at level 2 holding, no advance happens.
	sig := types.RuntimeSignals{Confidence: 0.1, Severity: types.SeverityMedium}
	_, ok := EvaluateTriggers(policy, 1, sig)
	assert.False(t, ok)

	// Past the last ordinal nothing can fire at all.
	_, ok = EvaluateTriggers(policy, 2, types.RuntimeSignals{
		Severity: types.SeverityCritical,
		Flags:    []string{"production_outage"},
	})
	assert.False(t, ok)
}

func TestEvaluateTriggers_LowestForwardLevelWins(t *testing.T) {
	policy := threeLevelPolicy()

	// High severity satisfies level 0 (>= medium) and level 1 (>= high);
	// the lowest forward level is entered.
	level, ok := EvaluateTriggers(policy, -1,
		types.RuntimeSignals{Confidence: 0.9, Severity: types.SeverityHigh})
	require.True(t, ok)
	assert.Equal(t, 0, level.Ordinal)

	// From level 0 the same signals advance to level 1.
	level, ok = EvaluateTriggers(policy, 0,
		types.RuntimeSignals{Confidence: 0.9, Severity: types.SeverityHigh})
	require.True(t, ok)
	assert.Equal(t, 1, level.Ordinal)
}

func TestEvaluateTriggers_ContextFlags(t *testing.T) {
	policy := threeLevelPolicy()

	level, ok := EvaluateTriggers(policy, 1, types.RuntimeSignals{
		Confidence: 0.9,
		Flags:      []string{"production_outage", "customer_facing"},
	})
	require.True(t, ok)
	assert.Equal(t, 2, level.Ordinal)

	// All listed flags must be present.
	_, ok = EvaluateTriggers(policy, 1, types.RuntimeSignals{
		Confidence: 0.9,
		Flags:      []string{"customer_facing"},
	})
	assert.False(t, ok)
}

func TestEvaluateTriggers_TimeInLevel(t *testing.T) {
	policy := threeLevelPolicy()

	// Level 1's time trigger uses level 1's own timeout (600s).
	_, ok := EvaluateTriggers(policy, 0, types.RuntimeSignals{
		Confidence:     0.9,
		ElapsedInLevel: 599 * time.Second,
	})
	assert.False(t, ok)

	level, ok := EvaluateTriggers(policy, 0, types.RuntimeSignals{
		Confidence:     0.9,
		ElapsedInLevel: 600 * time.Second,
	})
	require.True(t, ok)
	assert.Equal(t, 1, level.Ordinal)
}

func TestEvaluateTriggers_EmptySeveritySignalNeverFires(t *testing.T) {
	policy := threeLevelPolicy()
	_, ok := EvaluateTriggers(policy, -1, types.RuntimeSignals{Confidence: 0.9})
	assert.False(t, ok)
}

func TestLevelLookups(t *testing.T) {
	policy := threeLevelPolicy()

	next, ok := levelAfter(policy, 0)
	require.True(t, ok)
	assert.Equal(t, 1, next.Ordinal)

	_, ok = levelAfter(policy, 2)
	assert.False(t, ok)

	level, ok := levelByOrdinal(policy, 2)
	require.True(t, ok)
	assert.Equal(t, "l3-oncall", level.ResolverGroup)

	_, ok = levelByOrdinal(policy, 7)
	assert.False(t, ok)
}
