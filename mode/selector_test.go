package mode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/events"
	"github.com/industriverse/trustcore/trust"
	"github.com/industriverse/trustcore/types"
)

var testThresholds = Thresholds{High: 0.8, Medium: 0.5, Low: 0.2}

func newTestSelector(t *testing.T, sink events.Sink) *Selector {
	t.Helper()
	if sink == nil {
		sink = events.Nop{}
	}
	s, err := NewSelector(Config{
		Thresholds: testThresholds,
		Sink:       sink,
		Clock:      clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return s
}

// singleFactor builds a context whose trust score equals the given value.
func singleFactor(taskID string, trustValue, confidence float64) types.ExecutionContext {
	return types.ExecutionContext{
		TaskID:     taskID,
		WorkflowID: "wf-1",
		Factors: []types.TrustFactor{
			{Name: "composite", RawScore: trustValue, Weight: 1.0},
		},
		Confidence: trust.NewConfidence(confidence),
	}
}

func TestThresholds_Validate(t *testing.T) {
	cases := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"valid", Thresholds{High: 0.8, Medium: 0.5, Low: 0.2}, false},
		{"unordered", Thresholds{High: 0.5, Medium: 0.8, Low: 0.2}, true},
		{"equal", Thresholds{High: 0.5, Medium: 0.5, Low: 0.2}, true},
		{"low at zero", Thresholds{High: 0.8, Medium: 0.5, Low: 0.0}, true},
		{"high at one", Thresholds{High: 1.0, Medium: 0.5, Low: 0.2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.th.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSelect_BandMapping(t *testing.T) {
	cases := []struct {
		trust float64
		want  types.ExecutionMode
	}{
		{0.95, types.ModeAutonomous},
		{0.8, types.ModeAutonomous},
		{0.6, types.ModeSupervised},
		{0.5, types.ModeSupervised},
		{0.48, types.ModeCollaborative}, // scenario A: 0.48 is Collaborative-eligible
		{0.2, types.ModeCollaborative},
		{0.1, types.ModeAssistive},
	}
	for _, tc := range cases {
		s := newTestSelector(t, nil)
		got, expl, err := s.Select(context.Background(), singleFactor("task", tc.trust, 0.9))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "trust %v", tc.trust)
		assert.Equal(t, tc.want, expl.Band)
	}
}

func TestSelect_MonotoneInTrust(t *testing.T) {
	// With confidence held constant, higher trust never yields a less
	// autonomous mode on a fresh task.
	prev := -1
	for _, trustValue := range []float64{0.05, 0.15, 0.25, 0.45, 0.55, 0.75, 0.85, 0.95} {
		s := newTestSelector(t, nil)
		got, _, err := s.Select(context.Background(), singleFactor("task", trustValue, 0.9))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Autonomy(), prev, "trust %v", trustValue)
		prev = got.Autonomy()
	}
}

func TestSelect_ConfidenceDemotesOneStep(t *testing.T) {
	s := newTestSelector(t, nil)

	// High trust but low confidence: Autonomous band demoted to Supervised.
	got, expl, err := s.Select(context.Background(), singleFactor("task", 0.9, 0.3))
	require.NoError(t, err)
	assert.Equal(t, types.ModeAutonomous, expl.Band)
	assert.Equal(t, types.ModeSupervised, got)
	assert.Contains(t, expl.Summary, "demotes one step")
}

func TestSelect_ZeroConfidenceFloorDisablesDemotion(t *testing.T) {
	floor := 0.0
	s, err := NewSelector(Config{
		Thresholds:      testThresholds,
		ConfidenceFloor: &floor,
		Sink:            events.Nop{},
		Clock:           clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	// Even rock-bottom confidence cannot fall below a floor of zero.
	selected, _, err := s.Select(context.Background(), singleFactor("task", 0.9, 0.01))
	require.NoError(t, err)
	assert.Equal(t, types.ModeAutonomous, selected)

	bad := 1.5
	_, err = NewSelector(Config{Thresholds: testThresholds, ConfidenceFloor: &bad})
	assert.Error(t, err)
}

func TestSelect_LowestBandDemotesToManual(t *testing.T) {
	s := newTestSelector(t, nil)
	got, _, err := s.Select(context.Background(), singleFactor("task", 0.05, 0.1))
	require.NoError(t, err)
	assert.Equal(t, types.ModeManual, got)
}

func TestSelect_AntiFlapping(t *testing.T) {
	// Oscillating trust [0.9, 0.4, 0.9, 0.4, 0.9] with dwell=2: the mode must
	// not return to Autonomous until two consecutive 0.9 readings occur.
	sink := events.NewBuffered()
	s := newTestSelector(t, sink)
	ctx := context.Background()

	sequence := []float64{0.9, 0.4, 0.9, 0.4, 0.9}
	want := []types.ExecutionMode{
		types.ModeAutonomous,    // initial adoption
		types.ModeCollaborative, // downgrade immediate
		types.ModeCollaborative, // upgrade held (streak 1)
		types.ModeCollaborative, // streak broken
		types.ModeCollaborative, // upgrade held (streak 1)
	}
	for i, trustValue := range sequence {
		got, _, err := s.Select(ctx, singleFactor("task", trustValue, 0.9))
		require.NoError(t, err)
		assert.Equal(t, want[i], got, "evaluation %d (trust %v)", i, trustValue)
	}

	// Second consecutive 0.9 completes the dwell window.
	got, _, err := s.Select(ctx, singleFactor("task", 0.9, 0.9))
	require.NoError(t, err)
	assert.Equal(t, types.ModeAutonomous, got)

	// Transitions: initial, downgrade, upgrade. No flapping in between.
	transitions := sink.ModeTransitions()
	require.Len(t, transitions, 3)
	assert.Equal(t, types.ModeAutonomous, transitions[0].To)
	assert.Equal(t, types.ModeCollaborative, transitions[1].To)
	assert.Equal(t, types.ModeAutonomous, transitions[2].To)
}

func TestSelect_TransitionCarriesContributingFactors(t *testing.T) {
	sink := events.NewBuffered()
	s := newTestSelector(t, sink)

	ec := types.ExecutionContext{
		TaskID: "task",
		Factors: []types.TrustFactor{
			{Name: "agentTrust", RawScore: 0.6, Weight: 0.4},
			{Name: "dataTrust", RawScore: 0.3, Weight: 0.3},
			{Name: "contextTrust", RawScore: 0.5, Weight: 0.2},
			{Name: "regulatory", RawScore: 0.5, Weight: 0.1},
		},
		Confidence: trust.NewConfidence(0.9),
	}
	got, _, err := s.Select(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, types.ModeCollaborative, got)

	transitions := sink.ModeTransitions()
	require.Len(t, transitions, 1)
	require.Len(t, transitions[0].ContributingFactors, 4)
	first := transitions[0].ContributingFactors[0]
	assert.Equal(t, "agentTrust", first.Name)
	assert.Equal(t, 0.6, first.RawScore)
	assert.Equal(t, 0.4, first.Weight)
	assert.InDelta(t, 0.24, first.Contribution, 1e-9)
}

func TestSelect_MissingContext(t *testing.T) {
	s := newTestSelector(t, nil)
	ctx := context.Background()

	_, _, err := s.Select(ctx, types.ExecutionContext{
		Factors:    []types.TrustFactor{{Name: "a", RawScore: 0.5, Weight: 1.0}},
		Confidence: trust.NewConfidence(0.9),
	})
	assert.ErrorIs(t, err, ErrMissingContext)

	_, _, err = s.Select(ctx, types.ExecutionContext{TaskID: "task", Confidence: trust.NewConfidence(0.9)})
	assert.ErrorIs(t, err, ErrMissingContext)
}

func TestSelect_PropagatesInvalidWeighting(t *testing.T) {
	s := newTestSelector(t, nil)
	ec := types.ExecutionContext{
		TaskID: "task",
		Factors: []types.TrustFactor{
			{Name: "a", RawScore: 0.5, Weight: 0.3},
			{Name: "b", RawScore: 0.5, Weight: 0.3},
		},
		Confidence: trust.NewConfidence(0.9),
	}
	_, _, err := s.Select(context.Background(), ec)
	assert.ErrorIs(t, err, trust.ErrInvalidWeighting)
}

func TestHistory_AppendOnly(t *testing.T) {
	s := newTestSelector(t, nil)
	ctx := context.Background()

	_, _, err := s.Select(ctx, singleFactor("task", 0.9, 0.9))
	require.NoError(t, err)
	_, _, err = s.Select(ctx, singleFactor("task", 0.3, 0.9))
	require.NoError(t, err)

	history := s.History("task")
	require.Len(t, history, 2)
	assert.Equal(t, types.ExecutionMode(""), history[0].From)
	assert.Equal(t, types.ModeAutonomous, history[0].To)
	assert.Equal(t, types.ModeAutonomous, history[1].From)
	assert.Equal(t, types.ModeCollaborative, history[1].To)

	current, ok := s.Current("task")
	require.True(t, ok)
	assert.Equal(t, types.ModeCollaborative, current)
}
