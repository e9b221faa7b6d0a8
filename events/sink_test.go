package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/trustcore/types"
)

func TestBuffered_CollectsAndCopies(t *testing.T) {
	sink := NewBuffered()
	ctx := context.Background()

	require.NoError(t, sink.PublishModeTransition(ctx, types.ModeTransition{TaskID: "t1", To: types.ModeSupervised}))
	require.NoError(t, sink.PublishLevelEvent(ctx, types.LevelEvent{TaskID: "t1", Kind: types.LevelEntered}))
	require.NoError(t, sink.PublishBidRequest(ctx, types.BidRequest{ID: "req-1", TaskID: "t1"}))
	require.NoError(t, sink.PublishAssignment(ctx, types.Assignment{TaskID: "t1", ResolverID: "r1"}))

	assert.Len(t, sink.ModeTransitions(), 1)
	assert.Len(t, sink.LevelEvents(), 1)
	assert.Len(t, sink.BidRequests(), 1)
	assert.Len(t, sink.Assignments(), 1)

	// Accessors return copies, not the live buffers.
	got := sink.BidRequests()
	got[0].ID = "mutated"
	assert.Equal(t, "req-1", sink.BidRequests()[0].ID)
}

// failingSink errors on every publish.
type failingSink struct{ err error }

func (f failingSink) PublishModeTransition(context.Context, types.ModeTransition) error {
	return f.err
}
func (f failingSink) PublishLevelEvent(context.Context, types.LevelEvent) error { return f.err }
func (f failingSink) PublishBidRequest(context.Context, types.BidRequest) error { return f.err }
func (f failingSink) PublishAssignment(context.Context, types.Assignment) error { return f.err }

func TestMulti_FansOutAndReportsFirstError(t *testing.T) {
	first := NewBuffered()
	second := NewBuffered()
	boom := errors.New("broker down")
	multi := NewMulti(first, failingSink{err: boom}, second)
	ctx := context.Background()

	err := multi.PublishLevelEvent(ctx, types.LevelEvent{TaskID: "t1", Kind: types.LevelEntered})
	assert.ErrorIs(t, err, boom)

	// Every sink after the failing one is still attempted.
	assert.Len(t, first.LevelEvents(), 1)
	assert.Len(t, second.LevelEvents(), 1)

	assert.NoError(t, NewMulti(first, second).PublishAssignment(ctx, types.Assignment{TaskID: "t1"}))
}
