package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/types"
)

func recordSample(t *testing.T, r *Recorder) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.PublishModeTransition(ctx, types.ModeTransition{
		TaskID: "task-1", From: types.ModeSupervised, To: types.ModeCollaborative,
	}))
	require.NoError(t, r.PublishLevelEvent(ctx, types.LevelEvent{
		InstanceID: "esc-1", TaskID: "task-1", Kind: types.LevelEntered,
	}))
	require.NoError(t, r.PublishBidRequest(ctx, types.BidRequest{
		ID: "req-1", TaskID: "task-2", InvitedResolvers: []string{"agent-1"},
	}))
	require.NoError(t, r.PublishAssignment(ctx, types.Assignment{
		TaskID: "task-2", ResolverID: "agent-1",
	}))
}

func TestRecorder_ChainsAndVerifies(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := NewRecorder(fake)

	assert.Equal(t, -1, rec.Verify())
	recordSample(t, rec)

	entries := rec.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, genesisHash, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
		assert.Equal(t, uint64(i), entries[i].Sequence)
	}
	assert.Equal(t, -1, rec.Verify())

	byTask := rec.EntriesForTask("task-2")
	require.Len(t, byTask, 2)
	assert.Equal(t, EntryBidRequest, byTask[0].Kind)
	assert.Equal(t, EntryAssignment, byTask[1].Kind)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	rec := NewRecorder(fake)
	recordSample(t, rec)

	t.Run("payload edit", func(t *testing.T) {
		entries := rec.Entries()
		entries[1].Payload = []byte(`{"instance_id":"esc-FORGED"}`)
		assert.Equal(t, 1, VerifyChain(entries))
	})

	t.Run("deleted entry", func(t *testing.T) {
		entries := rec.Entries()
		tampered := append(entries[:2:2], entries[3])
		assert.Equal(t, 2, VerifyChain(tampered))
	})

	t.Run("reordered entries", func(t *testing.T) {
		entries := rec.Entries()
		entries[2], entries[3] = entries[3], entries[2]
		assert.Equal(t, 2, VerifyChain(entries))
	})

	t.Run("rewritten hash keeps chain broken downstream", func(t *testing.T) {
		entries := rec.Entries()
		entries[1].Payload = []byte(`{}`)
		entries[1].Hash = hashEntry(entries[1])
		assert.Equal(t, 2, VerifyChain(entries))
	})
}
