// Package events defines the notification surface of the core. Mode
// transitions, escalation level events, bid requests, and assignments are
// emitted as structured records; the delivery mechanism behind the Sink is
// external.
package events

import (
	"context"
	"sync"

	"github.com/industriverse/trustcore/types"
)

// Sink receives the structured events the core emits. Implementations must be
// safe for concurrent use. Publish failures are reported to the caller but
// must not affect core state transitions.
type Sink interface {
	PublishModeTransition(ctx context.Context, t types.ModeTransition) error
	PublishLevelEvent(ctx context.Context, e types.LevelEvent) error
	PublishBidRequest(ctx context.Context, r types.BidRequest) error
	PublishAssignment(ctx context.Context, a types.Assignment) error
}

// ─── Nop sink ────────────────────────────────────────────────────────────────

// Nop discards all events.
type Nop struct{}

func (Nop) PublishModeTransition(context.Context, types.ModeTransition) error { return nil }
func (Nop) PublishLevelEvent(context.Context, types.LevelEvent) error         { return nil }
func (Nop) PublishBidRequest(context.Context, types.BidRequest) error         { return nil }
func (Nop) PublishAssignment(context.Context, types.Assignment) error         { return nil }

var _ Sink = Nop{}

// ─── Buffered sink ───────────────────────────────────────────────────────────

// Buffered collects events in memory, for tests and for callers that drain
// events themselves.
type Buffered struct {
	mu          sync.Mutex
	transitions []types.ModeTransition
	levelEvents []types.LevelEvent
	bidRequests []types.BidRequest
	assignments []types.Assignment
}

// NewBuffered returns an empty in-memory sink.
func NewBuffered() *Buffered {
	return &Buffered{}
}

func (b *Buffered) PublishModeTransition(_ context.Context, t types.ModeTransition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, t)
	return nil
}

func (b *Buffered) PublishLevelEvent(_ context.Context, e types.LevelEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levelEvents = append(b.levelEvents, e)
	return nil
}

func (b *Buffered) PublishBidRequest(_ context.Context, r types.BidRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bidRequests = append(b.bidRequests, r)
	return nil
}

func (b *Buffered) PublishAssignment(_ context.Context, a types.Assignment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assignments = append(b.assignments, a)
	return nil
}

// ModeTransitions returns a copy of the collected transitions.
func (b *Buffered) ModeTransitions() []types.ModeTransition {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.ModeTransition, len(b.transitions))
	copy(out, b.transitions)
	return out
}

// LevelEvents returns a copy of the collected level events.
func (b *Buffered) LevelEvents() []types.LevelEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.LevelEvent, len(b.levelEvents))
	copy(out, b.levelEvents)
	return out
}

// BidRequests returns a copy of the collected bid requests.
func (b *Buffered) BidRequests() []types.BidRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.BidRequest, len(b.bidRequests))
	copy(out, b.bidRequests)
	return out
}

// Assignments returns a copy of the collected assignments.
func (b *Buffered) Assignments() []types.Assignment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Assignment, len(b.assignments))
	copy(out, b.assignments)
	return out
}

var _ Sink = (*Buffered)(nil)

// ─── Fan-out sink ────────────────────────────────────────────────────────────

// Multi fans each event out to several sinks. The first error is returned but
// every sink is attempted.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks into one.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) PublishModeTransition(ctx context.Context, t types.ModeTransition) error {
	var first error
	for _, s := range m.sinks {
		if err := s.PublishModeTransition(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) PublishLevelEvent(ctx context.Context, e types.LevelEvent) error {
	var first error
	for _, s := range m.sinks {
		if err := s.PublishLevelEvent(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) PublishBidRequest(ctx context.Context, r types.BidRequest) error {
	var first error
	for _, s := range m.sinks {
		if err := s.PublishBidRequest(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) PublishAssignment(ctx context.Context, a types.Assignment) error {
	var first error
	for _, s := range m.sinks {
		if err := s.PublishAssignment(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Sink = (*Multi)(nil)
