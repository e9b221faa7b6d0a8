// Package audit keeps a tamper-evident trail of core decisions. Every event
// is folded into a SHA3-256 hash chain: each entry's hash covers its payload
// plus the previous entry's hash, so any later modification or deletion is
// detectable by re-walking the chain.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/events"
	"github.com/industriverse/trustcore/types"
)

// EntryKind classifies audit entries by the event that produced them.
type EntryKind string

const (
	EntryModeTransition EntryKind = "mode_transition"
	EntryLevelEvent     EntryKind = "level_event"
	EntryBidRequest     EntryKind = "bid_request"
	EntryAssignment     EntryKind = "assignment"
)

// Entry is one link of the audit chain.
type Entry struct {
	Sequence   uint64          `json:"sequence"`
	Kind       EntryKind       `json:"kind"`
	TaskID     string          `json:"task_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

// Recorder is an events.Sink that appends every event to the chain. Safe for
// concurrent use.
type Recorder struct {
	clock clock.Clock

	mu      sync.Mutex
	entries []Entry
	tip     string
}

// genesisHash anchors the first entry of every chain.
var genesisHash = hex.EncodeToString(make([]byte, 32))

// NewRecorder builds an empty audit chain.
func NewRecorder(clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Recorder{clock: clk, tip: genesisHash}
}

func (r *Recorder) append(kind EntryKind, taskID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal %s payload: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Entry{
		Sequence:   uint64(len(r.entries)),
		Kind:       kind,
		TaskID:     taskID,
		Payload:    data,
		RecordedAt: r.clock.Now(),
		PrevHash:   r.tip,
	}
	entry.Hash = hashEntry(entry)
	r.entries = append(r.entries, entry)
	r.tip = entry.Hash
	return nil
}

// hashEntry computes SHA3-256 over the entry's chained fields. The hash field
// itself is excluded.
func hashEntry(e Entry) string {
	h := sha3.New256()
	fmt.Fprintf(h, "%d|%s|%s|%d|%s|", e.Sequence, e.Kind, e.TaskID, e.RecordedAt.UnixNano(), e.PrevHash)
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Recorder) PublishModeTransition(_ context.Context, t types.ModeTransition) error {
	return r.append(EntryModeTransition, t.TaskID, t)
}

func (r *Recorder) PublishLevelEvent(_ context.Context, e types.LevelEvent) error {
	return r.append(EntryLevelEvent, e.TaskID, e)
}

func (r *Recorder) PublishBidRequest(_ context.Context, req types.BidRequest) error {
	return r.append(EntryBidRequest, req.TaskID, req)
}

func (r *Recorder) PublishAssignment(_ context.Context, a types.Assignment) error {
	return r.append(EntryAssignment, a.TaskID, a)
}

var _ events.Sink = (*Recorder)(nil)

// Entries returns a copy of the chain.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// EntriesForTask returns the chain filtered to one task.
func (r *Recorder) EntriesForTask(taskID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// Verify re-walks the chain and returns the index of the first corrupted
// entry, or -1 when the chain is intact.
func (r *Recorder) Verify() int {
	return VerifyChain(r.Entries())
}

// VerifyChain checks an exported chain: sequences must be contiguous from
// zero, each entry's prev hash must match its predecessor, and each hash must
// recompute. Returns the index of the first violation, or -1.
func VerifyChain(entries []Entry) int {
	prev := genesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i) || e.PrevHash != prev || hashEntry(e) != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}
