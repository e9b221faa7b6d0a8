package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/industriverse/trustcore/types"
)

// Subject hierarchy for emitted events. Per-task suffixes let consumers
// subscribe narrowly, e.g. "trustcore.mode.task-42".
const (
	subjectMode       = "trustcore.mode"
	subjectLevelEvent = "trustcore.escalation.level"
	subjectBidRequest = "trustcore.market.request"
	subjectAssignment = "trustcore.market.assignment"
)

// NATSSink publishes events as JSON to a NATS subject hierarchy. The
// connection is owned by the caller.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink wraps an established NATS connection.
func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

// Connect dials the NATS server and returns a sink owning nothing beyond the
// subjects it publishes to.
func Connect(url string) (*NATSSink, *nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("trustcore"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return NewNATSSink(conn), conn, nil
}

func (s *NATSSink) publish(subject, taskID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}
	if taskID != "" {
		subject = subject + "." + taskID
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) PublishModeTransition(_ context.Context, t types.ModeTransition) error {
	return s.publish(subjectMode, t.TaskID, t)
}

func (s *NATSSink) PublishLevelEvent(_ context.Context, e types.LevelEvent) error {
	return s.publish(subjectLevelEvent, e.TaskID, e)
}

func (s *NATSSink) PublishBidRequest(_ context.Context, r types.BidRequest) error {
	return s.publish(subjectBidRequest, r.TaskID, r)
}

func (s *NATSSink) PublishAssignment(_ context.Context, a types.Assignment) error {
	return s.publish(subjectAssignment, a.TaskID, a)
}

var _ Sink = (*NATSSink)(nil)
