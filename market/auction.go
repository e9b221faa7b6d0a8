// Package market implements the timed, competitive bidding protocol that
// assigns an escalated task to the best available resolver. A bid request is
// broadcast to every eligible candidate, bids are collected under a deadline,
// and the winner is picked by a multi-criteria weighted score.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/events"
	"github.com/industriverse/trustcore/observability"
	"github.com/industriverse/trustcore/types"
)

var (
	// ErrNoEligibleResolvers means no candidate offered the required
	// capabilities at broadcast time; the auction fails immediately without
	// starting a timer.
	ErrNoEligibleResolvers = errors.New("no eligible resolvers for bid request")

	// ErrNoQualifyingBid means no collected bid cleared the score and
	// capability floors; a low-quality assignment is never forced.
	ErrNoQualifyingBid = errors.New("no bid cleared the qualification floors")

	// ErrBidTooLate means the bid arrived after the request closed (deadline
	// passed, winner selected, or auction cancelled). The bid is discarded;
	// the auction is unaffected.
	ErrBidTooLate = errors.New("bid arrived after the request closed")

	// ErrAuctionCancelled means the auction's context was cancelled before a
	// decision, e.g. the escalation instance was cancelled mid-auction.
	ErrAuctionCancelled = errors.New("auction cancelled")
)

// Config tunes the bid market. Loaded from the workflow manifest's
// bid_system block.
type Config struct {
	BidTimeout             time.Duration // bidding window; must be positive
	CloseOnAllBids         bool          // decide as soon as every invited candidate responded
	Weights                SelectionWeights
	MinimumScore           float64 // total-score floor for a qualifying bid
	MinimumCapabilityMatch float64 // capability-score floor for a qualifying bid
	ResponseTimeRefSeconds int64   // reference point of the response-time transform
}

// Validate checks the load-time invariants.
func (c Config) Validate() error {
	if c.BidTimeout <= 0 {
		return fmt.Errorf("bid market: timeout must be positive, got %s", c.BidTimeout)
	}
	return c.Weights.Validate()
}

// AuctionRequest describes one auction run.
type AuctionRequest struct {
	EscalationInstanceID string
	TaskID               string
	RequiredCapabilities []string
	Candidates           []types.ResolverProfile
}

// Market owns the set of in-flight bid requests. Requests never share state
// across tasks; the open map is keyed by request id and guarded by one mutex.
type Market struct {
	cfg      Config
	sink     events.Sink
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	breakers *BreakerSet // optional candidacy gate

	mu   sync.Mutex
	open map[string]*openRequest
}

type openRequest struct {
	request types.BidRequest
	invited map[string]bool
	bids    map[string]types.Bid // keyed by resolver id, at most one each
	allIn   chan struct{}        // closed when every invited candidate has bid
	closed  bool
}

// Option configures optional Market collaborators.
type Option func(*Market)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Market) { m.logger = logger }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Market) { m.metrics = metrics }
}

// WithBreakers gates candidacy on per-resolver circuit breakers.
func WithBreakers(breakers *BreakerSet) Option {
	return func(m *Market) { m.breakers = breakers }
}

// NewMarket validates the configuration and builds a market.
func NewMarket(cfg Config, sink events.Sink, clk clock.Clock, opts ...Option) (*Market, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ResponseTimeRefSeconds <= 0 {
		cfg.ResponseTimeRefSeconds = 300
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	m := &Market{
		cfg:    cfg,
		sink:   sink,
		clock:  clk,
		logger: slog.Default(),
		open:   make(map[string]*openRequest),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RunAuction broadcasts a bid request to all eligible candidates, collects
// bids until the deadline (or until every invited candidate has responded,
// when close_on_all_bids is set), and selects the winner.
//
// Zero eligible candidates fail immediately with ErrNoEligibleResolvers; no
// timer is started. A cancelled context closes the request so late bids are
// rejected, and returns ErrAuctionCancelled. On success, exactly one
// Assignment is produced; this is the only place Assignments are created.
func (m *Market) RunAuction(ctx context.Context, req AuctionRequest) (types.Assignment, error) {
	eligible := m.eligibleCandidates(req)
	if len(eligible) == 0 {
		m.metrics.ObserveAuction("no_eligible_resolvers", 0)
		return types.Assignment{}, fmt.Errorf("%w: task %s requires %v",
			ErrNoEligibleResolvers, req.TaskID, req.RequiredCapabilities)
	}

	started := m.clock.Now()
	bidRequest := types.BidRequest{
		ID:                   uuid.NewString(),
		EscalationInstanceID: req.EscalationInstanceID,
		TaskID:               req.TaskID,
		RequiredCapabilities: req.RequiredCapabilities,
		InvitedResolvers:     resolverIDs(eligible),
		BiddingDeadline:      started.Add(m.cfg.BidTimeout),
	}

	or := &openRequest{
		request: bidRequest,
		invited: make(map[string]bool, len(eligible)),
		bids:    make(map[string]types.Bid),
		allIn:   make(chan struct{}),
	}
	for _, c := range eligible {
		or.invited[c.ResolverID] = true
	}

	m.mu.Lock()
	m.open[bidRequest.ID] = or
	m.mu.Unlock()

	if err := m.sink.PublishBidRequest(ctx, bidRequest); err != nil {
		m.logger.Error("failed to broadcast bid request",
			"request_id", bidRequest.ID, "task_id", req.TaskID, "error", err)
	}
	m.logger.Info("bid request broadcast",
		"request_id", bidRequest.ID, "task_id", req.TaskID,
		"invited", len(eligible), "deadline", bidRequest.BiddingDeadline)

	// Collection phase: the request stays open until the deadline, an early
	// all-bids close, or cancellation. Selection happens exactly once after.
	var cancelled bool
	select {
	case <-m.clock.After(m.cfg.BidTimeout):
	case <-or.allIn:
	case <-ctx.Done():
		cancelled = true
	}

	bids := m.closeRequest(bidRequest.ID)
	elapsed := m.clock.Now().Sub(started).Seconds()

	if cancelled {
		m.metrics.ObserveAuction("cancelled", elapsed)
		return types.Assignment{}, fmt.Errorf("%w: request %s", ErrAuctionCancelled, bidRequest.ID)
	}

	winner, err := m.selectWinner(bids)
	if err != nil {
		m.metrics.ObserveAuction("no_qualifying_bid", elapsed)
		return types.Assignment{}, err
	}

	assignedAt := m.clock.Now()
	assignment := types.Assignment{
		EscalationInstanceID: req.EscalationInstanceID,
		TaskID:               req.TaskID,
		ResolverID:           winner.Bid.ResolverID,
		AssignedAt:           assignedAt,
		ResponseDeadline: assignedAt.Add(
			time.Duration(winner.Bid.ResponseTimeCommitmentSeconds) * time.Second),
	}

	m.metrics.ObserveAuction("assigned", elapsed)
	if err := m.sink.PublishAssignment(ctx, assignment); err != nil {
		m.logger.Error("failed to publish assignment",
			"request_id", bidRequest.ID, "resolver_id", assignment.ResolverID, "error", err)
	}
	m.logger.Info("auction won",
		"request_id", bidRequest.ID, "task_id", req.TaskID,
		"resolver_id", assignment.ResolverID, "score", winner.Score, "bids", len(bids))
	return assignment, nil
}

// SubmitBid records one resolver's bid on an open request. Bids after the
// request closed are rejected with ErrBidTooLate and discarded; duplicate or
// uninvited bids are rejected without affecting the auction.
func (m *Market) SubmitBid(requestID string, bid types.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	or, ok := m.open[requestID]
	if !ok || or.closed {
		m.metrics.ObserveBidRejected("too_late")
		return fmt.Errorf("%w: request %s", ErrBidTooLate, requestID)
	}
	if !or.invited[bid.ResolverID] {
		m.metrics.ObserveBidRejected("not_invited")
		return fmt.Errorf("resolver %s was not invited to request %s", bid.ResolverID, requestID)
	}
	if _, dup := or.bids[bid.ResolverID]; dup {
		m.metrics.ObserveBidRejected("duplicate")
		return fmt.Errorf("resolver %s already bid on request %s", bid.ResolverID, requestID)
	}

	if bid.BidID == "" {
		bid.BidID = uuid.NewString()
	}
	bid.RequestID = requestID
	bid.SubmittedAt = m.clock.Now()
	or.bids[bid.ResolverID] = bid
	m.metrics.ObserveBidReceived()

	if m.cfg.CloseOnAllBids && len(or.bids) == len(or.invited) {
		close(or.allIn)
	}
	return nil
}

// OpenRequest returns a snapshot of an in-flight bid request.
func (m *Market) OpenRequest(requestID string) (types.BidRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	or, ok := m.open[requestID]
	if !ok || or.closed {
		return types.BidRequest{}, false
	}
	return or.request, true
}

// closeRequest marks the request closed, removes it from the open map, and
// returns the collected bids.
func (m *Market) closeRequest(requestID string) []types.Bid {
	m.mu.Lock()
	defer m.mu.Unlock()

	or, ok := m.open[requestID]
	if !ok {
		return nil
	}
	or.closed = true
	delete(m.open, requestID)

	bids := make([]types.Bid, 0, len(or.bids))
	for _, b := range or.bids {
		bids = append(bids, b)
	}
	return bids
}

// selectWinner ranks the bids and applies the qualification floors.
func (m *Market) selectWinner(bids []types.Bid) (ScoredBid, error) {
	ranked := RankBids(bids, m.cfg.Weights, m.cfg.ResponseTimeRefSeconds)
	for _, sb := range ranked {
		if sb.Score >= m.cfg.MinimumScore && sb.Bid.CapabilityMatchScore >= m.cfg.MinimumCapabilityMatch {
			return sb, nil
		}
	}
	return ScoredBid{}, fmt.Errorf("%w: %d bids collected", ErrNoQualifyingBid, len(bids))
}

// eligibleCandidates filters candidates on the capability subset requirement
// and, when a breaker set is attached, on breaker state.
func (m *Market) eligibleCandidates(req AuctionRequest) []types.ResolverProfile {
	var eligible []types.ResolverProfile
	for _, c := range req.Candidates {
		if !c.HasCapabilities(req.RequiredCapabilities) {
			continue
		}
		if m.breakers != nil && !m.breakers.Allowed(c.ResolverID) {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

func resolverIDs(profiles []types.ResolverProfile) []string {
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ResolverID
	}
	return ids
}
