package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/events"
	"github.com/industriverse/trustcore/market"
	"github.com/industriverse/trustcore/observability"
	"github.com/industriverse/trustcore/types"
)

var (
	// ErrInstanceNotFound is returned for lookups of unknown instance ids.
	ErrInstanceNotFound = errors.New("escalation instance not found")

	// ErrInstanceTerminal is returned when an operation targets an instance
	// that already reached an end state.
	ErrInstanceTerminal = errors.New("escalation instance already terminal")

	// ErrNotAssigned is returned when Resolve is called before a resolver
	// holds the task.
	ErrNotAssigned = errors.New("escalation instance has no assigned resolver")
)

// ResolverDirectory supplies the candidate pool for a level's resolver group.
// The directory is an external collaborator; profiles are read-only here.
type ResolverDirectory interface {
	ResolversForGroup(ctx context.Context, group string) ([]types.ResolverProfile, error)
}

// Coordinator drives escalation instances through their level state machine:
// open on a fired trigger, auction each level through the bid market, advance
// on level timeout or auction failure, and close on resolution, exhaustion,
// or cancellation. One coordinator serves one workflow policy.
type Coordinator struct {
	policy    types.EscalationPolicy
	market    *market.Market
	directory ResolverDirectory
	sink      events.Sink
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	breakers  *market.BreakerSet

	mu        sync.Mutex
	instances map[string]*instanceState
	byTask    map[string]string // open instance id per task
}

// instanceState is the coordinator's bookkeeping around one instance. The
// generation counter fences stale auction and timer callbacks: every level
// entry bumps it, and callbacks carrying an older generation are dropped.
type instanceState struct {
	inst        types.EscalationInstance
	assignment  *types.Assignment
	ctx         context.Context
	cancelInst  context.CancelFunc
	cancelLevel context.CancelFunc
	generation  uint64
}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the structured logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithCoordinatorMetrics attaches Prometheus instrumentation.
func WithCoordinatorMetrics(metrics *observability.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithCoordinatorBreakers feeds assignment outcomes into the resolver
// circuit breakers.
func WithCoordinatorBreakers(breakers *market.BreakerSet) CoordinatorOption {
	return func(c *Coordinator) { c.breakers = breakers }
}

// NewCoordinator validates the policy and builds a coordinator.
func NewCoordinator(policy types.EscalationPolicy, mkt *market.Market, dir ResolverDirectory,
	sink events.Sink, clk clock.Clock, opts ...CoordinatorOption) (*Coordinator, error) {
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}
	if mkt == nil {
		return nil, errors.New("escalation coordinator requires a bid market")
	}
	if dir == nil {
		return nil, errors.New("escalation coordinator requires a resolver directory")
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	c := &Coordinator{
		policy:    policy,
		market:    mkt,
		directory: dir,
		sink:      sink,
		clock:     clk,
		logger:    slog.Default(),
		instances: make(map[string]*instanceState),
		byTask:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Evaluate folds the task's runtime signals into trigger evaluation. When a
// trigger fires it opens a new instance (no instance open for the task) or
// advances the open instance to the fired level; otherwise it reports false
// and nothing changes. Terminal instances are never re-evaluated.
func (c *Coordinator) Evaluate(_ context.Context, taskID string, sig types.RuntimeSignals) (types.EscalationInstance, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentOrdinal := -1
	var st *instanceState
	if id, open := c.byTask[taskID]; open {
		st = c.instances[id]
		// An exhausted task stays pinned: it ran out of levels and must not
		// replay the ladder from the bottom.
		if st.inst.Status == types.EscalationExhausted {
			return types.EscalationInstance{}, false, nil
		}
		currentOrdinal = st.inst.CurrentLevel
	}

	level, fired := EvaluateTriggers(c.policy, currentOrdinal, sig)
	if !fired {
		return types.EscalationInstance{}, false, nil
	}

	if st == nil {
		st = c.openInstance(taskID)
	} else {
		st.cancelLevel()
	}
	c.enterLevel(st, level, triggerReason(level, sig))
	return snapshot(st), true, nil
}

// Resolve closes an instance as successfully handled. An instance at a level
// with a resolver group must be assigned first; resolving it resets the
// winning resolver's breaker. An instance at a group-less level may be
// resolved directly.
func (c *Coordinator) Resolve(_ context.Context, instanceID string) (types.EscalationInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.instances[instanceID]
	if !ok {
		return types.EscalationInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if st.inst.Status.Terminal() {
		return types.EscalationInstance{}, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, st.inst.Status)
	}
	// Levels without a resolver group have no auction, so there is no
	// assignment to demand: whoever owns the level's actions resolves it.
	level, known := levelByOrdinal(c.policy, st.inst.CurrentLevel)
	groupless := known && level.ResolverGroup == ""
	if !groupless && (st.inst.Status != types.EscalationAssigned || st.assignment == nil) {
		return types.EscalationInstance{}, fmt.Errorf("%w: %s", ErrNotAssigned, instanceID)
	}

	resolvedBy := "level owner"
	if st.assignment != nil {
		resolvedBy = st.assignment.ResolverID
		if c.breakers != nil {
			c.breakers.RecordSuccess(st.assignment.ResolverID)
		}
	}
	c.recordEvent(st, types.LevelResolved, "resolved by "+resolvedBy)
	c.closeInstance(st, types.EscalationResolved)
	c.logger.Info("escalation resolved",
		"instance_id", st.inst.ID, "task_id", st.inst.TaskID,
		"resolver_id", resolvedBy, "level", st.inst.CurrentLevel)
	return snapshot(st), nil
}

// Cancel tears down an instance from any non-terminal state: the running
// auction or level timer is aborted and late bids are rejected by the market.
func (c *Coordinator) Cancel(_ context.Context, instanceID string) (types.EscalationInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.instances[instanceID]
	if !ok {
		return types.EscalationInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if st.inst.Status.Terminal() {
		return types.EscalationInstance{}, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, st.inst.Status)
	}

	c.recordEvent(st, types.LevelCancelled, "cancelled by caller")
	c.closeInstance(st, types.EscalationCancelled)
	c.logger.Info("escalation cancelled",
		"instance_id", st.inst.ID, "task_id", st.inst.TaskID, "level", st.inst.CurrentLevel)
	return snapshot(st), nil
}

// Get returns a snapshot of an instance, terminal or not.
func (c *Coordinator) Get(instanceID string) (types.EscalationInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.instances[instanceID]
	if !ok {
		return types.EscalationInstance{}, false
	}
	return snapshot(st), true
}

// Assignment returns the current assignment of an instance, if any.
func (c *Coordinator) Assignment(instanceID string) (types.Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.instances[instanceID]
	if !ok || st.assignment == nil {
		return types.Assignment{}, false
	}
	return *st.assignment, true
}

// List returns snapshots of all known instances.
func (c *Coordinator) List() []types.EscalationInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.EscalationInstance, 0, len(c.instances))
	for _, st := range c.instances {
		out = append(out, snapshot(st))
	}
	return out
}

// ─── Internal state machine (caller holds c.mu) ─────────────────────────────

func (c *Coordinator) openInstance(taskID string) *instanceState {
	ctx, cancel := context.WithCancel(context.Background())
	st := &instanceState{
		inst: types.EscalationInstance{
			ID:         uuid.NewString(),
			TaskID:     taskID,
			WorkflowID: c.policy.WorkflowID,
			OpenedAt:   c.clock.Now(),
			Status:     types.EscalationOpen,
		},
		ctx:         ctx,
		cancelInst:  cancel,
		cancelLevel: func() {},
	}
	c.instances[st.inst.ID] = st
	c.byTask[taskID] = st.inst.ID
	c.metrics.ObserveEscalationOpened()
	c.logger.Info("escalation opened", "instance_id", st.inst.ID, "task_id", taskID)
	return st
}

// enterLevel moves the instance into a level and kicks off its timeout watch.
// A level naming a resolver group additionally opens an auction and moves the
// instance to BidInProgress; a level without one runs on its own actions and
// stays Open until resolved or timed out. Any previous level's context must
// already be cancelled.
func (c *Coordinator) enterLevel(st *instanceState, level types.EscalationLevel, reason string) {
	st.inst.CurrentLevel = level.Ordinal
	st.inst.LevelDeadline = c.clock.Now().Add(level.Timeout())
	st.assignment = nil
	st.generation++

	levelCtx, cancel := context.WithCancel(st.ctx)
	st.cancelLevel = cancel

	if level.ResolverGroup != "" {
		st.inst.Status = types.EscalationBidInProgress
		go c.auctionLevel(levelCtx, st.inst.ID, st.generation, level)
	} else {
		st.inst.Status = types.EscalationOpen
	}

	c.recordEvent(st, types.LevelEntered, reason)
	c.logger.Info("escalation level entered",
		"instance_id", st.inst.ID, "task_id", st.inst.TaskID,
		"level", level.Ordinal, "resolver_group", level.ResolverGroup, "reason", reason)

	go c.watchLevelTimeout(levelCtx, st.inst.ID, st.generation, level)
}

// auctionLevel runs outside the lock: it fetches the level's candidate pool
// and auctions the task, then reports back under the lock.
func (c *Coordinator) auctionLevel(ctx context.Context, instanceID string, gen uint64, level types.EscalationLevel) {
	candidates, err := c.directory.ResolversForGroup(ctx, level.ResolverGroup)
	if err != nil {
		c.onAuctionResult(instanceID, gen, types.Assignment{},
			fmt.Errorf("resolver directory: %w", err))
		return
	}

	c.mu.Lock()
	taskID := ""
	if st, ok := c.instances[instanceID]; ok {
		taskID = st.inst.TaskID
	}
	c.mu.Unlock()

	assignment, err := c.market.RunAuction(ctx, market.AuctionRequest{
		EscalationInstanceID: instanceID,
		TaskID:               taskID,
		RequiredCapabilities: level.RequiredCapabilities,
		Candidates:           candidates,
	})
	c.onAuctionResult(instanceID, gen, assignment, err)
}

func (c *Coordinator) watchLevelTimeout(ctx context.Context, instanceID string, gen uint64, level types.EscalationLevel) {
	select {
	case <-c.clock.After(level.Timeout()):
		c.onLevelTimeout(instanceID, gen)
	case <-ctx.Done():
	}
}

func (c *Coordinator) onAuctionResult(instanceID string, gen uint64, assignment types.Assignment, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.instances[instanceID]
	if !ok || st.generation != gen || st.inst.Status.Terminal() {
		return
	}
	if errors.Is(err, market.ErrAuctionCancelled) || errors.Is(err, context.Canceled) {
		// Cancellation and advancement paths record their own events.
		return
	}

	if err != nil {
		c.recordEvent(st, types.LevelAuctionFailed, err.Error())
		c.logger.Warn("level auction failed",
			"instance_id", st.inst.ID, "task_id", st.inst.TaskID,
			"level", st.inst.CurrentLevel, "error", err)
		c.advanceLocked(st, "auction_failed")
		return
	}

	st.assignment = &assignment
	st.inst.Status = types.EscalationAssigned
	c.recordEvent(st, types.LevelAssigned, "assigned to "+assignment.ResolverID)
	c.logger.Info("escalation assigned",
		"instance_id", st.inst.ID, "task_id", st.inst.TaskID,
		"level", st.inst.CurrentLevel, "resolver_id", assignment.ResolverID)
}

func (c *Coordinator) onLevelTimeout(instanceID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.instances[instanceID]
	if !ok || st.generation != gen || st.inst.Status.Terminal() {
		return
	}

	if st.assignment != nil && c.breakers != nil {
		c.breakers.RecordFailure(st.assignment.ResolverID)
	}
	c.recordEvent(st, types.LevelTimedOut, "level deadline expired")
	c.logger.Warn("escalation level timed out",
		"instance_id", st.inst.ID, "task_id", st.inst.TaskID, "level", st.inst.CurrentLevel)
	c.advanceLocked(st, "timeout")
}

// advanceLocked aborts the current level and enters the next one, or
// exhausts the instance when the policy has no further level.
func (c *Coordinator) advanceLocked(st *instanceState, reason string) {
	st.cancelLevel()
	next, ok := levelAfter(c.policy, st.inst.CurrentLevel)
	if !ok {
		c.recordEvent(st, types.LevelExhausted, "no further escalation level")
		c.closeInstance(st, types.EscalationExhausted)
		c.logger.Error("escalation exhausted",
			"instance_id", st.inst.ID, "task_id", st.inst.TaskID, "level", st.inst.CurrentLevel)
		return
	}
	c.metrics.ObserveLevelAdvance(reason)
	c.enterLevel(st, next, reason)
}

// closeInstance parks the instance in a terminal status and tears down its
// timers and any in-flight auction.
func (c *Coordinator) closeInstance(st *instanceState, status types.EscalationStatus) {
	st.inst.Status = status
	st.cancelLevel()
	st.cancelInst()
	// Exhaustion keeps the task mapping so trigger evaluation can refuse to
	// re-open it; resolved and cancelled tasks may escalate again.
	if status != types.EscalationExhausted {
		delete(c.byTask, st.inst.TaskID)
	}
	c.metrics.ObserveEscalationClosed(string(status))
}

func (c *Coordinator) recordEvent(st *instanceState, kind types.LevelEventKind, reason string) {
	event := types.LevelEvent{
		InstanceID: st.inst.ID,
		TaskID:     st.inst.TaskID,
		Ordinal:    st.inst.CurrentLevel,
		Kind:       kind,
		Reason:     reason,
		Timestamp:  c.clock.Now(),
	}
	st.inst.History = append(st.inst.History, event)
	if err := c.sink.PublishLevelEvent(context.Background(), event); err != nil {
		c.logger.Error("failed to publish level event",
			"instance_id", st.inst.ID, "kind", kind, "error", err)
	}
}

func snapshot(st *instanceState) types.EscalationInstance {
	inst := st.inst
	inst.History = append([]types.LevelEvent(nil), st.inst.History...)
	return inst
}

func triggerReason(level types.EscalationLevel, sig types.RuntimeSignals) string {
	for _, cond := range sortedByPrecedence(level.Triggers) {
		if conditionHolds(cond, level, sig) {
			return "trigger:" + string(cond.Kind)
		}
	}
	return "trigger"
}

func sortedByPrecedence(conds []types.TriggerCondition) []types.TriggerCondition {
	out := make([]types.TriggerCondition, len(conds))
	copy(out, conds)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && triggerPrecedence[out[j].Kind] < triggerPrecedence[out[j-1].Kind]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
