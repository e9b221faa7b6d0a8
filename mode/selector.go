// Package mode maps trust and confidence onto execution autonomy modes and
// manages the per-task transition state machine. Downgrades take effect
// immediately; upgrades are held back until the qualifying condition has held
// for a configured number of consecutive evaluations, so noisy trust inputs
// cannot flap a task between modes.
package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/events"
	"github.com/industriverse/trustcore/observability"
	"github.com/industriverse/trustcore/trust"
	"github.com/industriverse/trustcore/types"
)

// ErrMissingContext is returned when an execution context lacks required
// fields. Missing context is reported, never silently defaulted.
var ErrMissingContext = errors.New("execution context is missing required fields")

// DefaultUpgradeDwell is the number of consecutive qualifying evaluations an
// upgrade must survive before taking effect.
const DefaultUpgradeDwell = 2

// DefaultConfidenceFloor is the decision confidence below which the selected
// band is demoted one step.
const DefaultConfidenceFloor = 0.5

// Thresholds are the trust cut points of the band mapping. Invariant:
// High > Medium > Low, each in (0,1); enforced at load time.
type Thresholds struct {
	High   float64 `json:"high" yaml:"high"`
	Medium float64 `json:"medium" yaml:"medium"`
	Low    float64 `json:"low" yaml:"low"`
}

// Validate checks the ordering invariant.
func (t Thresholds) Validate() error {
	if !(t.High > t.Medium && t.Medium > t.Low) {
		return fmt.Errorf("trust thresholds must satisfy high > medium > low, got %.3f/%.3f/%.3f",
			t.High, t.Medium, t.Low)
	}
	if t.Low <= 0 || t.High >= 1 {
		return fmt.Errorf("trust thresholds must lie in (0,1), got %.3f/%.3f/%.3f",
			t.High, t.Medium, t.Low)
	}
	return nil
}

// Band maps a trust value onto its autonomy band: the most autonomous mode
// the trust value alone is eligible for. Monotone non-decreasing in trust.
func (t Thresholds) Band(trustValue float64) types.ExecutionMode {
	switch {
	case trustValue >= t.High:
		return types.ModeAutonomous
	case trustValue >= t.Medium:
		return types.ModeSupervised
	case trustValue >= t.Low:
		return types.ModeCollaborative
	default:
		return types.ModeAssistive
	}
}

// Explanation accompanies every mode decision so a human reviewer can audit
// it: the trust score, the thresholds applied, the confidence narrowing, and
// each factor's contribution.
type Explanation struct {
	Trust      types.TrustScore           `json:"trust"`
	Thresholds Thresholds                 `json:"thresholds"`
	Confidence types.ConfidenceLevel      `json:"confidence"`
	Band       types.ExecutionMode        `json:"band"`   // band from trust alone
	Target     types.ExecutionMode        `json:"target"` // band after confidence narrowing
	Mode       types.ExecutionMode        `json:"mode"`   // effective mode after hysteresis
	Factors    []types.FactorContribution `json:"factors"`
	Summary    string                     `json:"summary"`
}

// Config wires a Selector.
type Config struct {
	Thresholds      Thresholds
	ConfidenceFloor *float64 // nil means DefaultConfidenceFloor; 0 disables demotion
	UpgradeDwell    int     // 0 means DefaultUpgradeDwell
	Sink            events.Sink
	Clock           clock.Clock
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

// Selector is the per-task execution-mode state machine. Safe for concurrent
// use; state is sharded by task id.
type Selector struct {
	thresholds Thresholds
	floor      float64
	dwell      int
	sink       events.Sink
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu     sync.Mutex
	states map[string]*taskState
}

type taskState struct {
	current types.ExecutionMode
	history []types.ModeTransition

	// Upgrade dwell tracking: the candidate mode and how many consecutive
	// evaluations have targeted it.
	candidate types.ExecutionMode
	streak    int
}

// NewSelector validates the thresholds and builds a selector.
func NewSelector(cfg Config) (*Selector, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	floor := DefaultConfidenceFloor
	if cfg.ConfidenceFloor != nil {
		if *cfg.ConfidenceFloor < 0 || *cfg.ConfidenceFloor > 1 {
			return nil, fmt.Errorf("confidence floor must be in [0,1], got %v", *cfg.ConfidenceFloor)
		}
		floor = *cfg.ConfidenceFloor
	}
	if cfg.UpgradeDwell == 0 {
		cfg.UpgradeDwell = DefaultUpgradeDwell
	}
	if cfg.UpgradeDwell < 1 {
		return nil, fmt.Errorf("upgrade dwell must be >= 1, got %d", cfg.UpgradeDwell)
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Selector{
		thresholds: cfg.Thresholds,
		floor:      floor,
		dwell:      cfg.UpgradeDwell,
		sink:       cfg.Sink,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		states:     make(map[string]*taskState),
	}, nil
}

// Select evaluates the execution context and returns the task's effective
// mode plus the auditable explanation. A ModeTransition event is emitted
// whenever the effective mode changes.
func (s *Selector) Select(ctx context.Context, ec types.ExecutionContext) (types.ExecutionMode, Explanation, error) {
	if err := validateContext(ec); err != nil {
		return "", Explanation{}, err
	}

	score, err := trust.Compute(ec.Factors)
	if err != nil {
		return "", Explanation{}, err
	}
	confidence := ec.Confidence
	if confidence.Band == "" {
		confidence = trust.NewConfidence(confidence.Value)
	}

	band := s.thresholds.Band(score.Value)
	target := band
	demoted := false
	if confidence.Value < s.floor {
		target = target.Demote()
		demoted = true
	}

	s.mu.Lock()
	state, ok := s.states[ec.TaskID]
	if !ok {
		state = &taskState{}
		s.states[ec.TaskID] = state
	}

	effective, reason := s.advance(state, target)
	var transition *types.ModeTransition
	if effective != state.current {
		t := types.ModeTransition{
			TaskID:              ec.TaskID,
			WorkflowID:          ec.WorkflowID,
			From:                state.current,
			To:                  effective,
			Reason:              reason,
			Timestamp:           s.clock.Now(),
			ContributingFactors: trust.Contributions(ec.Factors),
		}
		state.history = append(state.history, t)
		state.current = effective
		transition = &t
	}
	s.mu.Unlock()

	if transition != nil {
		s.metrics.ObserveModeTransition(string(transition.From), string(transition.To))
		if err := s.sink.PublishModeTransition(ctx, *transition); err != nil {
			s.logger.Error("failed to publish mode transition",
				"task_id", ec.TaskID, "error", err)
		}
		s.logger.Info("execution mode changed",
			"task_id", ec.TaskID, "from", transition.From, "to", transition.To,
			"reason", transition.Reason)
	}

	expl := Explanation{
		Trust:      score,
		Thresholds: s.thresholds,
		Confidence: confidence,
		Band:       band,
		Target:     target,
		Mode:       effective,
		Factors:    trust.Contributions(ec.Factors),
		Summary: summarize(score.Value, s.thresholds, confidence, band, target,
			effective, demoted, s.floor),
	}
	return effective, expl, nil
}

// advance applies the hysteresis rule and returns the effective mode plus a
// transition reason. Caller holds the lock.
func (s *Selector) advance(state *taskState, target types.ExecutionMode) (types.ExecutionMode, string) {
	// First evaluation for this task adopts the target directly.
	if state.current == "" {
		state.candidate = ""
		state.streak = 0
		return target, "initial mode selection"
	}

	switch {
	case target.Autonomy() < state.current.Autonomy():
		// Downgrades are immediate.
		state.candidate = ""
		state.streak = 0
		return target, fmt.Sprintf("downgrade: qualifying band dropped to %s", target)

	case target.Autonomy() > state.current.Autonomy():
		// Upgrades must hold for the dwell window.
		if state.candidate == target {
			state.streak++
		} else {
			state.candidate = target
			state.streak = 1
		}
		if state.streak >= s.dwell {
			state.candidate = ""
			state.streak = 0
			return target, fmt.Sprintf("upgrade to %s held for %d consecutive evaluations", target, s.dwell)
		}
		return state.current, ""

	default:
		// Target equals current: any pending upgrade streak is broken.
		state.candidate = ""
		state.streak = 0
		return state.current, ""
	}
}

// Current returns the task's effective mode, if the task has been evaluated.
func (s *Selector) Current(taskID string) (types.ExecutionMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[taskID]
	if !ok || state.current == "" {
		return "", false
	}
	return state.current, true
}

// History returns the append-only transition history for a task.
func (s *Selector) History(taskID string) []types.ModeTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[taskID]
	if !ok {
		return nil
	}
	out := make([]types.ModeTransition, len(state.history))
	copy(out, state.history)
	return out
}

// Forget drops the per-task state, e.g. when the task completes.
func (s *Selector) Forget(taskID string) {
	s.mu.Lock()
	delete(s.states, taskID)
	s.mu.Unlock()
}

func validateContext(ec types.ExecutionContext) error {
	if ec.TaskID == "" {
		return fmt.Errorf("%w: task_id", ErrMissingContext)
	}
	if len(ec.Factors) == 0 {
		return fmt.Errorf("%w: trust factors", ErrMissingContext)
	}
	if ec.Confidence.Value < 0 || ec.Confidence.Value > 1 {
		return fmt.Errorf("%w: confidence value outside [0,1]", ErrMissingContext)
	}
	return nil
}

func summarize(trustValue float64, th Thresholds, conf types.ConfidenceLevel,
	band, target, effective types.ExecutionMode, demoted bool, floor float64) string {

	s := fmt.Sprintf("trust %.3f against thresholds high=%.2f medium=%.2f low=%.2f places the task in the %s band",
		trustValue, th.High, th.Medium, th.Low, band)
	if demoted {
		s += fmt.Sprintf("; confidence %.2f below floor %.2f demotes one step to %s", conf.Value, floor, target)
	}
	if effective != target {
		s += fmt.Sprintf("; holding %s until the upgrade condition persists", effective)
	}
	return s
}
