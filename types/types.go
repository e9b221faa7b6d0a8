// Package types defines the core data structures for the trust-aware
// execution and escalation core: trust factors and scores, execution modes,
// escalation policies and instances, resolver profiles, and the bid-market
// entities exchanged with the surrounding workflow runtime.
package types

import "time"

// ─── Trust & Confidence ──────────────────────────────────────────────────────

// TrustFactor is one weighted signal contributing to a composite trust score.
// Immutable once scored; the weights of all factors feeding a single
// TrustScore must sum to 1.0.
type TrustFactor struct {
	Name     string  `json:"name"`
	RawScore float64 `json:"raw_score"` // [0.0 - 1.0]
	Weight   float64 `json:"weight"`    // [0.0 - 1.0]
}

// TrustScore is the weighted composite trust value for one execution context.
// Recomputed on demand; never mutated in place.
type TrustScore struct {
	Value               float64            `json:"value"` // [0.0 - 1.0]
	FactorContributions map[string]float64 `json:"factor_contributions"`
	ComputedAt          time.Time          `json:"computed_at"`
}

// ConfidenceBand buckets agent-reported confidence values.
type ConfidenceBand string

const (
	BandHigh    ConfidenceBand = "high"     // >= 0.8
	BandMedium  ConfidenceBand = "medium"   // >= 0.5
	BandLow     ConfidenceBand = "low"      // >= 0.2
	BandVeryLow ConfidenceBand = "very_low" // < 0.2
)

// ConfidenceLevel is the agent-reported certainty in a single decision,
// independent of historical trust.
type ConfidenceLevel struct {
	Value float64        `json:"value"` // [0.0 - 1.0]
	Band  ConfidenceBand `json:"band"`
}

// ─── Execution Modes ─────────────────────────────────────────────────────────

// ExecutionMode is the autonomy level governing how much independent action a
// task may take. Ordered by decreasing autonomy:
// Autonomous > Supervised > Collaborative > Assistive > Manual.
type ExecutionMode string

const (
	ModeAutonomous    ExecutionMode = "autonomous"
	ModeSupervised    ExecutionMode = "supervised"
	ModeCollaborative ExecutionMode = "collaborative"
	ModeAssistive     ExecutionMode = "assistive"
	ModeManual        ExecutionMode = "manual"
)

// modeRank maps each mode to its autonomy rank (higher = more autonomous).
var modeRank = map[ExecutionMode]int{
	ModeManual:        0,
	ModeAssistive:     1,
	ModeCollaborative: 2,
	ModeSupervised:    3,
	ModeAutonomous:    4,
}

// Autonomy returns the numeric autonomy rank of the mode. Unknown modes rank
// lowest.
func (m ExecutionMode) Autonomy() int {
	return modeRank[m]
}

// Valid reports whether m is one of the five defined modes.
func (m ExecutionMode) Valid() bool {
	_, ok := modeRank[m]
	return ok
}

// Demote returns the mode one autonomy step below m. Manual demotes to itself.
func (m ExecutionMode) Demote() ExecutionMode {
	switch m {
	case ModeAutonomous:
		return ModeSupervised
	case ModeSupervised:
		return ModeCollaborative
	case ModeCollaborative:
		return ModeAssistive
	default:
		return ModeManual
	}
}

// FactorContribution records one factor's part in a mode decision, for the
// audit trail.
type FactorContribution struct {
	Name         string  `json:"name"`
	RawScore     float64 `json:"raw_score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // raw_score * weight
}

// ModeTransition is emitted on every execution-mode change. The contributing
// factors are mandatory: downstream audit consumers reconstruct each automatic
// decision from them.
type ModeTransition struct {
	TaskID              string               `json:"task_id"`
	WorkflowID          string               `json:"workflow_id,omitempty"`
	From                ExecutionMode        `json:"from,omitempty"` // empty on initial selection
	To                  ExecutionMode        `json:"to"`
	Reason              string               `json:"reason"`
	Timestamp           time.Time            `json:"timestamp"`
	ContributingFactors []FactorContribution `json:"contributing_factors"`
}

// ExecutionContext is the per-task evaluation input owned by the orchestration
// runtime. The core reads it and never mutates it.
type ExecutionContext struct {
	TaskID          string          `json:"task_id"`
	WorkflowID      string          `json:"workflow_id"`
	Factors         []TrustFactor   `json:"factors"`
	Confidence      ConfidenceLevel `json:"confidence"`
	RegulatoryFlags []string        `json:"regulatory_flags,omitempty"`
	EnvironmentTags []string        `json:"environment_tags,omitempty"`
}

// ─── Severity ────────────────────────────────────────────────────────────────

// Severity levels for runtime signals and severity-based triggers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric ordering of the severity. Unknown severities rank
// lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ─── Escalation Policy ───────────────────────────────────────────────────────

// TriggerKind identifies the class of an escalation trigger. Evaluation
// precedence is fixed: confidence, then severity, then context, then time.
type TriggerKind string

const (
	TriggerConfidence TriggerKind = "confidence"
	TriggerSeverity   TriggerKind = "severity"
	TriggerContext    TriggerKind = "context"
	TriggerTime       TriggerKind = "time"
)

// TriggerCondition is one predicate attached to an escalation level. Only the
// fields relevant to the Kind are consulted.
type TriggerCondition struct {
	Kind            TriggerKind `json:"kind"`
	ConfidenceFloor float64     `json:"confidence_floor,omitempty"` // confidence kind: fires when confidence < floor
	MinSeverity     Severity    `json:"min_severity,omitempty"`     // severity kind: fires when severity >= min
	ContextFlags    []string    `json:"context_flags,omitempty"`    // context kind: fires when all flags present
}

// EscalationLevel is one step of the staged response procedure. Ordinals are
// strictly increasing within a policy and define the only valid advancement
// order.
type EscalationLevel struct {
	Ordinal              int                `json:"ordinal"`
	Triggers             []TriggerCondition `json:"triggers"`
	ResolverGroup        string             `json:"resolver_group,omitempty"` // non-empty: dynamic assignment via bid market
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
	TimeoutSeconds       int                `json:"timeout_seconds"`
	Actions              []string           `json:"actions,omitempty"`
}

// Timeout returns the level timeout as a duration.
func (l EscalationLevel) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// EscalationPolicy is the static, per-workflow escalation configuration.
// Loaded once, immutable at run time.
type EscalationPolicy struct {
	WorkflowID string            `json:"workflow_id"`
	Levels     []EscalationLevel `json:"levels"`
}

// ─── Escalation Instances ────────────────────────────────────────────────────

// EscalationStatus tracks the lifecycle of one open escalation.
type EscalationStatus string

const (
	EscalationOpen          EscalationStatus = "open"
	EscalationBidInProgress EscalationStatus = "bid_in_progress"
	EscalationAssigned      EscalationStatus = "assigned"
	EscalationResolved      EscalationStatus = "resolved"
	EscalationExhausted     EscalationStatus = "exhausted"
	EscalationCancelled     EscalationStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s EscalationStatus) Terminal() bool {
	switch s {
	case EscalationResolved, EscalationExhausted, EscalationCancelled:
		return true
	}
	return false
}

// LevelEventKind classifies entries in an escalation's level history.
type LevelEventKind string

const (
	LevelEntered       LevelEventKind = "level_entered"
	LevelAuctionFailed LevelEventKind = "auction_failed"
	LevelTimedOut      LevelEventKind = "level_timed_out"
	LevelAssigned      LevelEventKind = "level_assigned"
	LevelResolved      LevelEventKind = "level_resolved"
	LevelExhausted     LevelEventKind = "level_exhausted"
	LevelCancelled     LevelEventKind = "level_cancelled"
)

// LevelEvent records one step in an escalation instance's history, including
// locally recovered auction failures. Never silently dropped.
type LevelEvent struct {
	InstanceID string         `json:"instance_id"`
	TaskID     string         `json:"task_id"`
	Ordinal    int            `json:"ordinal"`
	Kind       LevelEventKind `json:"kind"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EscalationInstance is the mutable state machine for one open issue. Created
// when a trigger fires, archived on a terminal status.
type EscalationInstance struct {
	ID            string           `json:"id"`
	TaskID        string           `json:"task_id"`
	WorkflowID    string           `json:"workflow_id,omitempty"`
	CurrentLevel  int              `json:"current_level"` // ordinal
	OpenedAt      time.Time        `json:"opened_at"`
	LevelDeadline time.Time        `json:"level_deadline"`
	Status        EscalationStatus `json:"status"`
	History       []LevelEvent     `json:"history"`
}

// ─── Resolvers & Bidding ─────────────────────────────────────────────────────

// ResolverKind distinguishes the closed set of resolver variants.
type ResolverKind string

const (
	ResolverHuman  ResolverKind = "human"
	ResolverAgent  ResolverKind = "agent"
	ResolverSystem ResolverKind = "system"
)

// ResolverProfile describes an entity eligible to take ownership of an
// escalated task. Supplied by the external resolver directory; read-only here.
type ResolverProfile struct {
	ResolverID            string       `json:"resolver_id"`
	Name                  string       `json:"name,omitempty"`
	Kind                  ResolverKind `json:"kind"`
	Capabilities          []string     `json:"capabilities"`
	AvailabilityScore     float64      `json:"availability_score"`      // [0.0 - 1.0]
	HistoricalSuccessRate float64      `json:"historical_success_rate"` // [0.0 - 1.0]
}

// HasCapabilities reports whether the profile offers every required
// capability.
func (p ResolverProfile) HasCapabilities(required []string) bool {
	offered := make(map[string]bool, len(p.Capabilities))
	for _, c := range p.Capabilities {
		offered[c] = true
	}
	for _, r := range required {
		if !offered[r] {
			return false
		}
	}
	return true
}

// BidRequest opens a timed auction for an escalation requiring dynamic
// assignment. Destroyed after selection or deadline expiry.
type BidRequest struct {
	ID                   string    `json:"id"`
	EscalationInstanceID string    `json:"escalation_instance_id"`
	TaskID               string    `json:"task_id"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	InvitedResolvers     []string  `json:"invited_resolvers"`
	BiddingDeadline      time.Time `json:"bidding_deadline"`
}

// Bid is a resolver's offer to take an escalated task. Immutable once
// submitted; at most one per resolver per request.
type Bid struct {
	BidID                         string    `json:"bid_id"`
	RequestID                     string    `json:"request_id"`
	ResolverID                    string    `json:"resolver_id"`
	CapabilityMatchScore          float64   `json:"capability_match_score"` // [0.0 - 1.0]
	AvailabilityScore             float64   `json:"availability_score"`     // [0.0 - 1.0]
	ResponseTimeCommitmentSeconds int64     `json:"response_time_commitment_seconds"`
	ConfidenceScore               float64   `json:"confidence_score"` // [0.0 - 1.0]
	SubmittedAt                   time.Time `json:"submitted_at"`
}

// Assignment binds a winning resolver to an escalation instance. Created
// exactly once per resolved escalation, only by the bid market.
type Assignment struct {
	EscalationInstanceID string    `json:"escalation_instance_id"`
	TaskID               string    `json:"task_id"`
	ResolverID           string    `json:"resolver_id"`
	AssignedAt           time.Time `json:"assigned_at"`
	ResponseDeadline     time.Time `json:"response_deadline"`
}

// ─── Runtime Signals & Outcomes ──────────────────────────────────────────────

// RuntimeSignals carries the task-runtime observations fed into trigger
// evaluation.
type RuntimeSignals struct {
	Confidence     float64       `json:"confidence"` // [0.0 - 1.0]
	Severity       Severity      `json:"severity,omitempty"`
	Flags          []string      `json:"flags,omitempty"` // context + regulatory flags
	ElapsedInLevel time.Duration `json:"elapsed_in_level"`
}

// HasFlag reports whether a flag is present in the signal set.
func (s RuntimeSignals) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// OutcomeRecord is one historical result for a resolver, used to fold past
// performance into its success rate with recency weighting.
type OutcomeRecord struct {
	ResolverID      string    `json:"resolver_id"`
	TaskID          string    `json:"task_id"`
	Outcome         string    `json:"outcome"` // "success", "failure", "partial"
	QualityScore    float64   `json:"quality_score"`
	TimelinessScore float64   `json:"timeliness_score"`
	RecordedAt      time.Time `json:"recorded_at"`
}
