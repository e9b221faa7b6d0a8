// Package config loads the workflow manifest: trust thresholds, the
// escalation policy, and bid-market tuning. The manifest is YAML, validated
// at load time so misconfiguration fails fast instead of surfacing as odd
// runtime behavior.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/industriverse/trustcore/escalation"
	"github.com/industriverse/trustcore/market"
	"github.com/industriverse/trustcore/mode"
	"github.com/industriverse/trustcore/types"
)

// Manifest is the on-disk configuration of one workflow's trust and
// escalation behavior.
type Manifest struct {
	WorkflowID string `yaml:"workflow_id" validate:"required"`

	TrustThresholds TrustThresholds `yaml:"trust_thresholds"`
	ModeSelection   ModeSelection   `yaml:"mode_selection"`
	Escalation      []LevelConfig   `yaml:"escalation_levels" validate:"required,min=1,dive"`
	BidSystem       BidSystem       `yaml:"bid_system"`
	Breakers        BreakerConfig   `yaml:"resolver_breakers"`
	Directory       DirectoryConfig `yaml:"resolver_directory"`
	Server          ServerConfig    `yaml:"server"`
	Events          EventsConfig    `yaml:"events"`
}

// TrustThresholds are the band boundaries for execution-mode mapping.
type TrustThresholds struct {
	High   float64 `yaml:"high" validate:"gt=0,lte=1"`
	Medium float64 `yaml:"medium" validate:"gt=0,lte=1"`
	Low    float64 `yaml:"low" validate:"gt=0,lte=1"`
}

// ModeSelection tunes the selector's stability behavior.
type ModeSelection struct {
	ConfidenceFloor *float64 `yaml:"confidence_floor" validate:"omitempty,gte=0,lte=1"` // 0 disables demotion; absent means default
	UpgradeDwell    int      `yaml:"upgrade_dwell" validate:"gte=1"`
}

// LevelConfig is one escalation level of the manifest.
type LevelConfig struct {
	Ordinal              int             `yaml:"ordinal" validate:"gte=0"`
	ResolverGroup        string          `yaml:"resolver_group"`
	RequiredCapabilities []string        `yaml:"required_capabilities"`
	TimeoutSeconds       int             `yaml:"timeout_seconds" validate:"gt=0"`
	Actions              []string        `yaml:"actions"`
	Triggers             []TriggerConfig `yaml:"triggers" validate:"required,min=1,dive"`
}

// TriggerConfig is one trigger condition of a level.
type TriggerConfig struct {
	Kind            string   `yaml:"kind" validate:"required,oneof=confidence severity context time"`
	ConfidenceFloor float64  `yaml:"confidence_floor" validate:"gte=0,lte=1"`
	MinSeverity     string   `yaml:"min_severity" validate:"omitempty,oneof=low medium high critical"`
	ContextFlags    []string `yaml:"context_flags"`
}

// BidSystem is the manifest's bid_system block.
type BidSystem struct {
	BidTimeoutSeconds      int     `yaml:"bid_timeout_seconds" validate:"gt=0"`
	CloseOnAllBids         *bool   `yaml:"close_on_all_bids"` // default true
	MinimumScore           float64 `yaml:"minimum_score" validate:"gte=0,lte=1"`
	MinimumCapabilityMatch float64 `yaml:"minimum_capability_match" validate:"gte=0,lte=1"`
	ResponseTimeRefSeconds int64   `yaml:"response_time_ref_seconds" validate:"gte=0"`

	Weights struct {
		Capability   float64 `yaml:"capability" validate:"gte=0,lte=1"`
		Availability float64 `yaml:"availability" validate:"gte=0,lte=1"`
		ResponseTime float64 `yaml:"response_time" validate:"gte=0,lte=1"`
		Confidence   float64 `yaml:"confidence" validate:"gte=0,lte=1"`
	} `yaml:"selection_weights"`
}

// BreakerConfig tunes the resolver circuit breakers.
type BreakerConfig struct {
	FailureThreshold int     `yaml:"failure_threshold" validate:"gte=1"`
	TrustFloor       float64 `yaml:"trust_floor" validate:"gte=0,lte=1"`
	CooldownSeconds  int     `yaml:"cooldown_seconds" validate:"gte=1"`
}

// DirectoryConfig tunes the resolver directory cache.
type DirectoryConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" validate:"gte=0"`
}

// ServerConfig is the HTTP listen configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// EventsConfig selects the event delivery backend.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

var validate = validator.New()

// Load reads, parses, validates, and defaults a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a manifest from raw YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.applyDefaults()
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if err := m.validateSemantics(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.TrustThresholds == (TrustThresholds{}) {
		m.TrustThresholds = TrustThresholds{High: 0.8, Medium: 0.5, Low: 0.2}
	}
	if m.ModeSelection.ConfidenceFloor == nil {
		floor := float64(mode.DefaultConfidenceFloor)
		m.ModeSelection.ConfidenceFloor = &floor
	}
	if m.ModeSelection.UpgradeDwell == 0 {
		m.ModeSelection.UpgradeDwell = mode.DefaultUpgradeDwell
	}
	if m.BidSystem.BidTimeoutSeconds == 0 {
		m.BidSystem.BidTimeoutSeconds = 300
	}
	if w := m.BidSystem.Weights; w.Capability == 0 && w.Availability == 0 &&
		w.ResponseTime == 0 && w.Confidence == 0 {
		w := market.DefaultWeights()
		m.BidSystem.Weights.Capability = w.Capability
		m.BidSystem.Weights.Availability = w.Availability
		m.BidSystem.Weights.ResponseTime = w.ResponseTime
		m.BidSystem.Weights.Confidence = w.Confidence
	}
	if m.Breakers.FailureThreshold == 0 {
		m.Breakers.FailureThreshold = 3
	}
	if m.Breakers.TrustFloor == 0 {
		m.Breakers.TrustFloor = 0.2
	}
	if m.Breakers.CooldownSeconds == 0 {
		m.Breakers.CooldownSeconds = 1800
	}
	if m.Directory.CacheTTLSeconds == 0 {
		m.Directory.CacheTTLSeconds = 60
	}
	if m.Server.ListenAddr == "" {
		m.Server.ListenAddr = ":8080"
	}
}

// validateSemantics runs the core packages' own invariant checks, so the
// manifest can only produce components that would construct cleanly.
func (m *Manifest) validateSemantics() error {
	if err := m.Thresholds().Validate(); err != nil {
		return fmt.Errorf("manifest trust_thresholds: %w", err)
	}
	if err := escalation.ValidatePolicy(m.Policy()); err != nil {
		return fmt.Errorf("manifest escalation_levels: %w", err)
	}
	if err := m.MarketConfig().Validate(); err != nil {
		return fmt.Errorf("manifest bid_system: %w", err)
	}
	return nil
}

// Thresholds converts the manifest block to the selector's form.
func (m *Manifest) Thresholds() mode.Thresholds {
	return mode.Thresholds{
		High:   m.TrustThresholds.High,
		Medium: m.TrustThresholds.Medium,
		Low:    m.TrustThresholds.Low,
	}
}

// Policy converts the manifest levels to an escalation policy.
func (m *Manifest) Policy() types.EscalationPolicy {
	levels := make([]types.EscalationLevel, len(m.Escalation))
	for i, lc := range m.Escalation {
		triggers := make([]types.TriggerCondition, len(lc.Triggers))
		for j, tc := range lc.Triggers {
			triggers[j] = types.TriggerCondition{
				Kind:            types.TriggerKind(tc.Kind),
				ConfidenceFloor: tc.ConfidenceFloor,
				MinSeverity:     types.Severity(tc.MinSeverity),
				ContextFlags:    tc.ContextFlags,
			}
		}
		levels[i] = types.EscalationLevel{
			Ordinal:              lc.Ordinal,
			Triggers:             triggers,
			ResolverGroup:        lc.ResolverGroup,
			RequiredCapabilities: lc.RequiredCapabilities,
			TimeoutSeconds:       lc.TimeoutSeconds,
			Actions:              lc.Actions,
		}
	}
	return types.EscalationPolicy{WorkflowID: m.WorkflowID, Levels: levels}
}

// MarketConfig converts the bid_system block to the market's form.
func (m *Manifest) MarketConfig() market.Config {
	closeOnAllBids := true
	if m.BidSystem.CloseOnAllBids != nil {
		closeOnAllBids = *m.BidSystem.CloseOnAllBids
	}
	return market.Config{
		BidTimeout:     time.Duration(m.BidSystem.BidTimeoutSeconds) * time.Second,
		CloseOnAllBids: closeOnAllBids,
		Weights: market.SelectionWeights{
			Capability:   m.BidSystem.Weights.Capability,
			Availability: m.BidSystem.Weights.Availability,
			ResponseTime: m.BidSystem.Weights.ResponseTime,
			Confidence:   m.BidSystem.Weights.Confidence,
		},
		MinimumScore:           m.BidSystem.MinimumScore,
		MinimumCapabilityMatch: m.BidSystem.MinimumCapabilityMatch,
		ResponseTimeRefSeconds: m.BidSystem.ResponseTimeRefSeconds,
	}
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (m *Manifest) BreakerCooldown() time.Duration {
	return time.Duration(m.Breakers.CooldownSeconds) * time.Second
}

// DirectoryCacheTTL returns the directory cache TTL as a duration.
func (m *Manifest) DirectoryCacheTTL() time.Duration {
	return time.Duration(m.Directory.CacheTTLSeconds) * time.Second
}
