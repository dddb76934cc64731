package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models organic.yml. It is loaded once per request or command and
// handed to the engine as a value; the engine never re-reads it.
type Config struct {
	Org struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"org" json:"org"`
	Sprints    SprintConfig     `yaml:"sprints" json:"sprints"`
	Disputes   DisputeConfig    `yaml:"disputes" json:"disputes"`
	Rewards    RewardConfig     `yaml:"rewards" json:"rewards"`
	Quality    QualityConfig    `yaml:"quality" json:"quality"`
	Governance GovernanceConfig `yaml:"governance" json:"governance"`
	Webhooks   []WebhookConfig  `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig forwards audit events to an external endpoint. An empty
// Events list forwards everything.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (w WebhookConfig) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

type SprintConfig struct {
	DisputeWindowHours int    `yaml:"dispute_window_hours" json:"dispute_window_hours"`
	IncompleteAction   string `yaml:"incomplete_action" json:"incomplete_action"`
}

type DisputeConfig struct {
	ReviewerSLAHours   int            `yaml:"reviewer_sla_hours" json:"reviewer_sla_hours"`
	SLAAtRiskHours     int            `yaml:"sla_at_risk_hours" json:"sla_at_risk_hours"`
	SLAExtensionHours  int            `yaml:"sla_extension_hours" json:"sla_extension_hours"`
	InitialTier        string         `yaml:"initial_tier" json:"initial_tier"`
	MinXPToDispute     int64          `yaml:"min_xp_to_dispute" json:"min_xp_to_dispute"`
	XPStake            int64          `yaml:"xp_stake" json:"xp_stake"`
	ReviewerPenaltyXP  int64          `yaml:"reviewer_penalty_xp" json:"reviewer_penalty_xp"`
	ArbitratorRewardXP int64          `yaml:"arbitrator_reward_xp" json:"arbitrator_reward_xp"`
	AppealWindowHours  int            `yaml:"appeal_window_hours" json:"appeal_window_hours"`
	EligiblePhases     []string       `yaml:"eligible_phases" json:"eligible_phases"`
	Evidence           EvidenceConfig `yaml:"evidence" json:"evidence"`
}

type EvidenceConfig struct {
	AllowedMimeTypes []string `yaml:"allowed_mime_types" json:"allowed_mime_types"`
	MaxBytes         int64    `yaml:"max_bytes" json:"max_bytes"`
}

type RewardConfig struct {
	FixedCapPerSprint int64   `yaml:"fixed_cap_per_sprint" json:"fixed_cap_per_sprint"`
	EmissionPercent   float64 `yaml:"emission_percent" json:"emission_percent"`
	TreasuryBalance   int64   `yaml:"treasury_balance" json:"treasury_balance"`
	Carryover         struct {
		Enabled bool `yaml:"enabled" json:"enabled"`
		Sprints int  `yaml:"sprints" json:"sprints"`
	} `yaml:"carryover" json:"carryover"`
}

type QualityConfig struct {
	Multipliers map[int]float64 `yaml:"multipliers" json:"multipliers"`
}

type GovernanceConfig struct {
	QuorumPercent            float64 `yaml:"quorum_percent" json:"quorum_percent"`
	PassThresholdPercent     float64 `yaml:"pass_threshold_percent" json:"pass_threshold_percent"`
	FinalizeFailureThreshold int     `yaml:"finalize_failure_threshold" json:"finalize_failure_threshold"`
	VotingDays               int     `yaml:"voting_days" json:"voting_days"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with organic config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Sprints.DisputeWindowHours <= 0 {
		return fmt.Errorf("config.sprints.dispute_window_hours must be positive")
	}
	switch c.Sprints.IncompleteAction {
	case "backlog", "next_sprint":
	default:
		return fmt.Errorf("config.sprints.incomplete_action must be backlog or next_sprint")
	}
	d := c.Disputes
	if d.ReviewerSLAHours <= 0 {
		return fmt.Errorf("config.disputes.reviewer_sla_hours must be positive")
	}
	if d.SLAExtensionHours <= 0 {
		return fmt.Errorf("config.disputes.sla_extension_hours must be positive")
	}
	if d.SLAAtRiskHours < 0 {
		return fmt.Errorf("config.disputes.sla_at_risk_hours must not be negative")
	}
	switch d.InitialTier {
	case "mediation", "council", "admin":
	default:
		return fmt.Errorf("config.disputes.initial_tier %q is not a known tier", d.InitialTier)
	}
	if d.XPStake < 0 || d.MinXPToDispute < 0 || d.ReviewerPenaltyXP < 0 || d.ArbitratorRewardXP < 0 {
		return fmt.Errorf("config.disputes xp amounts must not be negative")
	}
	if d.AppealWindowHours <= 0 {
		return fmt.Errorf("config.disputes.appeal_window_hours must be positive")
	}
	if len(d.Evidence.AllowedMimeTypes) == 0 {
		return fmt.Errorf("config.disputes.evidence.allowed_mime_types is required")
	}
	if d.Evidence.MaxBytes <= 0 {
		return fmt.Errorf("config.disputes.evidence.max_bytes must be positive")
	}
	r := c.Rewards
	if r.FixedCapPerSprint < 0 || r.TreasuryBalance < 0 {
		return fmt.Errorf("config.rewards amounts must not be negative")
	}
	if r.EmissionPercent < 0 || r.EmissionPercent > 100 {
		return fmt.Errorf("config.rewards.emission_percent must be within 0..100")
	}
	if r.Carryover.Enabled && r.Carryover.Sprints <= 0 {
		return fmt.Errorf("config.rewards.carryover.sprints must be positive when carryover is enabled")
	}
	for score := 1; score <= 5; score++ {
		m, ok := c.Quality.Multipliers[score]
		if !ok {
			return fmt.Errorf("config.quality.multipliers missing score %d", score)
		}
		if m <= 0 || m > 1 {
			return fmt.Errorf("config.quality.multipliers[%d] must be within (0,1]", score)
		}
	}
	g := c.Governance
	if g.QuorumPercent < 0 || g.QuorumPercent > 100 || g.PassThresholdPercent < 0 || g.PassThresholdPercent > 100 {
		return fmt.Errorf("config.governance percentages must be within 0..100")
	}
	if g.FinalizeFailureThreshold < 1 {
		return fmt.Errorf("config.governance.finalize_failure_threshold must be at least 1")
	}
	if g.VotingDays <= 0 {
		return fmt.Errorf("config.governance.voting_days must be positive")
	}
	for i, w := range c.Webhooks {
		if w.Enabled != nil && !*w.Enabled {
			continue
		}
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) url", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// QualityMultiplier returns the multiplier for a 1..5 quality score.
func (c *Config) QualityMultiplier(score int) float64 {
	if m, ok := c.Quality.Multipliers[score]; ok {
		return m
	}
	return 0
}

func (c *Config) SLAAtRiskLead() time.Duration {
	return time.Duration(c.Disputes.SLAAtRiskHours) * time.Hour
}

func (c *Config) MimeAllowed(mime string) bool {
	for _, m := range c.Disputes.Evidence.AllowedMimeTypes {
		if m == mime {
			return true
		}
	}
	return false
}

func (c *Config) PhaseEligibleForDisputes(phase string) bool {
	for _, p := range c.Disputes.EligiblePhases {
		if p == phase {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "organic.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	cfg.Org.ID = orgID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  id: %s
  name: Organic DAO

sprints:
  dispute_window_hours: 48
  incomplete_action: backlog

disputes:
  reviewer_sla_hours: 72
  sla_at_risk_hours: 12
  sla_extension_hours: 24
  initial_tier: mediation
  min_xp_to_dispute: 100
  xp_stake: 50
  reviewer_penalty_xp: 25
  arbitrator_reward_xp: 10
  appeal_window_hours: 72
  eligible_phases: [active, review, dispute_window]
  evidence:
    allowed_mime_types:
      - image/png
      - image/jpeg
      - image/webp
      - image/gif
      - application/pdf
      - text/plain
    max_bytes: 10485760

rewards:
  fixed_cap_per_sprint: 10000
  emission_percent: 1
  treasury_balance: 1000000
  carryover:
    enabled: false
    sprints: 3

quality:
  multipliers:
    1: 0.25
    2: 0.5
    3: 0.75
    4: 0.9
    5: 1.0

governance:
  quorum_percent: 10
  pass_threshold_percent: 50
  finalize_failure_threshold: 2
  voting_days: 5
`
