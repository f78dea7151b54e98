package model

import (
	"fmt"
	"time"
)

// LinkingConfig controls the linking engine.
type LinkingConfig struct {
	// PreFloor is the absolute pre-rerank confidence floor. Candidates below
	// it are rejected outright: neither linked nor overflowed.
	PreFloor float64 `yaml:"pre_floor" mapstructure:"pre_floor"`
}

// RerankConfig controls specificity rerank and saturation.
type RerankConfig struct {
	TriggerBonus float64 `yaml:"trigger_bonus" mapstructure:"trigger_bonus"` // Multiplier for word-boundary trigger match
	PartialBonus float64 `yaml:"partial_bonus" mapstructure:"partial_bonus"` // Multiplier for partial name-token overlap

	SaturationStart float64 `yaml:"saturation_start" mapstructure:"saturation_start"` // Batch share where penalty begins
	SaturationEnd   float64 `yaml:"saturation_end" mapstructure:"saturation_end"`     // Batch share where penalty caps
	SaturationFloor float64 `yaml:"saturation_floor" mapstructure:"saturation_floor"` // Minimum multiplier (soft brake)

	PostFloor    float64 `yaml:"post_floor" mapstructure:"post_floor"`       // Post-rerank confidence floor
	WinnerMargin float64 `yaml:"winner_margin" mapstructure:"winner_margin"` // Keep runner-up only within this margin
	MaxPerUnit   int     `yaml:"max_per_unit" mapstructure:"max_per_unit"`   // Accepted-edge cap per candidate
}

// PromotionMode selects how a candidate type promotes after linking.
type PromotionMode string

const (
	PromoteAlways PromotionMode = "always"
	PromoteFloor  PromotionMode = "floor"  // Promote above Floor
	PromoteRarely PromotionMode = "rarely" // Promote above a high Floor
	PromoteNever  PromotionMode = "never"
)

// PromotionRule is one row of the closed promotion table.
type PromotionRule struct {
	Mode  PromotionMode `yaml:"mode" mapstructure:"mode"`
	Floor float64       `yaml:"floor,omitempty" mapstructure:"floor"`
}

// MaturityConfig holds classifier thresholds. All ratios are monotonic:
// raising any badness ratio can only lower maturity, never raise it.
type MaturityConfig struct {
	MinSources         int     `yaml:"min_sources" mapstructure:"min_sources"`                   // Distinct sources for VALIDATED
	MaxNegated         float64 `yaml:"max_negated" mapstructure:"max_negated"`                   // Negated ratio ceiling for VALIDATED
	MaxHedged          float64 `yaml:"max_hedged" mapstructure:"max_hedged"`                     // Hedged ratio ceiling for VALIDATED
	MaxConditional     float64 `yaml:"max_conditional" mapstructure:"max_conditional"`           // Conditional ratio ceiling for VALIDATED
	AmbiguityDelta     float64 `yaml:"ambiguity_delta" mapstructure:"ambiguity_delta"`           // Type-hypothesis confidence delta
	MinValidatedMedian float64 `yaml:"min_validated_median" mapstructure:"min_validated_median"` // Median confidence floor for VALIDATED
}

// AdapterConfig configures the extraction adapter.
type AdapterConfig struct {
	Provider  string        `yaml:"provider" mapstructure:"provider"` // "openai" or "" (disabled)
	Model     string        `yaml:"model" mapstructure:"model"`
	APIKey    string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`

	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"` // Adapter call rate limit
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`

	CacheEnabled bool          `yaml:"cache_enabled" mapstructure:"cache_enabled"` // Memoize adapter responses
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// GraphConfig configures the graph persistence port.
type GraphConfig struct {
	URI      string `yaml:"uri,omitempty" mapstructure:"uri"` // Neo4j URI; empty selects the in-memory store
	User     string `yaml:"user,omitempty" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
}

// VectorConfig configures the optional retrieval persistence port.
type VectorConfig struct {
	Addr     string `yaml:"addr,omitempty" mapstructure:"addr"` // Redis address; empty disables the port
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// IngestConfig controls batch ingestion.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"` // Parallel documents; scoring stays per-batch serial
}

// TenantOverride carries the per-tenant hot-reloadable threshold overrides.
// Nil fields inherit the base configuration.
type TenantOverride struct {
	Linking  *LinkingConfig  `yaml:"linking,omitempty" mapstructure:"linking"`
	Rerank   *RerankConfig   `yaml:"rerank,omitempty" mapstructure:"rerank"`
	Maturity *MaturityConfig `yaml:"maturity,omitempty" mapstructure:"maturity"`
}

// Config is the full engine configuration. Thresholds are configuration, not
// code: defaults below satisfy the documented scenarios but every deployment
// is expected to tune them per corpus.
type Config struct {
	Linking   LinkingConfig             `yaml:"linking" mapstructure:"linking"`
	Rerank    RerankConfig              `yaml:"rerank" mapstructure:"rerank"`
	Promotion map[string]PromotionRule  `yaml:"promotion" mapstructure:"promotion"`
	Maturity  MaturityConfig            `yaml:"maturity" mapstructure:"maturity"`
	Adapter   AdapterConfig             `yaml:"adapter" mapstructure:"adapter"`
	Graph     GraphConfig               `yaml:"graph" mapstructure:"graph"`
	Vector    VectorConfig              `yaml:"vector" mapstructure:"vector"`
	Ingest    IngestConfig              `yaml:"ingest" mapstructure:"ingest"`
	Tenants   map[string]TenantOverride `yaml:"tenants,omitempty" mapstructure:"tenants"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Linking: LinkingConfig{
			PreFloor: 0.30,
		},
		Rerank: RerankConfig{
			TriggerBonus:    1.25,
			PartialBonus:    1.10,
			SaturationStart: 0.20,
			SaturationEnd:   0.50,
			SaturationFloor: 0.80,
			PostFloor:       0.45,
			WinnerMargin:    0.05,
			MaxPerUnit:      2,
		},
		Promotion: DefaultPromotionTable(),
		Maturity: MaturityConfig{
			MinSources:         2,
			MaxNegated:         0.20,
			MaxHedged:          0.40,
			MaxConditional:     0.50,
			AmbiguityDelta:     0.05,
			MinValidatedMedian: 0.50,
		},
		Adapter: AdapterConfig{
			Provider:      "",
			Timeout:       30 * time.Second,
			MaxTokens:     2000,
			RatePerSecond: 2,
			RateBurst:     4,
			CacheEnabled:  true,
			CacheTTL:      1 * time.Hour,
		},
		Ingest: IngestConfig{
			Concurrency: 4,
		},
	}
}

// DefaultPromotionTable returns the closed candidate-type → promotion map.
func DefaultPromotionTable() map[string]PromotionRule {
	return map[string]PromotionRule{
		string(KindAssertion):     {Mode: PromoteFloor, Floor: 0.50},
		string(KindClaim):         {Mode: PromoteFloor, Floor: 0.50},
		string(RelationRequires):  {Mode: PromoteFloor, Floor: 0.50},
		string(RelationEnables):   {Mode: PromoteFloor, Floor: 0.55},
		string(RelationPartOf):    {Mode: PromoteFloor, Floor: 0.50},
		string(RelationUses):      {Mode: PromoteFloor, Floor: 0.50},
		string(RelationExcludes):  {Mode: PromoteRarely, Floor: 0.80},
		string(RelationRelatedTo): {Mode: PromoteRarely, Floor: 0.85},
	}
}

// Validate rejects incoherent threshold combinations before they can make
// classification non-monotonic.
func (c *Config) Validate() error {
	r := c.Rerank
	if r.SaturationStart < 0 || r.SaturationStart > 1 ||
		r.SaturationEnd < 0 || r.SaturationEnd > 1 {
		return fmt.Errorf("saturation thresholds must lie in [0,1]")
	}
	if r.SaturationStart >= r.SaturationEnd {
		return fmt.Errorf("saturation_start (%.2f) must be below saturation_end (%.2f)",
			r.SaturationStart, r.SaturationEnd)
	}
	if r.SaturationFloor <= 0 || r.SaturationFloor > 1 {
		return fmt.Errorf("saturation_floor must lie in (0,1]")
	}
	if c.Linking.PreFloor < 0 || c.Linking.PreFloor > 1 {
		return fmt.Errorf("pre_floor must lie in [0,1]")
	}
	if r.PostFloor < 0 || r.PostFloor > 1 {
		return fmt.Errorf("post_floor must lie in [0,1]")
	}
	if r.WinnerMargin < 0 {
		return fmt.Errorf("winner_margin must be non-negative")
	}
	if r.MaxPerUnit < 1 {
		return fmt.Errorf("max_per_unit must be at least 1")
	}
	if c.Maturity.MinSources < 1 {
		return fmt.Errorf("min_sources must be at least 1")
	}
	for typ, rule := range c.Promotion {
		switch rule.Mode {
		case PromoteAlways, PromoteFloor, PromoteRarely, PromoteNever:
		default:
			return fmt.Errorf("promotion rule for %q has unknown mode %q", typ, rule.Mode)
		}
		if rule.Floor < 0 || rule.Floor > 1 {
			return fmt.Errorf("promotion floor for %q must lie in [0,1]", typ)
		}
	}
	return nil
}

// ForTenant resolves the effective configuration for a tenant by overlaying
// its overrides on the base. Unknown tenants get the base unchanged.
func (c *Config) ForTenant(tenant string) Config {
	out := *c
	ov, ok := c.Tenants[tenant]
	if !ok {
		return out
	}
	if ov.Linking != nil {
		out.Linking = *ov.Linking
	}
	if ov.Rerank != nil {
		out.Rerank = *ov.Rerank
	}
	if ov.Maturity != nil {
		out.Maturity = *ov.Maturity
	}
	return out
}
