// Package config provides core orchestration configuration - NO infrastructure URLs.
//
// This package contains only what the session loop itself needs:
//   - Round limits
//   - Risk handling knobs
//   - Port call timeout
//   - Lexicons for the rule-based components
//
// LLM endpoints, storage DSNs and personas live in the bootstrap settings.
// A CoreConfig is passed to each component that needs it; there is no
// process-wide instance.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/risk"
	"github.com/pescn/psy-data-gen/coreengine/typeutil"
)

// CoreConfig holds core orchestration configuration.
type CoreConfig struct {
	// Round Limits
	MaxRounds         int `json:"max_rounds" yaml:"max_rounds" validate:"gte=1"`
	MinRounds         int `json:"min_rounds" yaml:"min_rounds" validate:"gte=0"` // before a terminal phase may end the session
	MinRoundsPerPhase int `json:"min_rounds_per_phase" yaml:"min_rounds_per_phase" validate:"gte=0"`
	MaxRoundsPerPhase int `json:"max_rounds_per_phase" yaml:"max_rounds_per_phase" validate:"gtefield=MinRoundsPerPhase"`

	// Risk
	RiskThreshold int `json:"risk_threshold" yaml:"risk_threshold" validate:"gte=1,lte=5"`
	RiskWindow    int `json:"risk_window" yaml:"risk_window" validate:"gte=0"` // history entries scanned; 0 = all

	// Timeouts (seconds)
	CallTimeoutSeconds int `json:"call_timeout_seconds" yaml:"call_timeout_seconds" validate:"gte=1"`

	// Determinism
	Seed *int64 `json:"seed,omitempty" yaml:"seed"` // nil = seeded from the clock

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// Lexicons
	RiskLexicon   risk.Lexicon   `json:"risk_lexicon" yaml:"risk_lexicon"`
	AffectLexicon affect.Lexicon `json:"affect_lexicon" yaml:"affect_lexicon"`
}

// DefaultCoreConfig returns a CoreConfig with default values.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		// Round Limits
		MaxRounds:         50,
		MinRounds:         15,
		MinRoundsPerPhase: 3,
		MaxRoundsPerPhase: 15,

		// Risk
		RiskThreshold: risk.DefaultThreshold,
		RiskWindow:    5,

		// Timeouts (seconds)
		CallTimeoutSeconds: 120,

		// Determinism
		Seed: nil,

		// Logging
		LogLevel: "info",

		// Lexicons
		RiskLexicon:   risk.DefaultLexicon(),
		AffectLexicon: affect.DefaultLexicon(),
	}
}

var configValidator = validator.New()

// Validate checks field ranges.
func (c *CoreConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid core config: %w", err)
	}
	return nil
}

// CallTimeout returns the per-call port timeout.
func (c *CoreConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// SeedFor returns the RNG seed for the index-th session of a batch. With no
// configured seed the clock is used.
func (c *CoreConfig) SeedFor(index int) int64 {
	if c.Seed != nil {
		return *c.Seed + int64(index)
	}
	return time.Now().UnixNano() + int64(index)
}

// CoreConfigFromMap creates CoreConfig from a map.
// Unknown keys are ignored. Lexicons are not read from maps.
func CoreConfigFromMap(config map[string]any) *CoreConfig {
	c := DefaultCoreConfig()

	if v, ok := typeutil.SafeInt(config["max_rounds"]); ok {
		c.MaxRounds = v
	}
	if v, ok := typeutil.SafeInt(config["min_rounds"]); ok {
		c.MinRounds = v
	}
	if v, ok := typeutil.SafeInt(config["min_rounds_per_phase"]); ok {
		c.MinRoundsPerPhase = v
	}
	if v, ok := typeutil.SafeInt(config["max_rounds_per_phase"]); ok {
		c.MaxRoundsPerPhase = v
	}
	if v, ok := typeutil.SafeInt(config["risk_threshold"]); ok {
		c.RiskThreshold = v
	}
	if v, ok := typeutil.SafeInt(config["risk_window"]); ok {
		c.RiskWindow = v
	}
	if v, ok := typeutil.SafeInt(config["call_timeout_seconds"]); ok {
		c.CallTimeoutSeconds = v
	}
	if v, ok := typeutil.SafeInt(config["seed"]); ok {
		seed := int64(v)
		c.Seed = &seed
	}
	if v, ok := typeutil.SafeString(config["log_level"]); ok {
		c.LogLevel = strings.ToLower(v)
	}

	return c
}

// ToMap converts config to a map.
func (c *CoreConfig) ToMap() map[string]any {
	result := map[string]any{
		"max_rounds":           c.MaxRounds,
		"min_rounds":           c.MinRounds,
		"min_rounds_per_phase": c.MinRoundsPerPhase,
		"max_rounds_per_phase": c.MaxRoundsPerPhase,
		"risk_threshold":       c.RiskThreshold,
		"risk_window":          c.RiskWindow,
		"call_timeout_seconds": c.CallTimeoutSeconds,
		"log_level":            c.LogLevel,
	}
	if c.Seed != nil {
		result["seed"] = *c.Seed
	}
	return result
}
