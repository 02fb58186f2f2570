// Package bootstrap loads process settings: the LLM endpoint, storage,
// telemetry, batch size and where personas come from. Environment parsing
// happens here and nowhere else.
package bootstrap

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/config"
	"github.com/pescn/psy-data-gen/coreengine/llm"
	"github.com/pescn/psy-data-gen/coreengine/observability"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// Environment overrides.
const (
	EnvAPIKey  = "PSYGEN_API_KEY"
	EnvBaseURL = "PSYGEN_BASE_URL"
	EnvModel   = "PSYGEN_MODEL"
)

// LLMSettings configures the OpenAI-compatible endpoint.
type LLMSettings struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key" validate:"required"`
	Model   string `yaml:"model" validate:"required"`

	Temperature          float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens            int     `yaml:"max_tokens" validate:"gte=1"`
	EvaluatorTemperature float32 `yaml:"evaluator_temperature" validate:"gte=0,lte=2"`
	EvaluatorMaxTokens   int     `yaml:"evaluator_max_tokens" validate:"gte=1"`

	BackgroundTemperature float32 `yaml:"background_temperature" validate:"gte=0,lte=2"`
	BackgroundMaxTokens   int     `yaml:"background_max_tokens" validate:"gte=1"`

	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=10"`

	// Calls per second across the whole batch; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// StoreSettings selects the snapshot database. An empty driver disables
// persistence.
type StoreSettings struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `yaml:"dsn"`
}

// Enabled reports whether snapshots are persisted.
func (s StoreSettings) Enabled() bool {
	return s.Driver != ""
}

// TracingSettings configures OTLP export. An empty endpoint disables tracing.
type TracingSettings struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// MetricsSettings configures the Prometheus endpoint. An empty address
// disables it.
type MetricsSettings struct {
	Addr string `yaml:"addr"`
}

// BatchSettings controls a generation run.
type BatchSettings struct {
	Sessions    int    `yaml:"sessions" validate:"gte=1"`
	Concurrency int    `yaml:"concurrency" validate:"gte=1"`
	OutputDir   string `yaml:"output_dir"`
}

// Persona sources.
const (
	PersonaSourceFixed    = "fixed"
	PersonaSourcePool     = "pool"
	PersonaSourceGenerate = "generate"
)

// PersonaPair is one student and counselor to run a session with.
type PersonaPair struct {
	Student   agents.Persona `yaml:"student"`
	Counselor agents.Persona `yaml:"counselor"`
}

// BackgroundSettings selects where each session's personas come from:
// the fixed student and counselor, a pool sampled per session, or a model
// generating a fresh background per session.
type BackgroundSettings struct {
	Source string        `yaml:"source" validate:"oneof=fixed pool generate"`
	Pool   []PersonaPair `yaml:"pool"`

	// Generation. Guided generation samples an issue from Issues; with no
	// issues the model picks one.
	Issues          []string `yaml:"issues"`
	Description     string   `yaml:"description"`
	MinCompleteness float64  `yaml:"min_completeness" validate:"gte=0,lte=1"`
}

// PoolPair picks the pool entry for a session seed.
func (b BackgroundSettings) PoolPair(seed int64) (int, PersonaPair) {
	i := rand.New(rand.NewSource(seed)).Intn(len(b.Pool))
	return i, b.Pool[i]
}

// Request builds the background request for a session seed.
func (b BackgroundSettings) Request(seed int64) agents.BackgroundRequest {
	req := agents.BackgroundRequest{Description: b.Description}
	if len(b.Issues) > 0 {
		req.Issue = b.Issues[rand.New(rand.NewSource(seed)).Intn(len(b.Issues))]
	}
	return req
}

func (b BackgroundSettings) validate() error {
	switch b.Source {
	case PersonaSourcePool:
		if len(b.Pool) == 0 {
			return errors.New("invalid settings: background.pool is empty")
		}
		for i, pair := range b.Pool {
			if err := validatePair(pair.Student, pair.Counselor); err != nil {
				return fmt.Errorf("background.pool[%d]: %w", i, err)
			}
		}
	case PersonaSourceGenerate:
		for _, issue := range b.Issues {
			if _, ok := agents.LookupIssue(issue); !ok {
				return fmt.Errorf("invalid settings: unknown background issue %q", issue)
			}
		}
	}
	return nil
}

func validatePair(student, counselor agents.Persona) error {
	if err := student.Validate(); err != nil {
		return fmt.Errorf("student: %w", err)
	}
	if err := counselor.Validate(); err != nil {
		return fmt.Errorf("counselor: %w", err)
	}
	if student.Role != session.RoleStudent {
		return fmt.Errorf("student persona has role %s", student.Role)
	}
	if counselor.Role != session.RoleCounselor {
		return fmt.Errorf("counselor persona has role %s", counselor.Role)
	}
	return nil
}

// Settings is the full process configuration.
type Settings struct {
	Core    *config.CoreConfig `yaml:"core" validate:"required"`
	LLM     LLMSettings        `yaml:"llm"`
	Store   StoreSettings      `yaml:"store"`
	Tracing TracingSettings    `yaml:"tracing"`
	Metrics MetricsSettings    `yaml:"metrics"`
	Batch   BatchSettings      `yaml:"batch"`

	// Student and Counselor are checked in Validate, and only for the
	// fixed source.
	Background BackgroundSettings `yaml:"background"`
	Student    agents.Persona     `yaml:"student" validate:"-"`
	Counselor  agents.Persona     `yaml:"counselor" validate:"-"`
}

// DefaultSettings returns settings with every default applied. The API key
// and the fixed personas still have to be supplied.
func DefaultSettings() *Settings {
	opts := agents.DefaultOptions()
	return &Settings{
		Core: config.DefaultCoreConfig(),
		LLM: LLMSettings{
			Model:                "gpt-4o-mini",
			Temperature:          opts.Temperature,
			MaxTokens:            opts.MaxTokens,
			EvaluatorTemperature: opts.EvaluatorTemperature,
			EvaluatorMaxTokens:   opts.EvaluatorMaxTokens,
			MaxRetries:           2,

			BackgroundTemperature: opts.BackgroundTemperature,
			BackgroundMaxTokens:   opts.BackgroundMaxTokens,
		},
		Tracing: TracingSettings{
			ServiceName: "psygen",
			Environment: "development",
			SampleRatio: 1,
		},
		Batch: BatchSettings{
			Sessions:    1,
			Concurrency: 1,
			OutputDir:   "output",
		},
		Background: BackgroundSettings{Source: PersonaSourceFixed},
		Student:    agents.Persona{Role: session.RoleStudent},
		Counselor:  agents.Persona{Role: session.RoleCounselor},
	}
}

// Load reads a YAML settings file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	s.applyEnvOverrides()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnvOverrides() {
	if key := os.Getenv(EnvAPIKey); key != "" {
		s.LLM.APIKey = key
	}
	if url := os.Getenv(EnvBaseURL); url != "" {
		s.LLM.BaseURL = url
	}
	if model := os.Getenv(EnvModel); model != "" {
		s.LLM.Model = model
	}
}

var settingsValidator = validator.New()

// Validate checks the settings, the core config and the persona source.
func (s *Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := s.Core.Validate(); err != nil {
		return err
	}
	if s.Store.Driver == "postgres" && s.Store.DSN == "" {
		return errors.New("invalid settings: store.dsn is required for postgres")
	}
	if s.Background.Source == PersonaSourceFixed {
		if err := validatePair(s.Student, s.Counselor); err != nil {
			return err
		}
	}
	return s.Background.validate()
}

// AgentOptions returns the generation options for the dialogue agent.
func (s *Settings) AgentOptions() agents.Options {
	return agents.Options{
		Temperature:          s.LLM.Temperature,
		MaxTokens:            s.LLM.MaxTokens,
		EvaluatorTemperature: s.LLM.EvaluatorTemperature,
		EvaluatorMaxTokens:   s.LLM.EvaluatorMaxTokens,

		BackgroundTemperature: s.LLM.BackgroundTemperature,
		BackgroundMaxTokens:   s.LLM.BackgroundMaxTokens,
	}
}

// LLMConfig returns the provider configuration.
func (s *Settings) LLMConfig() llm.Config {
	return llm.Config{
		BaseURL:    s.LLM.BaseURL,
		APIKey:     s.LLM.APIKey,
		Model:      s.LLM.Model,
		MaxRetries: s.LLM.MaxRetries,
	}
}

// TracingOptions returns the tracer configuration for version.
func (s *Settings) TracingOptions(version string) observability.TracingOptions {
	return observability.TracingOptions{
		ServiceName:    s.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    s.Tracing.Environment,
		Endpoint:       s.Tracing.Endpoint,
		Insecure:       s.Tracing.Insecure,
		SampleRatio:    s.Tracing.SampleRatio,
	}
}

// SessionMetadata labels the sessions of one run.
func (s *Settings) SessionMetadata(index int) map[string]string {
	return map[string]string{
		"model":          s.LLM.Model,
		"batch_index":    strconv.Itoa(index),
		"persona_source": s.Background.Source,
	}
}
