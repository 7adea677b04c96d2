// Package config handles personas configuration loading.
//
// A configuration is one YAML document describing the completion model, the
// messenger retry policy, logging, the snapshot store and the persona graph.
// The loaded value is passed explicitly to every constructor that needs it;
// there is no process-wide configuration state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/personamesh/logging"
)

// Providers understood by the model section.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// Delegation modes of the root persona.
const (
	ModeAgent  = "agent"
	ModeLinear = "linear"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./personas.yaml, ~/.config/personas/personas.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"personas.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "personas", "personas.yaml"))
	}

	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config is the root configuration document.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Messenger MessengerConfig `yaml:"messenger"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Persona   PersonaConfig   `yaml:"persona"`
}

// ModelConfig selects and parameterizes the completion service.
type ModelConfig struct {
	Provider    string   `yaml:"provider"` // openai, anthropic, scripted
	Name        string   `yaml:"name"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	APIKey      string   `yaml:"api_key,omitempty"` // falls back to the SDK's env var
	BaseURL     string   `yaml:"base_url,omitempty"`
	// Replies feeds the scripted provider.
	Replies []string `yaml:"replies,omitempty"`
}

// MessengerConfig is the completion retry and transport policy.
type MessengerConfig struct {
	RetryCount    int           `yaml:"retry_count"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	ResendHistory *bool         `yaml:"resend_history,omitempty"`
	Stream        bool          `yaml:"stream"`
}

// LogConfig configures the persona logger.
type LogConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	AddSource bool   `yaml:"add_source"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, redis
	DSN    string `yaml:"dsn"`
}

// MetricsConfig enables the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // e.g. ":9090"; empty serves nothing
}

// PromptMessage is one templated prompt message.
type PromptMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// PersonaConfig describes the root persona and its sub-personas.
type PersonaConfig struct {
	Name string `yaml:"name"`
	Mode string `yaml:"mode"` // agent, linear
	// Coordinator is the prompt of the agent choosing recipients (agent mode).
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	ReportFormat string             `yaml:"report_format,omitempty"`
	MaxSteps     int                `yaml:"max_steps"`
	Subagents    []SubPersonaConfig `yaml:"subagents"`
}

// CoordinatorConfig is the coordinator's prompt and optional model override.
type CoordinatorConfig struct {
	Prompt []PromptMessage `yaml:"prompt"`
	Vars   map[string]any  `yaml:"vars,omitempty"`
	Model  *ModelConfig    `yaml:"model,omitempty"`
}

// SubPersonaConfig is one basic sub-persona.
type SubPersonaConfig struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	ExampleMessages []string        `yaml:"example_messages,omitempty"`
	Prompt          []PromptMessage `yaml:"prompt"`
	Vars            map[string]any  `yaml:"vars,omitempty"`
	Model           *ModelConfig    `yaml:"model,omitempty"`
}

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded before parsing; defaults fill unset fields and the
// result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default set and no personas.
func Default() *Config {
	resend := true

	return &Config{
		Model: ModelConfig{
			Provider: ProviderOpenAI,
			Name:     "gpt-4o-mini",
		},
		Messenger: MessengerConfig{
			RetryCount:    5,
			InitialDelay:  750 * time.Millisecond,
			ResendHistory: &resend,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
		Persona: PersonaConfig{
			Mode:     ModeAgent,
			MaxSteps: 50,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Messenger.ResendHistory == nil {
		resend := true
		c.Messenger.ResendHistory = &resend
	}

	if c.Persona.MaxSteps == 0 {
		c.Persona.MaxSteps = 50
	}

	c.Model.Provider = strings.ToLower(c.Model.Provider)
	c.Persona.Mode = strings.ToLower(c.Persona.Mode)
	c.Store.Driver = strings.ToLower(c.Store.Driver)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.Model.validate("model")...)

	if c.Messenger.RetryCount < 1 {
		errs = append(errs, errors.New("messenger.retry_count must be at least 1"))
	}

	if c.Messenger.InitialDelay < 0 {
		errs = append(errs, errors.New("messenger.initial_delay must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StoreRedis:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, sqlite or redis, got %q", c.Store.Driver))
	}

	errs = append(errs, c.Persona.validate()...)

	return errors.Join(errs...)
}

func (m ModelConfig) validate(path string) []error {
	var errs []error

	switch m.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required for provider %q", path, m.Provider))
		}
	case ProviderScripted:
	default:
		errs = append(errs, fmt.Errorf("%s.provider must be openai, anthropic or scripted, got %q", path, m.Provider))
	}

	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
		errs = append(errs, fmt.Errorf("%s.temperature must be within [0, 2]", path))
	}

	return errs
}

func (p PersonaConfig) validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, errors.New("persona.name is required"))
	}

	if p.MaxSteps < 1 {
		errs = append(errs, errors.New("persona.max_steps must be positive"))
	}

	switch p.Mode {
	case ModeAgent:
		if len(p.Coordinator.Prompt) == 0 {
			errs = append(errs, errors.New("persona.coordinator.prompt is required in agent mode"))
		}
		errs = append(errs, validatePrompt("persona.coordinator.prompt", p.Coordinator.Prompt)...)
		if p.Coordinator.Model != nil {
			errs = append(errs, p.Coordinator.Model.validate("persona.coordinator.model")...)
		}
	case ModeLinear:
	default:
		errs = append(errs, fmt.Errorf("persona.mode must be agent or linear, got %q", p.Mode))
	}

	if len(p.Subagents) == 0 {
		errs = append(errs, errors.New("persona.subagents must name at least one sub-persona"))
	}

	seen := map[string]bool{p.Name: true}
	for i, s := range p.Subagents {
		path := fmt.Sprintf("persona.subagents[%d]", i)

		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("%s.name %q is used twice", path, s.Name))
		}
		seen[s.Name] = true

		if len(s.Prompt) == 0 {
			errs = append(errs, fmt.Errorf("%s.prompt is required", path))
		}
		errs = append(errs, validatePrompt(path+".prompt", s.Prompt)...)

		if s.Model != nil {
			errs = append(errs, s.Model.validate(path+".model")...)
		}
	}

	return errs
}

func validatePrompt(path string, msgs []PromptMessage) []error {
	var errs []error
	for i, m := range msgs {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			errs = append(errs, fmt.Errorf("%s[%d].role must be system, user or assistant, got %q", path, i, m.Role))
		}
	}
	return errs
}

// ModelFor returns the effective model config of a persona: its override
// merged over the global model section.
func (c *Config) ModelFor(override *ModelConfig) ModelConfig {
	if override == nil {
		return c.Model
	}

	m := c.Model
	if override.Provider != "" {
		m.Provider = strings.ToLower(override.Provider)
	}
	if override.Name != "" {
		m.Name = override.Name
	}
	if override.Temperature != nil {
		m.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		m.MaxTokens = override.MaxTokens
	}
	if override.APIKey != "" {
		m.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		m.BaseURL = override.BaseURL
	}
	m.Replies = override.Replies

	return m
}

// LoggerConfig converts the log section for logging.NewLogger.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}

	cfg := logging.DefaultLoggerConfig()
	cfg.Level = level
	cfg.Format = c.Log.Format
	cfg.AddSource = c.Log.AddSource
	cfg.Component = "personas"

	return cfg
}
