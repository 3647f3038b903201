// Package config loads the aicore configuration from defaults, a YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"aicore/internal/autopilot"
	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/orchestrator"
	"aicore/internal/retry"
	"aicore/internal/routing"
	"aicore/internal/session"
)

// Dir is the per-workspace directory holding config, database and tasks.
const Dir = ".aicore"

// Config holds all aicore configuration.
type Config struct {
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Routing   RoutingConfig   `mapstructure:"routing" yaml:"routing"`
	Subagents SubagentsConfig `mapstructure:"subagents" yaml:"subagents"`
	Autopilot AutopilotConfig `mapstructure:"autopilot" yaml:"autopilot"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Logging   logging.Config  `mapstructure:"logging" yaml:"logging"`
}

// ProviderConfig configures the chat gateway.
type ProviderConfig struct {
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	Model              string        `mapstructure:"model" yaml:"model"`
	SearchModel        string        `mapstructure:"search_model" yaml:"search_model"`
	SearchEngine       string        `mapstructure:"search_engine" yaml:"search_engine"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature        float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens          int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	ThinkingBudget     int           `mapstructure:"thinking_budget" yaml:"thinking_budget"`
	MaxConcurrent      int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval"`
	MaxContinuations   int           `mapstructure:"max_continuations" yaml:"max_continuations"`
}

// RoutingConfig configures the task router.
type RoutingConfig struct {
	Auto            bool           `mapstructure:"auto" yaml:"auto"`
	Vision          bool           `mapstructure:"vision" yaml:"vision"`
	DefaultThinking bool           `mapstructure:"default_thinking" yaml:"default_thinking"`
	ClassifierModel string         `mapstructure:"classifier_model" yaml:"classifier_model"`
	Models          routing.Models `mapstructure:"models" yaml:"models"`
	VisionModels    routing.Models `mapstructure:"vision_models" yaml:"vision_models"`
}

// SubagentsConfig configures delegate profiles.
type SubagentsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Watch reloads profiles when files under the profile directory change.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// AutopilotConfig configures batch task execution.
type AutopilotConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers" yaml:"max_workers"`
	Parallel      bool          `mapstructure:"parallel" yaml:"parallel"`
	ExecutionMode string        `mapstructure:"execution_mode" yaml:"execution_mode"` // autopilot, supervised
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	TasksFile     string        `mapstructure:"tasks_file" yaml:"tasks_file"`
}

// SessionConfig configures conversation history and persistence.
type SessionConfig struct {
	MaxMessages  int    `mapstructure:"max_messages" yaml:"max_messages"`
	MaxTokens    int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	MinKept      int    `mapstructure:"min_kept" yaml:"min_kept"`
	Persist      bool   `mapstructure:"persist" yaml:"persist"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	gw := gateway.DefaultConfig("")
	rt := routing.DefaultConfig()
	limits := session.DefaultLimits()
	ap := autopilot.DefaultConfig()

	return &Config{
		Provider: ProviderConfig{
			BaseURL:            gw.BaseURL,
			Model:              gw.Model,
			SearchModel:        gw.SearchModel,
			SearchEngine:       gw.SearchEngine,
			Timeout:            gw.Timeout,
			Temperature:        gw.Temperature,
			MaxTokens:          gw.MaxTokens,
			ThinkingBudget:     gw.ThinkingBudget,
			MaxConcurrent:      gw.MaxConcurrent,
			MinRequestInterval: gw.MinRequestInterval,
			MaxContinuations:   gateway.DefaultMaxContinuations,
		},
		Routing: RoutingConfig{
			Auto:            rt.Auto,
			Vision:          rt.Vision,
			DefaultThinking: rt.DefaultThinking,
			ClassifierModel: rt.ClassifierModel,
			Models:          rt.Models,
			VisionModels:    rt.VisionModels,
		},
		Subagents: SubagentsConfig{Enabled: true, Watch: true},
		Autopilot: AutopilotConfig{
			MaxWorkers:    ap.MaxWorkers,
			Parallel:      ap.Parallel,
			ExecutionMode: string(orchestrator.ModeAutopilot),
			MaxRetries:    ap.Retry.MaxRetries,
			RetryDelay:    ap.Retry.BaseDelay,
			TasksFile:     filepath.Join(Dir, "tasks.yaml"),
		},
		Session: SessionConfig{
			MaxMessages:  limits.MaxMessages,
			MaxTokens:    limits.MaxTokens,
			MinKept:      limits.MinKept,
			Persist:      true,
			DatabasePath: filepath.Join(Dir, "aicore.db"),
		},
		Logging: logging.Config{Level: "info"},
	}
}

// DefaultPath returns the config file location inside workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, Dir, "config.yaml")
}

// Load reads configuration with this precedence, highest first:
//  1. Environment (AICORE_<SECTION>_<KEY>, and ZAI_API_KEY for the key)
//  2. The YAML file at path, when it exists
//  3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
			logging.BootDebug("loaded config from %s", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("AICORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("provider.api_key", "AICORE_PROVIDER_API_KEY", "ZAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding api key: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Provider.APIKey = os.ExpandEnv(cfg.Provider.APIKey)
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to all of
// them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.search_model", d.Provider.SearchModel)
	v.SetDefault("provider.search_engine", d.Provider.SearchEngine)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("provider.temperature", d.Provider.Temperature)
	v.SetDefault("provider.max_tokens", d.Provider.MaxTokens)
	v.SetDefault("provider.thinking_budget", d.Provider.ThinkingBudget)
	v.SetDefault("provider.max_concurrent", d.Provider.MaxConcurrent)
	v.SetDefault("provider.min_request_interval", d.Provider.MinRequestInterval)
	v.SetDefault("provider.max_continuations", d.Provider.MaxContinuations)

	v.SetDefault("routing.auto", d.Routing.Auto)
	v.SetDefault("routing.vision", d.Routing.Vision)
	v.SetDefault("routing.default_thinking", d.Routing.DefaultThinking)
	v.SetDefault("routing.classifier_model", d.Routing.ClassifierModel)
	v.SetDefault("routing.models.simple", d.Routing.Models.Simple)
	v.SetDefault("routing.models.medium", d.Routing.Models.Medium)
	v.SetDefault("routing.models.hard", d.Routing.Models.Hard)
	v.SetDefault("routing.vision_models.simple", d.Routing.VisionModels.Simple)
	v.SetDefault("routing.vision_models.medium", d.Routing.VisionModels.Medium)
	v.SetDefault("routing.vision_models.hard", d.Routing.VisionModels.Hard)

	v.SetDefault("subagents.enabled", d.Subagents.Enabled)
	v.SetDefault("subagents.watch", d.Subagents.Watch)

	v.SetDefault("autopilot.max_workers", d.Autopilot.MaxWorkers)
	v.SetDefault("autopilot.parallel", d.Autopilot.Parallel)
	v.SetDefault("autopilot.execution_mode", d.Autopilot.ExecutionMode)
	v.SetDefault("autopilot.max_retries", d.Autopilot.MaxRetries)
	v.SetDefault("autopilot.retry_delay", d.Autopilot.RetryDelay)
	v.SetDefault("autopilot.tasks_file", d.Autopilot.TasksFile)

	v.SetDefault("session.max_messages", d.Session.MaxMessages)
	v.SetDefault("session.max_tokens", d.Session.MaxTokens)
	v.SetDefault("session.min_kept", d.Session.MinKept)
	v.SetDefault("session.persist", d.Session.Persist)
	v.SetDefault("session.database_path", d.Session.DatabasePath)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.json_format", d.Logging.JSONFormat)
}

// Save writes the configuration as YAML. The API key is never written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Provider.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ErrNoAPIKey is reported by Validate when no key is configured.
var ErrNoAPIKey = errors.New("API key not configured (set ZAI_API_KEY or provider.api_key)")

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Provider.APIKey == "" {
		errs = append(errs, ErrNoAPIKey)
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is empty"))
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 1 {
		errs = append(errs, fmt.Errorf("provider.temperature %.2f outside [0, 1]", c.Provider.Temperature))
	}
	switch orchestrator.ExecutionMode(c.Autopilot.ExecutionMode) {
	case orchestrator.ModeAutopilot, orchestrator.ModeSupervised:
	default:
		errs = append(errs, fmt.Errorf("invalid autopilot.execution_mode %q (valid: autopilot, supervised)", c.Autopilot.ExecutionMode))
	}
	if c.Autopilot.MaxWorkers < 0 || c.Autopilot.MaxRetries < 0 {
		errs = append(errs, errors.New("autopilot.max_workers and autopilot.max_retries must not be negative"))
	}
	if c.Session.MaxMessages < 1 || c.Session.MaxTokens < 1 || c.Session.MinKept < 0 {
		errs = append(errs, errors.New("session limits must be positive"))
	}
	return errors.Join(errs...)
}

// Gateway returns the chat gateway configuration.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		APIKey:             c.Provider.APIKey,
		BaseURL:            c.Provider.BaseURL,
		Model:              c.Provider.Model,
		SearchModel:        c.Provider.SearchModel,
		SearchEngine:       c.Provider.SearchEngine,
		Timeout:            c.Provider.Timeout,
		Temperature:        c.Provider.Temperature,
		MaxTokens:          c.Provider.MaxTokens,
		ThinkingBudget:     c.Provider.ThinkingBudget,
		MaxConcurrent:      c.Provider.MaxConcurrent,
		MinRequestInterval: c.Provider.MinRequestInterval,
	}
}

// RoutingConfig returns the router configuration. The fixed plan uses the
// provider's default model.
func (c *Config) RoutingConfig() routing.Config {
	return routing.Config{
		Auto:            c.Routing.Auto,
		Vision:          c.Routing.Vision,
		DefaultModel:    c.Provider.Model,
		DefaultThinking: c.Routing.DefaultThinking,
		ClassifierModel: c.Routing.ClassifierModel,
		Models:          c.Routing.Models,
		VisionModels:    c.Routing.VisionModels,
	}
}

// SessionLimits returns the history bounds.
func (c *Config) SessionLimits() session.Limits {
	return session.Limits{MaxMessages: c.Session.MaxMessages, MaxTokens: c.Session.MaxTokens, MinKept: c.Session.MinKept}
}

// Orchestrator returns the behavior switches of an instance.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		SubagentsEnabled: c.Subagents.Enabled,
		ExecutionMode:    orchestrator.ExecutionMode(c.Autopilot.ExecutionMode),
		Autopilot: autopilot.Config{
			MaxWorkers: c.Autopilot.MaxWorkers,
			Parallel:   c.Autopilot.Parallel,
			Retry:      retry.Policy{MaxRetries: c.Autopilot.MaxRetries, BaseDelay: c.Autopilot.RetryDelay},
		},
	}
}

// ResolvePath anchors a configured relative path at workspace.
func ResolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
