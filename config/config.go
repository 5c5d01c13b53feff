package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/logging"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTRELAY_RESPONDER_PROVIDER=openai.
const EnvPrefix = "AGENTRELAY"

// Config is the complete relay configuration.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Responder    ResponderConfig    `mapstructure:"responder" yaml:"responder"`
	Conversation ConversationConfig `mapstructure:"conversation" yaml:"conversation"`
	Execution    ExecutionConfig    `mapstructure:"execution" yaml:"execution"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Retention    RetentionConfig    `mapstructure:"retention" yaml:"retention"`
	Events       EventsConfig       `mapstructure:"events" yaml:"events"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

// ResponderConfig selects the backend that produces replies.
type ResponderConfig struct {
	// Provider is one of mock, openai, anthropic or ollama.
	Provider     string  `mapstructure:"provider" yaml:"provider"`
	Model        string  `mapstructure:"model" yaml:"model"`
	APIKey       string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	SystemPrompt string  `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int64   `mapstructure:"max_tokens" yaml:"max_tokens"`
	Streaming    bool    `mapstructure:"streaming" yaml:"streaming"`
	Workers      int64   `mapstructure:"workers" yaml:"workers"`
}

type ConversationConfig struct {
	ShortInputTokens int      `mapstructure:"short_input_tokens" yaml:"short_input_tokens"`
	TriggerMaxTokens int      `mapstructure:"trigger_max_tokens" yaml:"trigger_max_tokens"`
	TriggerPhrases   []string `mapstructure:"trigger_phrases" yaml:"trigger_phrases"`
}

type ExecutionConfig struct {
	LongKeywords []string `mapstructure:"long_keywords" yaml:"long_keywords"`
	ContextTurns int      `mapstructure:"context_turns" yaml:"context_turns"`
}

// StoreConfig selects where tasks and sessions live.
type StoreConfig struct {
	// Driver is memory or sqlite.
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Path     string `mapstructure:"path" yaml:"path"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// RetentionConfig controls pruning of finished tasks.
type RetentionConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// MaxTerminal caps retained terminal tasks in the memory store; 0 is unbounded.
	MaxTerminal int `mapstructure:"max_terminal" yaml:"max_terminal"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

var defaults = map[string]any{
	"logging.level":                   "info",
	"logging.format":                  "text",
	"logging.add_source":              false,
	"responder.provider":              "mock",
	"responder.model":                 "",
	"responder.api_key":               "",
	"responder.system_prompt":         "",
	"responder.temperature":           0.7,
	"responder.max_tokens":            4096,
	"responder.streaming":             false,
	"responder.workers":               8,
	"conversation.short_input_tokens": 3,
	"conversation.trigger_max_tokens": 6,
	"conversation.trigger_phrases":    []string{"help", "help me", "assist", "i need help"},
	"execution.long_keywords":         []string{"analyze", "research", "report", "comprehensive", "detailed", "complex", "in-depth"},
	"execution.context_turns":         4,
	"store.driver":                    "memory",
	"store.path":                      "agentrelay.db",
	"store.pool_size":                 4,
	"retention.max_age":               24 * time.Hour,
	"retention.interval":              time.Hour,
	"retention.max_terminal":          0,
	"events.buffer_size":              100,
}

// Default returns the built-in defaults with environment overrides applied.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults alone always decode and validate
		panic(err)
	}
	return cfg
}

// Load reads the configuration. An empty path skips the file; environment
// variables are always applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported %q", c.Logging.Format))
	}

	switch c.Responder.Provider {
	case "mock", "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("responder.provider: unsupported %q", c.Responder.Provider))
	}
	if c.Responder.Workers < 1 {
		errs = append(errs, errors.New("responder.workers must be at least 1"))
	}
	if c.Responder.Temperature < 0 || c.Responder.Temperature > 2 {
		errs = append(errs, errors.New("responder.temperature must be within [0,2]"))
	}

	if c.Conversation.ShortInputTokens < 0 || c.Conversation.TriggerMaxTokens < 0 {
		errs = append(errs, errors.New("conversation thresholds must not be negative"))
	}
	if c.Execution.ContextTurns < 0 {
		errs = append(errs, errors.New("execution.context_turns must not be negative"))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported %q", c.Store.Driver))
	}

	if c.Retention.MaxAge < 0 || c.Retention.Interval < 0 || c.Retention.MaxTerminal < 0 {
		errs = append(errs, errors.New("retention values must not be negative"))
	}
	if c.Events.BufferSize < 0 {
		errs = append(errs, errors.New("events.buffer_size must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() (string, error) {
	cp := *c
	if cp.Responder.APIKey != "" {
		cp.Responder.APIKey = "****"
	}
	b, err := yaml.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}

// LoggerConfig maps the logging section onto a logging.LoggerConfig.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
		lc.Level = lvl
	}
	lc.Format = c.Logging.Format
	lc.AddSource = c.Logging.AddSource
	return lc
}
