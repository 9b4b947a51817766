package config

import (
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/harun/oni/pkg/chat"
	"github.com/harun/oni/pkg/llm"
	"github.com/harun/oni/pkg/session"
)

// Config represents the main oni configuration
type Config struct {
	// Data directory; relative store, log and audit paths resolve against it
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Session store
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Language model endpoint
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`
}

// SessionsConfig configures the session manager and its sync scheduler
type SessionsConfig struct {
	DBPath       string `json:"db_path" mapstructure:"db_path"`
	MaxPerUser   int    `json:"max_per_user" mapstructure:"max_per_user"`
	SyncSchedule string `json:"sync_schedule" mapstructure:"sync_schedule"` // cron spec or @every descriptor
	SyncOnStart  bool   `json:"sync_on_start" mapstructure:"sync_on_start"`
	DefaultName  string `json:"default_name" mapstructure:"default_name"`
}

// LLMConfig configures the OpenAI-compatible completion endpoint
type LLMConfig struct {
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	DefaultModel   string `json:"default_model" mapstructure:"default_model"`
	SystemPrompt   string `json:"system_prompt" mapstructure:"system_prompt"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries" mapstructure:"max_retries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"` // empty means a per-run file under <data_dir>/logs
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus listener
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Sessions: SessionsConfig{
			MaxPerUser:   session.DefaultMaxSessions,
			SyncSchedule: session.DefaultSyncSchedule,
			SyncOnStart:  true,
			DefaultName:  chat.DefaultSessionName,
		},
		LLM: LLMConfig{
			BaseURL:        llm.DefaultBaseURL,
			DefaultModel:   llm.DefaultModel,
			SystemPrompt:   llm.DefaultSystemPrompt,
			TimeoutSeconds: int(llm.DefaultTimeout.Seconds()),
			MaxRetries:     2,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// LogDir is where per-run log files go when logging.file is unset.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Sessions.DBPath == "" {
		return errors.New("sessions.db_path is required")
	}
	if c.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
