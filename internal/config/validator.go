package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/harun/oni/pkg/session"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseURL validates the completion endpoint URL
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q (scheme must be http or https)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q (missing host)", raw)
	}
	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.ContainsAny(model, " \t\r\n") {
		return fmt.Errorf("invalid model name %q (must not contain whitespace)", model)
	}
	return nil
}

// ValidateMaxSessions validates the per-user session cap
func (v *Validator) ValidateMaxSessions(n int) error {
	if n <= 0 {
		return fmt.Errorf("max sessions per user must be positive, got %d", n)
	}
	if n > 1000 {
		return fmt.Errorf("max sessions per user too large (max 1000), got %d", n)
	}
	return nil
}

// ValidateSchedule validates a sync schedule
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil // Use default
	}
	if _, err := session.ParseSchedule(spec); err != nil {
		return err
	}
	return nil
}

// ValidateSessionName validates the default session name
func (v *Validator) ValidateSessionName(name string) error {
	if name == "" {
		return nil // Use default
	}
	return session.NewKey("guild", "user", name).Validate()
}

// ValidateTimeout validates the model request timeout
func (v *Validator) ValidateTimeout(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", seconds)
	}
	if seconds > 3600 {
		return fmt.Errorf("timeout too large (max 3600s), got %d", seconds)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateAddr validates a host:port listen address
func (v *Validator) ValidateAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateMaxSessions(cfg.Sessions.MaxPerUser); err != nil {
		errors = append(errors, fmt.Errorf("sessions.max_per_user: %w", err))
	}
	if err := v.ValidateSchedule(cfg.Sessions.SyncSchedule); err != nil {
		errors = append(errors, fmt.Errorf("sessions.sync_schedule: %w", err))
	}
	if err := v.ValidateSessionName(cfg.Sessions.DefaultName); err != nil {
		errors = append(errors, fmt.Errorf("sessions.default_name: %w", err))
	}

	if err := v.ValidateBaseURL(cfg.LLM.BaseURL); err != nil {
		errors = append(errors, fmt.Errorf("llm.base_url: %w", err))
	}
	if err := v.ValidateModel(cfg.LLM.DefaultModel); err != nil {
		errors = append(errors, fmt.Errorf("llm.default_model: %w", err))
	}
	if err := v.ValidateTimeout(cfg.LLM.TimeoutSeconds); err != nil {
		errors = append(errors, fmt.Errorf("llm.timeout_seconds: %w", err))
	}
	if cfg.LLM.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("llm.max_retries must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, fmt.Errorf("logging.level: %w", err))
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 {
		errors = append(errors, fmt.Errorf("logging.max_age must be >= 0"))
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateAddr(cfg.Metrics.Addr); err != nil {
			errors = append(errors, fmt.Errorf("metrics.addr: %w", err))
		}
	}

	return errors
}
