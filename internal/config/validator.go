package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// hookEvents is the closed set of lifecycle events hooks can bind to.
var hookEvents = []string{"plan.completed", "plan.failed", "block.degraded"}

// Validator validates configuration values
type Validator struct {
	cronParser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		cronParser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
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

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1..65535)", port)
	}
	return nil
}

// ValidateCronSpec validates a cron schedule expression, including @every
// and @daily style descriptors.
func (v *Validator) ValidateCronSpec(spec string) error {
	if spec == "" {
		return fmt.Errorf("cron spec cannot be empty")
	}
	if _, err := v.cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// ValidateEndpoint validates an HTTP(S) endpoint URL
func (v *Validator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateHookEvent validates a lifecycle hook event name
func (v *Validator) ValidateHookEvent(event string) error {
	for _, known := range hookEvents {
		if event == known {
			return nil
		}
	}
	return fmt.Errorf("unknown hook event: %s (must be one of: %s)", event, strings.Join(hookEvents, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	// Validate gateway
	if cfg.Gateway.Enabled {
		if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
			errors = append(errors, fmt.Errorf("gateway: %w", err))
		}
	}

	// Validate telemetry
	if cfg.Telemetry.Enabled {
		if err := v.ValidateCronSpec(cfg.Telemetry.FlushSchedule); err != nil {
			errors = append(errors, fmt.Errorf("telemetry: %w", err))
		}
		if cfg.Telemetry.Endpoint != "" {
			if err := v.ValidateEndpoint(cfg.Telemetry.Endpoint); err != nil {
				errors = append(errors, fmt.Errorf("telemetry: %w", err))
			}
		}
		if cfg.Telemetry.BufferLimit < 0 {
			errors = append(errors, fmt.Errorf("telemetry buffer_limit must be >= 0"))
		}
	}

	// Validate history
	if cfg.History.RetentionDays < 0 {
		errors = append(errors, fmt.Errorf("history retention_days must be >= 0"))
	}
	if cfg.History.PruneSchedule != "" {
		if err := v.ValidateCronSpec(cfg.History.PruneSchedule); err != nil {
			errors = append(errors, fmt.Errorf("history: %w", err))
		}
	}

	// Validate watcher
	if cfg.Watch.DebounceMs < 0 {
		errors = append(errors, fmt.Errorf("watch debounce_ms must be >= 0"))
	}

	// Validate hooks
	if cfg.Hooks.Enabled {
		for i, hook := range cfg.Hooks.Entries {
			if !hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.Event) == "" {
				errors = append(errors, fmt.Errorf("hook %d: event is required", i))
				continue
			}
			if err := v.ValidateHookEvent(hook.Event); err != nil {
				errors = append(errors, fmt.Errorf("hook %d: %w", i, err))
			}
			if strings.TrimSpace(hook.Script) == "" {
				errors = append(errors, fmt.Errorf("hook %d: script is required", i))
			}
		}
	}

	// Validate tracing
	if cfg.Tracing.Enabled {
		if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
			errors = append(errors, fmt.Errorf("tracing: %w", err))
		}
	}

	return errors
}
