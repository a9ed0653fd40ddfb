package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main docplan configuration
type Config struct {
	// Engine tuning
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Capability telemetry
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Execution history store
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Plan drop-box watcher
	Watch WatchConfig `json:"watch" mapstructure:"watch"`

	// Lifecycle hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// OpenTelemetry tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// EngineConfig tunes plan execution. Zero values mean the engine's own
// defaults apply.
type EngineConfig struct {
	MaxPayloadBytes int `json:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	SyncTimeoutMs   int `json:"sync_timeout_ms" mapstructure:"sync_timeout_ms"`
	MaxBlockDepth   int `json:"max_block_depth" mapstructure:"max_block_depth"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// TelemetryConfig holds capability-telemetry collector configuration.
// Endpoint is the HTTP POST target for flushed batches; empty keeps events
// local (store and metrics only).
type TelemetryConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint       string `json:"endpoint" mapstructure:"endpoint"`
	FlushSchedule  string `json:"flush_schedule" mapstructure:"flush_schedule"`
	BufferLimit    int    `json:"buffer_limit" mapstructure:"buffer_limit"`
	DBPath         string `json:"db_path" mapstructure:"db_path"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// HistoryConfig holds execution-log configuration.
type HistoryConfig struct {
	DBPath        string `json:"db_path" mapstructure:"db_path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// WatchConfig holds drop-box watcher configuration. An empty Dir disables
// the watcher in serve mode.
type WatchConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	DebounceMs int    `json:"debounce_ms" mapstructure:"debounce_ms"`
}

// HooksConfig holds lifecycle hook configuration
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Entries []HookConfig `json:"entries" mapstructure:"entries"`
}

// HookConfig is one lifecycle hook: a script run on a named event.
type HookConfig struct {
	Event   string `json:"event" mapstructure:"event"`
	Script  string `json:"script" mapstructure:"script"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Enabled:      true,
			Port:         8080,
			Host:         "0.0.0.0",
			SharedSecret: "",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			FlushSchedule:  "@every 30s",
			BufferLimit:    1000,
			TimeoutSeconds: 10,
		},
		History: HistoryConfig{
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Watch: WatchConfig{
			DebounceMs: 500,
		},
		Hooks: HooksConfig{
			Enabled: false,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "docplan",
			SampleRatio: 0.1,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Enabled {
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("gateway port %d out of range 1..65535", c.Gateway.Port)
		}
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention_days must be >= 0")
	}

	if c.Hooks.Enabled {
		for i, hook := range c.Hooks.Entries {
			if !hook.Enabled {
				continue
			}
			if hook.Event == "" {
				return fmt.Errorf("hook %d: event is required", i)
			}
			if hook.Script == "" {
				return fmt.Errorf("hook %d: script is required", i)
			}
		}
	}

	return nil
}
