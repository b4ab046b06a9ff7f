// Package config loads and validates the orchestrator configuration.
//
// Configuration is a single JSON file read once at startup. Defaults are
// applied before validation, and validation happens before anything is
// wired. The loaded Config is passed to components by value. Runtime state
// (mission progress, monitor checkpoints) never lives here, it belongs in
// the store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Driver string `json:"driver"` // sqlite, postgres, or memory
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// MonitorConfig parameterizes the monitoring supervisor.
type MonitorConfig struct {
	PollIntervalMS  int `json:"poll_interval_ms"`  // delay between poll iterations
	TimeoutSeconds  int `json:"timeout_seconds"`   // overall monitoring deadline
	MaxRetries      int `json:"max_retries"`       // consecutive query failures before ERRORED
	QueryTimeoutMS  int `json:"query_timeout_ms"`  // per-call status query deadline
	RecordTTLMinute int `json:"record_ttl_minutes"` // expiry grace for stale record GC
}

func (c MonitorConfig) PollInterval() time.Duration { return time.Duration(c.PollIntervalMS) * time.Millisecond }
func (c MonitorConfig) Timeout() time.Duration      { return time.Duration(c.TimeoutSeconds) * time.Second }
func (c MonitorConfig) QueryTimeout() time.Duration { return time.Duration(c.QueryTimeoutMS) * time.Millisecond }
func (c MonitorConfig) RecordTTL() time.Duration    { return time.Duration(c.RecordTTLMinute) * time.Minute }

// DispatchConfig sizes the dispatcher's channels.
type DispatchConfig struct {
	QueueSize      int `json:"queue_size"`       // inbound message queue
	AgentQueueSize int `json:"agent_queue_size"` // per-agent task channel
	ResultsSize    int `json:"results_size"`     // outbound result channel
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// Config is the full orchestrator configuration.
type Config struct {
	Storage     StorageConfig  `json:"storage"`
	Monitor     MonitorConfig  `json:"monitor"`
	Dispatch    DispatchConfig `json:"dispatch"`
	Metrics     MetricsConfig  `json:"metrics"`
	EventLogDir string         `json:"event_log_dir,omitempty"`
}

// Default returns the configuration used when no file is given: in-memory
// storage, 1s polling with a 300s deadline and 5 retries.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Driver: "memory"},
		Monitor: MonitorConfig{
			PollIntervalMS:  1000,
			TimeoutSeconds:  300,
			MaxRetries:      5,
			QueryTimeoutMS:  5000,
			RecordTTLMinute: 15,
		},
		Dispatch: DispatchConfig{
			QueueSize:      100,
			AgentQueueSize: 10,
			ResultsSize:    100,
		},
		Metrics: MetricsConfig{Enabled: false, Addr: ":9090"},
	}
}

// Load reads the JSON config at path, fills in defaults for omitted fields,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Monitor.PollIntervalMS <= 0 {
		return fmt.Errorf("monitor.poll_interval_ms must be positive")
	}
	if c.Monitor.TimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.timeout_seconds must be positive")
	}
	if c.Monitor.MaxRetries <= 0 {
		return fmt.Errorf("monitor.max_retries must be positive")
	}
	if c.Monitor.QueryTimeoutMS <= 0 {
		return fmt.Errorf("monitor.query_timeout_ms must be positive")
	}
	if c.Monitor.RecordTTLMinute <= 0 {
		return fmt.Errorf("monitor.record_ttl_minutes must be positive")
	}

	if c.Dispatch.QueueSize <= 0 || c.Dispatch.AgentQueueSize <= 0 || c.Dispatch.ResultsSize <= 0 {
		return fmt.Errorf("dispatch queue sizes must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}
