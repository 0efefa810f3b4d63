package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir   string `json:"dataDir"`
	FsyncMode string `json:"fsyncMode"` // always | interval | never
	HTTPAddr  string `json:"httpAddr"`

	Queue  Queue  `json:"queue"`
	Worker Worker `json:"worker"`
	Mirror Mirror `json:"mirror"`
	Notify Notify `json:"notify"`

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // text | json
}

// Queue names the tubes and their lease behavior.
type Queue struct {
	MainTube string `json:"mainTube"`
	CSVTube  string `json:"csvTube"`
	// LeaseMs is the time-to-run granted per reservation.
	LeaseMs int64 `json:"leaseMs"`
	// SweepIntervalMs paces the expired-lease sweeper.
	SweepIntervalMs int64 `json:"sweepIntervalMs"`
}

// Worker tunes the submission processing pool.
type Worker struct {
	Concurrency      int   `json:"concurrency"`
	ReserveTimeoutMs int64 `json:"reserveTimeoutMs"`
	MaxAttempts      int   `json:"maxAttempts"`
	BackoffBaseMs    int64 `json:"backoffBaseMs"`
	BackoffCapMs     int64 `json:"backoffCapMs"`
}

// Mirror configures the AMQP event mirror. An empty URL disables it.
type Mirror struct {
	AMQPURL  string `json:"amqpUrl"`
	Exchange string `json:"exchange"`
}

// Notify tunes the operator notification feed.
type Notify struct {
	TTLMs int64 `json:"ttlMs"`
	Limit int   `json:"limit"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:   DefaultDataDir(),
		FsyncMode: "always",
		HTTPAddr:  ":8080",
		Queue: Queue{
			MainTube:        "submissions",
			CSVTube:         "submissions-csv",
			LeaseMs:         60_000,
			SweepIntervalMs: 1_000,
		},
		Worker: Worker{
			Concurrency:      2,
			ReserveTimeoutMs: 5_000,
			MaxAttempts:      5,
			BackoffBaseMs:    2_000,
			BackoffCapMs:     300_000,
		},
		Mirror: Mirror{
			Exchange: "roster.mirror",
		},
		Notify: Notify{
			TTLMs: 24 * 60 * 60 * 1000,
			Limit: 50,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults. Env overlays are applied separately via FromEnv.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if ext := filepath.Ext(path); ext != ".json" && ext != "" {
		return Config{}, fmt.Errorf("unsupported config format %q; use JSON", ext)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	switch c.FsyncMode {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("fsyncMode %q: expected always, interval or never", c.FsyncMode)
	}
	if c.Queue.MainTube == "" || c.Queue.CSVTube == "" {
		return fmt.Errorf("queue tube names must not be empty")
	}
	if c.Queue.MainTube == c.Queue.CSVTube {
		return fmt.Errorf("queue tubes must be distinct")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker maxAttempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	return nil
}
