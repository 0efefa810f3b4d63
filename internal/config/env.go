package config

import (
	"os"
	"strconv"
)

// FromEnv overlays ROSTER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("ROSTER_DATA_DIR", &cfg.DataDir)
	str("ROSTER_FSYNC_MODE", &cfg.FsyncMode)
	str("ROSTER_HTTP_ADDR", &cfg.HTTPAddr)
	str("ROSTER_QUEUE_MAIN_TUBE", &cfg.Queue.MainTube)
	str("ROSTER_QUEUE_CSV_TUBE", &cfg.Queue.CSVTube)
	num("ROSTER_QUEUE_LEASE_MS", &cfg.Queue.LeaseMs)
	num("ROSTER_QUEUE_SWEEP_INTERVAL_MS", &cfg.Queue.SweepIntervalMs)
	num("ROSTER_WORKER_RESERVE_TIMEOUT_MS", &cfg.Worker.ReserveTimeoutMs)
	num("ROSTER_WORKER_BACKOFF_BASE_MS", &cfg.Worker.BackoffBaseMs)
	num("ROSTER_WORKER_BACKOFF_CAP_MS", &cfg.Worker.BackoffCapMs)
	str("ROSTER_MIRROR_AMQP_URL", &cfg.Mirror.AMQPURL)
	str("ROSTER_MIRROR_EXCHANGE", &cfg.Mirror.Exchange)
	num("ROSTER_NOTIFY_TTL_MS", &cfg.Notify.TTLMs)
	str("ROSTER_LOG_LEVEL", &cfg.LogLevel)
	str("ROSTER_LOG_FORMAT", &cfg.LogFormat)

	if v := os.Getenv("ROSTER_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("ROSTER_WORKER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxAttempts = n
		}
	}
	if v := os.Getenv("ROSTER_NOTIFY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Notify.Limit = n
		}
	}
}
