package app

import (
	"fmt"
	"strings"
	"time"

	"intakebot/internal/config"
	"intakebot/internal/notifier"
	"intakebot/internal/observability/pprof"
	"intakebot/internal/realtime"
	"intakebot/internal/storage"
	"intakebot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		if path == "" {
			path = "data"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy <= 0 {
			busy = time.Second
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := cfg.Notifier
	return notifier.Config{
		Enabled:    nc.Enabled,
		Workers:    nc.Workers,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
		RetryMax:   nc.RetryMax,
		RetryBase:  config.DurationOr(nc.RetryBase, 200*time.Millisecond),
	}
}

func mapRealtimeConfig(cfg *config.Config) realtime.Config {
	return realtime.Config{
		WriteTimeout: config.DurationOr(cfg.Realtime.WriteTimeout, 5*time.Second),
		ReadLimit:    cfg.Realtime.ReadLimit,
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	pc := cfg.Pprof
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Token:                pc.Token,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
	}
}
