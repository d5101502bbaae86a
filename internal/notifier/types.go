package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"intakebot/internal/metrics"
	rtsup "intakebot/internal/runtime/supervisor"
	kit "intakebot/internal/transport"
	"intakebot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the relay worker pool.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

// UserLister supplies relay recipients. intake.Service implements it.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

type job struct {
	id      string
	text    string
	targets []kit.ChatTarget
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	sender  kit.Sender
	users   UserLister
	log     logx.Logger
	metrics *metrics.Metrics

	limiter *rate.Limiter
	queue   chan job
	sup     *rtsup.Supervisor
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return cfg
}
