package notifier

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"intakebot/internal/metrics"
	rtsup "intakebot/internal/runtime/supervisor"
	kit "intakebot/internal/transport"
	"intakebot/pkg/logx"
)

// New builds a relay service. A nil sender leaves the service disabled:
// relays are dropped with a warning.
func New(cfg Config, sender kit.Sender, users UserLister, log logx.Logger, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	return &Service{
		cfg:     cfg,
		sender:  sender,
		users:   users,
		log:     log,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan job, cfg.QueueSize),
	}
}

// Enabled reports whether relays are accepted.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Apply swaps the runtime-tunable settings. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.RatePerSec != s.cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
	s.log.Debug("config applied", logx.Bool("enabled", cfg.Enabled), logx.Int("rps", cfg.RatePerSec), logx.Int("retry_max", cfg.RetryMax))
}

// Relay enqueues text for every registered user and returns the number of
// recipients. It does not wait for delivery.
func (s *Service) Relay(ctx context.Context, text string) (int, error) {
	if !s.Enabled() {
		s.log.Warn("relay dropped; notifier disabled", logx.Int("text_len", len(text)))
		return 0, ErrDisabled
	}
	names, err := s.users.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	if len(names) == 0 {
		s.log.Debug("relay skipped; no registered users")
		return 0, nil
	}
	targets := make([]kit.ChatTarget, 0, len(names))
	for _, u := range names {
		targets = append(targets, kit.ChatTarget{Username: u})
	}
	j := job{id: fmt.Sprintf("relay:%d", time.Now().UnixNano()), text: text, targets: targets}

	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()
	if !running {
		s.log.Warn("relay dropped; notifier not running", logx.String("job", j.id))
		return 0, ErrStopped
	}
	select {
	case s.queue <- j:
		s.log.Debug("relay enqueued", logx.String("job", j.id), logx.Int("total", len(targets)), logx.Int("queue_len", len(s.queue)))
		return len(targets), nil
	default:
		s.log.Warn("relay queue full; dropping job", logx.String("job", j.id), logx.Int("queue_cap", cap(s.queue)))
		return 0, ErrQueueFull
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		s.sup.Go0(fmt.Sprintf("notifier.worker.%d", idx), func(c context.Context) {
			s.worker(c, idx)
		})
	}
	s.log.Info("service started", logx.Int("workers", s.cfg.Workers), logx.Int("rps", s.cfg.RatePerSec), logx.Bool("enabled", s.cfg.Enabled && s.sender != nil))
}

// Stop cancels in-flight sends and waits for workers until ctx expires.
// Jobs still queued are kept for a later Start.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil {
		return err
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return nil
}
