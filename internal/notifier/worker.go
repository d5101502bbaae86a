package notifier

import (
	"context"
	"time"

	kit "intakebot/internal/transport"
	"intakebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, idx int) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.execJob(ctx, j, idx)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job, idx int) {
	start := time.Now()
	failed := 0
	for _, t := range j.targets {
		if ctx.Err() != nil {
			break
		}
		err := s.sendOne(ctx, j.id, t, j.text)
		s.metrics.ObserveRelaySend(err == nil)
		if err != nil {
			failed++
		}
	}

	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int("worker", idx),
		logx.Int("total", len(j.targets)),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		s.log.Warn("relay finished with failures", fields...)
		return
	}
	s.log.Info("relay finished", fields...)
}

func (s *Service) sendOne(ctx context.Context, jobID string, t kit.ChatTarget, text string) error {
	// Snapshot mutable dependencies to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	base := s.cfg.RetryBase
	sender := s.sender
	s.mu.Unlock()

	var last error
	for i := 0; i <= retry; i++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		_, err := sender.SendText(ctx, t, text, nil)
		if err == nil {
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := base + time.Duration(i)*base/2
		s.log.Debug("relay send retry scheduled", logx.String("job", jobID), logx.String("to", t.String()), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("relay send failed", logx.String("job", jobID), logx.String("to", t.String()), logx.Err(last))
	return last
}
