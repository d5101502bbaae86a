package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects values that cannot be applied.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: out of range: %d", c.HTTP.Port))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	if c.Notifier.Workers < 0 || c.Notifier.QueueSize < 0 || c.Notifier.RatePerSec < 0 || c.Notifier.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: counts must be >= 0"))
	}
	for path, raw := range map[string]string{
		"http.shutdown_timeout":  c.HTTP.ShutdownTimeout,
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
		"notifier.retry_base":    c.Notifier.RetryBase,
		"realtime.write_timeout": c.Realtime.WriteTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
