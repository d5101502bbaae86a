// Package intake implements the request and registered-user operations.
//
// Every operation is a whole-collection read (and, for mutations, a
// whole-collection write) against storage. Mutations made through one
// Service are serialised; separate processes sharing a data directory can
// still lose updates.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"intakebot/internal/metrics"
	"intakebot/internal/realtime"
	"intakebot/internal/storage"
	"intakebot/pkg/logx"
)

var ErrInvalidUsername = errors.New("username is required")

// Request is an open-ended record supplied by the caller plus the
// server-assigned numeric "id".
type Request map[string]any

// ID returns the numeric identifier of r.
func (r Request) ID() (int64, bool) { return numericID(r["id"]) }

// Publisher receives change events. realtime.Hub implements it.
type Publisher interface {
	Broadcast(ev realtime.Event) int
}

type Option func(*Service)

// WithClock overrides the identifier clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store   storage.Store
	pub     Publisher
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// mu serialises read-modify-write sequences.
	mu sync.Mutex
}

func New(store storage.Store, pub Publisher, log logx.Logger, m *metrics.Metrics, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, pub: pub, log: log, metrics: m, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List returns every stored request, unfiltered.
func (s *Service) List(ctx context.Context) ([]Request, error) {
	items, err := s.store.ReadAll(ctx, storage.Requests)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	out := make([]Request, 0, len(items))
	for i, raw := range items {
		var r Request
		if err := decodeNumber(raw, &r); err != nil {
			return nil, fmt.Errorf("decode request #%d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Create stores a copy of fields with a fresh "id" (Unix milliseconds) and
// publishes a new-request event carrying the full record. A caller-supplied
// "id" is overwritten.
func (s *Service) Create(ctx context.Context, fields map[string]any) (Request, error) {
	rec := make(Request, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = s.now().UnixMilli()

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	s.mu.Lock()
	items, err := s.store.ReadAll(ctx, storage.Requests)
	if err == nil {
		items = append(items, raw)
		err = s.store.WriteAll(ctx, storage.Requests, items)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}

	s.metrics.RequestCreated()
	s.publish(realtime.NewRequestEvent(rec))
	id, _ := rec.ID()
	s.log.Debug("request created", logx.Int64("id", id), logx.Int("total", len(items)))
	return rec, nil
}

// Delete removes the first request whose id equals id and publishes a
// delete-request event. A missing id leaves the collection unchanged and is
// not an error; the event is still published.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	removed, err := s.deleteLocked(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	if removed {
		s.metrics.RequestDeleted()
	}
	s.publish(realtime.DeleteRequestEvent(id))
	s.log.Debug("request delete", logx.Int64("id", id), logx.Bool("removed", removed))
	return removed, nil
}

func (s *Service) deleteLocked(ctx context.Context, id int64) (bool, error) {
	items, err := s.store.ReadAll(ctx, storage.Requests)
	if err != nil {
		return false, fmt.Errorf("read requests: %w", err)
	}
	idx := -1
	for i, raw := range items {
		if got, ok := rawID(raw); ok && got == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	items = append(items[:idx], items[idx+1:]...)
	if err := s.store.WriteAll(ctx, storage.Requests, items); err != nil {
		return false, fmt.Errorf("persist requests: %w", err)
	}
	return true, nil
}

// RegisterUser adds username to the notification list unless present.
// It reports whether the username was newly added.
func (s *Service) RegisterUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.store.ReadAll(ctx, storage.Users)
	if err != nil {
		return false, fmt.Errorf("read users: %w", err)
	}
	for _, raw := range items {
		var u string
		if json.Unmarshal(raw, &u) == nil && u == username {
			return false, nil
		}
	}
	raw, err := json.Marshal(username)
	if err != nil {
		return false, err
	}
	if err := s.store.WriteAll(ctx, storage.Users, append(items, raw)); err != nil {
		return false, fmt.Errorf("persist users: %w", err)
	}
	s.metrics.UserRegistered()
	s.log.Info("user registered", logx.String("username", username), logx.Int("total", len(items)+1))
	return true, nil
}

// Users returns the registered usernames in insertion order. Entries that
// are not strings are skipped.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	items, err := s.store.ReadAll(ctx, storage.Users)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, raw := range items {
		var u string
		if err := json.Unmarshal(raw, &u); err != nil || u == "" {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Service) publish(ev realtime.Event) {
	if s.pub == nil {
		return
	}
	s.pub.Broadcast(ev)
}

func decodeNumber(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func rawID(raw json.RawMessage) (int64, bool) {
	var probe struct {
		ID any `json:"id"`
	}
	if err := decodeNumber(raw, &probe); err != nil {
		return 0, false
	}
	return numericID(probe.ID)
}

func numericID(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}
