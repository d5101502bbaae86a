package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"intakebot/internal/realtime"
	"intakebot/internal/storage"
	"intakebot/pkg/logx"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Broadcast(ev realtime.Event) int {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return 1
}

func (p *recordingPublisher) snapshot() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events...)
}

// steppingClock returns a clock that advances one millisecond per call so
// identifiers are distinct within a test.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	pub := &recordingPublisher{}
	return New(st, pub, logx.Nop(), nil, WithClock(steppingClock())), pub
}

func TestCreateKeepsFieldsAndAssignsID(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, map[string]any{"title": "fix sink", "floor": "3", "id": "client-id"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec["title"] != "fix sink" || rec["floor"] != "3" {
		t.Fatalf("submitted fields missing: %#v", rec)
	}
	id, ok := rec.ID()
	if !ok || id != 1_700_000_000_001 {
		t.Fatalf("id = %v (ok=%v), want server-assigned 1700000000001", rec["id"], ok)
	}

	events := pub.snapshot()
	if len(events) != 1 || events[0].Type != realtime.TypeNewRequest {
		t.Fatalf("expected one new-request event, got %#v", events)
	}
	if data, _ := events[0].Data.(Request); data["title"] != "fix sink" {
		t.Fatalf("event data = %#v, want created record", events[0].Data)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List returned %d records, want 1", len(list))
	}
	if got, _ := list[0].ID(); got != id {
		t.Fatalf("stored id = %d, want %d", got, id)
	}
}

func TestDeleteRemovesOnlyMatchingRecord(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	const n = 5
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		rec, err := svc.Create(ctx, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		id, _ := rec.ID()
		ids = append(ids, id)
	}

	removed, err := svc.Delete(ctx, ids[2])
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !removed {
		t.Fatal("expected record to be removed")
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != n-1 {
		t.Fatalf("List returned %d records, want %d", len(list), n-1)
	}
	for _, r := range list {
		if id, _ := r.ID(); id == ids[2] {
			t.Fatalf("deleted id %d still listed", id)
		}
	}

	events := pub.snapshot()
	last := events[len(events)-1]
	if last.Type != realtime.TypeDeleteRequest || last.ID != ids[2] || last.Data != nil {
		t.Fatalf("unexpected delete event: %#v", last)
	}
}

func TestDeleteMissingIDIsNoop(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, map[string]any{"title": "keep"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	removed, err := svc.Delete(ctx, 12345)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed {
		t.Fatal("nothing should have been removed")
	}
	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0]["title"] != "keep" {
		t.Fatalf("collection changed: %#v", list)
	}
	if events := pub.snapshot(); events[len(events)-1].Type != realtime.TypeDeleteRequest {
		t.Fatalf("delete event should still be published")
	}
}

func TestRegisterUserDeduplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	added, err := svc.RegisterUser(ctx, "alice")
	if err != nil || !added {
		t.Fatalf("first RegisterUser = %v, %v", added, err)
	}
	added, err = svc.RegisterUser(ctx, "alice")
	if err != nil || added {
		t.Fatalf("second RegisterUser = %v, %v; want not added", added, err)
	}
	if _, err := svc.RegisterUser(ctx, "bob"); err != nil {
		t.Fatalf("RegisterUser bob: %v", err)
	}

	users, err := svc.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("users = %v, want [alice bob]", users)
	}
}

func TestRegisterUserRejectsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.RegisterUser(context.Background(), ""); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("err = %v, want ErrInvalidUsername", err)
	}
}

func TestConcurrentCreatesAreNotLost(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Create(ctx, map[string]any{"n": i}); err != nil {
				t.Errorf("Create: %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != n {
		t.Fatalf("List returned %d records, want %d", len(list), n)
	}
}

func TestNumericID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{name: "int64", in: int64(7), want: 7, ok: true},
		{name: "float", in: float64(1700000000001), want: 1700000000001, ok: true},
		{name: "fraction", in: 1.5, ok: false},
		{name: "string", in: "7", ok: false},
		{name: "missing", in: nil, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericID(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("numericID(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
