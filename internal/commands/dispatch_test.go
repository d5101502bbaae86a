package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "intakebot/internal/transport"
	"intakebot/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []kit.ChatTarget
	text []string
}

func (s *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to)
	s.text = append(s.text, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

type recordingRegistrar struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingRegistrar) RegisterUser(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, username)
	return true, nil
}

func runLoop(t *testing.T, d *Dispatcher, ups ...kit.Update) {
	t.Helper()
	ch := make(chan kit.Update, len(ups))
	for _, up := range ups {
		ch <- up
	}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.DispatchLoop(ctx, ch); err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}
}

func message(chatID int64, username, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: chatID, FromUsername: username, Text: text}}
}

func TestStartRepliesAndRegisters(t *testing.T) {
	sender := &recordingSender{}
	reg := &recordingRegistrar{}
	d := New(sender, reg, "", logx.Nop())

	runLoop(t, d,
		message(42, "alice", "/start"),
		message(43, "bob", "/start@intake_bot"),
		message(44, "carol", "/start deep-link"),
	)

	if len(sender.text) != 3 {
		t.Fatalf("replies = %d, want 3", len(sender.text))
	}
	for i, want := range []int64{42, 43, 44} {
		if sender.sent[i].ChatID != want || sender.text[i] != DefaultStartReply {
			t.Fatalf("reply %d = %+v %q", i, sender.sent[i], sender.text[i])
		}
	}
	if len(reg.names) != 3 || reg.names[0] != "alice" || reg.names[1] != "bob" || reg.names[2] != "carol" {
		t.Fatalf("registered = %v", reg.names)
	}
}

func TestStartWithoutUsernameRepliesOnly(t *testing.T) {
	sender := &recordingSender{}
	reg := &recordingRegistrar{}
	d := New(sender, reg, "subscribed", logx.Nop())

	runLoop(t, d, message(7, "", "/start"))

	if len(sender.text) != 1 || sender.text[0] != "subscribed" {
		t.Fatalf("replies = %v", sender.text)
	}
	if len(reg.names) != 0 {
		t.Fatalf("registered = %v, want none", reg.names)
	}
}

func TestOtherMessagesIgnored(t *testing.T) {
	sender := &recordingSender{}
	reg := &recordingRegistrar{}
	d := New(sender, reg, "", logx.Nop())

	runLoop(t, d,
		message(1, "alice", "hello"),
		message(1, "alice", "/help"),
		message(1, "alice", "/starting"),
		kit.Update{Kind: kit.UpdateMessage},
	)

	if len(sender.text) != 0 || len(reg.names) != 0 {
		t.Fatalf("unexpected activity: replies=%v registered=%v", sender.text, reg.names)
	}
}

func TestCommandWord(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/start":           "start",
		"  /START  ":       "start",
		"/start@some_bot":  "start",
		"/start payload x": "start",
		"start":            "",
		"/":                "",
		"":                 "",
	}
	for in, want := range tests {
		if got := commandWord(in); got != want {
			t.Errorf("commandWord(%q) = %q, want %q", in, got, want)
		}
	}
}
