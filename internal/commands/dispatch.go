// Package commands routes inbound bot messages to the subscription command.
package commands

import (
	"context"
	"runtime/debug"
	"strings"

	kit "intakebot/internal/transport"
	"intakebot/pkg/logx"
)

const DefaultStartReply = "Вы подписаны на уведомления о новых заявках."

// Registrar stores subscriber usernames. intake.Service implements it.
type Registrar interface {
	RegisterUser(ctx context.Context, username string) (bool, error)
}

type Dispatcher struct {
	sender kit.Sender
	users  Registrar
	log    logx.Logger
	reply  string
}

func New(sender kit.Sender, users Registrar, reply string, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(reply) == "" {
		reply = DefaultStartReply
	}
	return &Dispatcher{sender: sender, users: users, log: log, reply: reply}
}

// DispatchLoop consumes updates until ctx is cancelled or updates is closed.
func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	d.log.Info("command dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("command dispatcher stopped", logx.Err(ctx.Err()))
			return nil
		case up, ok := <-updates:
			if !ok {
				d.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in command handler", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	if commandWord(msg.Text) != "start" {
		return
	}
	d.handleStart(ctx, msg)
}

// commandWord returns the bare command of a "/cmd[@bot] [args]" line, or "".
func commandWord(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}

func (d *Dispatcher) handleStart(ctx context.Context, msg *kit.Message) {
	log := d.log.With(logx.Int64("chat_id", msg.ChatID), logx.Int64("from_id", msg.FromID), logx.String("cmd", "start"))

	if _, err := d.sender.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, d.reply, nil); err != nil {
		log.Warn("start reply failed", logx.Err(err))
	}

	if msg.FromUsername == "" {
		log.Info("start from user without username; not registered")
		return
	}
	added, err := d.users.RegisterUser(ctx, msg.FromUsername)
	if err != nil {
		log.Error("register user failed", logx.String("username", msg.FromUsername), logx.Err(err))
		return
	}
	log.Debug("start handled", logx.String("username", msg.FromUsername), logx.Bool("added", added))
}
