// Package realtime fans request changes out to connected WebSocket clients.
//
// The Hub owns the connection registry. There is no backlog: a client that
// connects after an event was broadcast never receives it.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"intakebot/internal/metrics"
	"intakebot/pkg/logx"
)

type Config struct {
	WriteTimeout time.Duration
	ReadLimit    int64
}

// Conn is one registered client. gorilla/websocket allows a single concurrent
// writer, so writes are serialised per connection.
type Conn struct {
	ws     *websocket.Conn
	remote string

	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *Conn) open() bool { return !c.closed.Load() }

func (c *Conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.ws.Close()
	}
}

func (c *Conn) write(b []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

type Hub struct {
	cfg      Config
	log      logx.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func NewHub(cfg Config, log logx.Logger, m *metrics.Metrics) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4096
	}
	return &Hub{
		cfg:     cfg,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-port channel for browser clients served from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[*Conn]struct{}{},
	}
}

// Add registers c and returns the new total.
func (h *Hub) Add(c *Conn) int {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetRealtimeConnections(n)
	return n
}

// Remove unregisters c and returns the new total. Removing an unknown
// connection is a no-op.
func (h *Hub) Remove(c *Conn) int {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetRealtimeConnections(n)
	return n
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	h.mu.RUnlock()
	return out
}

// Broadcast serialises ev once and writes it to every open connection.
// Closed connections are skipped; a failed write closes and unregisters the
// connection. It returns the number of connections the event was written to.
func (h *Hub) Broadcast(ev Event) int {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("event marshal failed", logx.String("type", ev.Type), logx.Err(err))
		return 0
	}
	h.metrics.ObserveRealtimeEvent(ev.Type)

	sent := 0
	for _, c := range h.snapshot() {
		if !c.open() {
			continue
		}
		if err := c.write(b, h.cfg.WriteTimeout); err != nil {
			h.log.Debug("event write failed; dropping client", logx.String("remote", c.remote), logx.Err(err))
			c.close()
			h.Remove(c)
			continue
		}
		sent++
	}
	return sent
}

// ServeWS upgrades the request and holds the connection until the client
// goes away. Client frames are read and discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.String("remote", r.RemoteAddr), logx.Err(err))
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)

	c := &Conn{ws: ws, remote: r.RemoteAddr}
	total := h.Add(c)
	h.log.Info("client connected", logx.String("remote", c.remote), logx.Int("total", total))

	for {
		if _, _, err := ws.NextReader(); err != nil {
			break
		}
	}

	c.close()
	total = h.Remove(c)
	h.log.Info("client disconnected", logx.String("remote", c.remote), logx.Int("total", total))
}

// CloseAll closes every registered connection. Used on shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.close()
		h.Remove(c)
	}
}
