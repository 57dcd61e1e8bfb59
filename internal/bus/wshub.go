// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 15 * time.Second
	defaultQueueSize    = 64
)

// observer is one websocket client. Only its write pump writes to conn.
type observer struct {
	conn   *websocket.Conn
	person string
	send   chan []byte
	quit   chan struct{}

	once      sync.Once
	goingAway bool
}

func newObserver(conn *websocket.Conn, person string, queue int) *observer {
	return &observer{conn: conn, person: person, send: make(chan []byte, queue), quit: make(chan struct{})}
}

// stop ends the write pump. goingAway sends a close frame first.
func (o *observer) stop(goingAway bool) {
	o.once.Do(func() {
		o.goingAway = goingAway
		close(o.quit)
	})
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins sets the browser origins allowed to connect. "*" allows
// any origin. Without this option only same-origin pages may connect.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		h.origins = make(map[string]bool, len(origins))
		for _, o := range origins {
			h.origins[o] = true
		}
	}
}

// WithQueueSize bounds the messages buffered per observer. An observer whose
// queue is full is disconnected.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// Hub delivers every notification on its topic to all connected websocket
// observers. Observers are passive; anything they send is discarded.
type Hub struct {
	sub          Subscriber
	upgrader     websocket.Upgrader
	origins      map[string]bool
	writeTimeout time.Duration
	pingInterval time.Duration
	queueSize    int
	logger       zerolog.Logger

	mu        sync.Mutex
	observers map[*observer]struct{}
	closed    bool
}

// NewHub subscribes to topic immediately so no message published after
// NewHub returns is missed. Call Run to start delivery.
func NewHub(ctx context.Context, b Bus, topic string, opts ...HubOption) (*Hub, error) {
	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		sub:          sub,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		queueSize:    defaultQueueSize,
		logger:       log.WithComponent("wshub"),
		observers:    make(map[*observer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

// checkOrigin admits clients without an Origin header (not a browser), the
// configured origins and, when none are configured, the same origin.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.origins != nil {
		return h.origins["*"] || h.origins[origin]
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Run fans messages out until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case msg, ok := <-h.sub.C():
			if !ok {
				return nil
			}
			h.fanOut(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// fanOut queues msg for every observer and never blocks on a client.
func (h *Hub) fanOut(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "wshub.encode_failed").Str("command", msg.Command).Msg("cannot encode notification")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		select {
		case o.send <- data:
		default:
			// A client that cannot keep up reconnects and reloads state
			// rather than silently missing messages.
			h.logger.Warn().Str(log.FieldEvent, "wshub.observer_stalled").Str(log.FieldPersonID, o.person).Msg("dropping observer")
			h.dropLocked(o, false)
		}
	}
}

func (h *Hub) shutdown() {
	_ = h.sub.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for o := range h.observers {
		h.dropLocked(o, true)
	}
}

func (h *Hub) dropLocked(o *observer, goingAway bool) {
	if _, ok := h.observers[o]; !ok {
		return
	}
	delete(h.observers, o)
	metrics.ObserversConnected.Dec()
	o.stop(goingAway)
}

// ServeHTTP upgrades the request and keeps the observer registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldEvent, "wshub.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	person := ""
	if s := auth.SessionFromContext(r.Context()); s != nil {
		person = s.PersonID
	}
	o := newObserver(conn, person, h.queueSize)
	if !h.register(o) {
		_ = conn.Close()
		return
	}

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		h.writePump(o)
	}()

	h.logger.Debug().Str(log.FieldEvent, "wshub.connected").Str(log.FieldPersonID, person).Msg("observer connected")
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	h.dropLocked(o, false)
	h.mu.Unlock()
	<-pumped
}

// writePump owns every write to the connection and closes it on exit.
func (h *Hub) writePump(o *observer) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer func() { _ = o.conn.Close() }()

	for {
		select {
		case data := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Str(log.FieldEvent, "wshub.write_failed").Str(log.FieldPersonID, o.person).Msg("observer write failed")
				return
			}
		case <-ticker.C:
			if err := o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		case <-o.quit:
			if o.goingAway {
				_ = o.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			}
			return
		}
	}
}

func (h *Hub) register(o *observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.observers[o] = struct{}{}
	metrics.ObserversConnected.Inc()
	return true
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}
