// Package ws streams notifications to WebSocket clients. Each connection is a
// broadcast consumer for as long as it stays open and only sees its owner's
// notifications.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reglament/internal/notify/broadcast"
	logx "reglament/pkg/logx"
)

// Registry is where connections register as consumers.
type Registry interface {
	RegisterConsumer(sink broadcast.Sink) string
	RemoveConsumer(id string)
}

// OwnerFunc extracts the authenticated owner from the upgrade request.
type OwnerFunc func(r *http.Request) (int64, bool)

type Config struct {
	WriteTimeout time.Duration // default 5s
	PingInterval time.Duration // default 30s
	// PongWait is how long a connection may stay silent; default 2*PingInterval.
	PongWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 2 * c.PingInterval
	}
	return c
}

type Handler struct {
	reg      Registry
	owner    OwnerFunc
	cfg      Config
	log      logx.Logger
	upgrader websocket.Upgrader
}

func NewHandler(reg Registry, owner OwnerFunc, cfg Config, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{
		reg:   reg,
		owner: owner,
		cfg:   cfg.withDefaults(),
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	wsc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	c := &conn{ws: wsc, owner: owner, writeTimeout: h.cfg.WriteTimeout}
	id := h.reg.RegisterConsumer(c)
	defer func() {
		h.reg.RemoveConsumer(id)
		_ = wsc.Close()
		h.log.Debug("stream closed", logx.String("consumer", id), logx.Int64("owner", owner))
	}()
	h.log.Debug("stream opened", logx.String("consumer", id), logx.Int64("owner", owner))

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(h.cfg.PingInterval, done)

	_ = wsc.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	wsc.SetPongHandler(func(string) error {
		return wsc.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	// The stream is one-way; reading only serves control frames and close.
	for {
		if _, _, err := wsc.ReadMessage(); err != nil {
			return
		}
	}
}

type conn struct {
	ws           *websocket.Conn
	owner        int64
	writeTimeout time.Duration

	mu sync.Mutex
}

// Deliver writes n as a JSON text frame when it belongs to the connection's
// owner.
func (c *conn) Deliver(ctx context.Context, n broadcast.Notification) error {
	if n.OwnerID != c.owner {
		return nil
	}
	deadline := time.Now().Add(c.writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(n)
}

func (c *conn) pingLoop(every time.Duration, done <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
