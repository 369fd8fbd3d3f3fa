// Package broadcast keeps a registry of live notification sinks and fans
// fired notifications out to them.
//
// Contract:
//   - delivery reaches the sinks registered when the broadcast starts;
//     there is no buffering or replay for later registrations
//   - the registry lock is never held while a sink is written
//   - a failing, slow or panicking sink does not affect the others
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	logx "reglament/pkg/logx"
)

// Notification is one fired reminder addressed to an owner.
type Notification struct {
	OwnerID     int64     `json:"owner_id"`
	Message     string    `json:"message"`
	OperationID int64     `json:"operation_id,omitempty"`
	ReminderID  int64     `json:"reminder_id,omitempty"`
	At          time.Time `json:"at"`
}

// Sink receives notifications. Deliver must honour ctx.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

type Config struct {
	// Concurrency caps parallel sink writes per broadcast (default 16).
	Concurrency int
	// WriteTimeout bounds each sink write (default 5s).
	WriteTimeout time.Duration
}

type Stats struct {
	Consumers int    `json:"consumers"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

type Broadcaster struct {
	log logx.Logger

	mu    sync.RWMutex
	cfg   Config
	sinks map[string]Sink

	delivered atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{cfg: withDefaults(cfg), log: log, sinks: map[string]Sink{}}
}

func withDefaults(cfg Config) Config {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return cfg
}

// Apply swaps fan-out limits; registrations are kept.
func (b *Broadcaster) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = withDefaults(cfg)
	b.mu.Unlock()
}

// RegisterConsumer stores sink under a fresh id and returns the id.
func (b *Broadcaster) RegisterConsumer(sink Sink) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.sinks[id] = sink
	n := len(b.sinks)
	b.mu.Unlock()
	b.log.Debug("consumer registered", logx.String("consumer", id), logx.Int("consumers", n))
	return id
}

// RemoveConsumer drops id. Unknown ids are ignored.
func (b *Broadcaster) RemoveConsumer(id string) {
	b.mu.Lock()
	_, ok := b.sinks[id]
	delete(b.sinks, id)
	n := len(b.sinks)
	b.mu.Unlock()
	if ok {
		b.log.Debug("consumer removed", logx.String("consumer", id), logx.Int("consumers", n))
	}
}

// BroadcastNotification writes n to every sink registered at call time. The
// returned error joins the per-sink failures; it is informational and never
// means the other sinks were skipped.
func (b *Broadcaster) BroadcastNotification(ctx context.Context, n Notification) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	b.mu.RLock()
	cfg := b.cfg
	ids := make([]string, 0, len(b.sinks))
	sinks := make([]Sink, 0, len(b.sinks))
	for id, s := range b.sinks {
		ids = append(ids, id)
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
	)
	g.SetLimit(cfg.Concurrency)
	for i := range sinks {
		id, sink := ids[i], sinks[i]
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			defer cancel()
			if err := deliver(wctx, sink, n); err != nil {
				b.failed.Add(1)
				b.log.Warn("notification delivery failed", logx.String("consumer", id), logx.Int64("owner", n.OwnerID), logx.Err(err))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("consumer %s: %w", id, err))
				errMu.Unlock()
				return nil
			}
			b.delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func deliver(ctx context.Context, sink Sink, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Deliver(ctx, n)
}

func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	n := len(b.sinks)
	b.mu.RUnlock()
	return Stats{Consumers: n, Delivered: b.delivered.Load(), Failed: b.failed.Load()}
}
