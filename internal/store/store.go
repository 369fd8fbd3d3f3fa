// Package store persists the schedule ledger.
//
// Drivers:
//   - "memory": process-local maps, for development and tests
//   - "sqlite": SQLite file through modernc.org/sqlite (pure Go)
//   - "postgres": PostgreSQL through lib/pq
//
// The SQL drivers share one sqlx implementation; only the embedded schema
// differs.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"reglament/internal/ledger"
	logx "reglament/pkg/logx"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Config configures storage.
type Config struct {
	Driver       string
	Path         string // sqlite file
	DSN          string // postgres connection string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

type Users interface {
	Exists(ctx context.Context, telegramID int64) (bool, error)
	// Ensure returns the user for telegramID, creating it when absent.
	// created is true only for the call that inserted the row.
	Ensure(ctx context.Context, telegramID int64) (u *ledger.User, created bool, err error)
}

type Operations interface {
	// Get loads the operation with its full history.
	Get(ctx context.Context, id int64) (*ledger.Operation, error)
	// GetWithDetails loads the operation, its history and its reminders.
	GetWithDetails(ctx context.Context, id int64) (*ledger.Operation, []*ledger.Reminder, error)
	// ListPending pages through operations that still have a pending
	// instance, ordered by id. Pass the last id seen as afterID.
	ListPending(ctx context.Context, afterID int64, limit int) ([]*ledger.Operation, error)
	// ListByOwner returns the owner's operations whose StartDate falls in
	// [from, to). A zero bound is open.
	ListByOwner(ctx context.Context, owner int64, from, to time.Time) ([]*ledger.Operation, error)
	// Insert assigns ids to the operation and its history, then points
	// PendingInstanceID at the persisted pending instance. The whole write
	// is atomic.
	Insert(ctx context.Context, op *ledger.Operation) error
	// Update rewrites the operation, inserts history entries with ID 0 and
	// re-resolves PendingInstanceID, atomically.
	Update(ctx context.Context, op *ledger.Operation) error
	// Delete removes the operation with its history and reminders.
	Delete(ctx context.Context, id int64) error
}

type Reminders interface {
	Get(ctx context.Context, id int64) (*ledger.Reminder, error)
	// GetWithOperation loads the reminder and its parent operation.
	GetWithOperation(ctx context.Context, id int64) (*ledger.Reminder, *ledger.Operation, error)
	ListByOperation(ctx context.Context, operationID int64) ([]*ledger.Reminder, error)
	Insert(ctx context.Context, r *ledger.Reminder) error
	Update(ctx context.Context, r *ledger.Reminder) error
	Delete(ctx context.Context, id int64) error
}

// Repos groups the repositories visible inside one unit of work.
type Repos interface {
	Users() Users
	Operations() Operations
	Reminders() Reminders
}

type Store interface {
	Repos
	// Tx runs fn in one transaction. A non-nil error from fn rolls back
	// every write made through the Repos passed to it.
	Tx(ctx context.Context, fn func(tx Repos) error) error
	Close() error
}

// Open initializes the configured store and applies its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		log.Info("storage opened", logx.String("driver", "memory"))
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
