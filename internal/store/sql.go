package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"reglament/internal/ledger"
	logx "reglament/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore backs both SQL drivers. Queries are written with "?" and rebound
// for the driver; ids come back through RETURNING, which both dialects
// support.
type sqlStore struct {
	sqlRepos
	db      *sqlx.DB
	log     logx.Logger
	dialect string
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps the pragmas below in effect for every query
	// and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	return newSQLStore(ctx, db, "sqlite", log.With(logx.String("path", cfg.Path)))
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(ctx, db, "postgres", log)
}

func newSQLStore(ctx context.Context, db *sqlx.DB, dialect string, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{sqlRepos: sqlRepos{q: db, db: db}, db: db, log: log, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	log.Info("storage opened", logx.String("driver", dialect))
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Tx(ctx context.Context, fn func(tx Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(sqlRepos{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", logx.Err(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// sqlRepos runs queries on q. db is set only outside a transaction, where
// multi-statement writes open their own.
type sqlRepos struct {
	q  sqlx.ExtContext
	db *sqlx.DB
}

func (r sqlRepos) Users() Users           { return sqlUsers{r} }
func (r sqlRepos) Operations() Operations { return sqlOperations{r} }
func (r sqlRepos) Reminders() Reminders   { return sqlReminders{r} }

func (r sqlRepos) atomic(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func exec(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func insertID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(query+" RETURNING id"), args...)
	return id, err
}

func get(ctx context.Context, q sqlx.ExtContext, dest any, what string, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// ---- users ----

type sqlUsers struct{ sqlRepos }

func (u sqlUsers) Exists(ctx context.Context, tg int64) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, u.q, &n, u.q.Rebind(`SELECT COUNT(1) FROM users WHERE telegram_id = ?`), tg); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (u sqlUsers) Ensure(ctx context.Context, tg int64) (*ledger.User, bool, error) {
	n, err := exec(ctx, u.q,
		`INSERT INTO users(telegram_id, created_at) VALUES(?, ?) ON CONFLICT (telegram_id) DO NOTHING`,
		tg, toMillis(time.Now()))
	if err != nil {
		return nil, false, fmt.Errorf("ensure user %d: %w", tg, err)
	}
	var row userRow
	if err := get(ctx, u.q, &row, fmt.Sprintf("user %d", tg),
		`SELECT id, telegram_id, created_at FROM users WHERE telegram_id = ?`, tg); err != nil {
		return nil, false, err
	}
	return row.user(), n > 0, nil
}

// ---- operations ----

type sqlOperations struct{ sqlRepos }

const opColumns = `id, theme, description, start_date, recurrence, owner_id, pending_instance_id`

func (o sqlOperations) Get(ctx context.Context, id int64) (*ledger.Operation, error) {
	return loadOperation(ctx, o.q, id)
}

func (o sqlOperations) GetWithDetails(ctx context.Context, id int64) (*ledger.Operation, []*ledger.Reminder, error) {
	op, err := loadOperation(ctx, o.q, id)
	if err != nil {
		return nil, nil, err
	}
	rs, err := sqlReminders(o).ListByOperation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return op, rs, nil
}

func (o sqlOperations) ListPending(ctx context.Context, afterID int64, limit int) ([]*ledger.Operation, error) {
	query := `SELECT ` + opColumns + ` FROM operations WHERE pending_instance_id IS NOT NULL AND id > ? ORDER BY id`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return listOperations(ctx, o.q, query, args...)
}

func (o sqlOperations) ListByOwner(ctx context.Context, owner int64, from, to time.Time) ([]*ledger.Operation, error) {
	query := `SELECT ` + opColumns + ` FROM operations WHERE owner_id = ?`
	args := []any{owner}
	if !from.IsZero() {
		query += ` AND start_date >= ?`
		args = append(args, toMillis(from))
	}
	if !to.IsZero() {
		query += ` AND start_date < ?`
		args = append(args, toMillis(to))
	}
	query += ` ORDER BY start_date, id`
	return listOperations(ctx, o.q, query, args...)
}

// Insert writes the operation with its pointer detached, inserts the
// history, then patches pending_instance_id to the generated id.
func (o sqlOperations) Insert(ctx context.Context, op *ledger.Operation) error {
	return o.atomic(ctx, func(q sqlx.ExtContext) error {
		id, err := insertID(ctx, q,
			`INSERT INTO operations(theme, description, start_date, recurrence, owner_id, pending_instance_id) VALUES(?, ?, ?, ?, ?, NULL)`,
			op.Theme, op.Description, toMillis(op.StartDate), op.Recurrence, op.OwnerID)
		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
		op.ID = id
		return saveHistory(ctx, q, op)
	})
}

func (o sqlOperations) Update(ctx context.Context, op *ledger.Operation) error {
	return o.atomic(ctx, func(q sqlx.ExtContext) error {
		n, err := exec(ctx, q,
			`UPDATE operations SET theme = ?, description = ?, start_date = ?, recurrence = ?, owner_id = ?, pending_instance_id = NULL WHERE id = ?`,
			op.Theme, op.Description, toMillis(op.StartDate), op.Recurrence, op.OwnerID, op.ID)
		if err != nil {
			return fmt.Errorf("update operation %d: %w", op.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("operation %d: %w", op.ID, ErrNotFound)
		}
		return saveHistory(ctx, q, op)
	})
}

func (o sqlOperations) Delete(ctx context.Context, id int64) error {
	return o.atomic(ctx, func(q sqlx.ExtContext) error {
		if _, err := exec(ctx, q, `DELETE FROM reminders WHERE operation_id = ?`, id); err != nil {
			return fmt.Errorf("delete reminders of %d: %w", id, err)
		}
		if _, err := exec(ctx, q, `DELETE FROM operation_instances WHERE operation_id = ?`, id); err != nil {
			return fmt.Errorf("delete history of %d: %w", id, err)
		}
		n, err := exec(ctx, q, `DELETE FROM operations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete operation %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("operation %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func saveHistory(ctx context.Context, q sqlx.ExtContext, op *ledger.Operation) error {
	for _, in := range op.History {
		in.OperationID = op.ID
		row := instanceRowFrom(in)
		if in.ID == 0 {
			id, err := insertID(ctx, q,
				`INSERT INTO operation_instances(operation_id, scheduled_at, result, executed_at) VALUES(?, ?, ?, ?)`,
				row.OperationID, row.ScheduledAt, row.Result, row.ExecutedAt)
			if err != nil {
				return fmt.Errorf("insert instance of %d: %w", op.ID, err)
			}
			in.ID = id
			continue
		}
		if _, err := exec(ctx, q,
			`UPDATE operation_instances SET scheduled_at = ?, result = ?, executed_at = ? WHERE id = ? AND operation_id = ?`,
			row.ScheduledAt, row.Result, row.ExecutedAt, row.ID, row.OperationID); err != nil {
			return fmt.Errorf("update instance %d: %w", in.ID, err)
		}
	}
	op.ResolvePending()
	if _, err := exec(ctx, q, `UPDATE operations SET pending_instance_id = ? WHERE id = ?`,
		nullInt(op.PendingInstanceID), op.ID); err != nil {
		return fmt.Errorf("patch pending instance of %d: %w", op.ID, err)
	}
	return nil
}

func loadOperation(ctx context.Context, q sqlx.ExtContext, id int64) (*ledger.Operation, error) {
	var row operationRow
	if err := get(ctx, q, &row, fmt.Sprintf("operation %d", id),
		`SELECT `+opColumns+` FROM operations WHERE id = ?`, id); err != nil {
		return nil, err
	}
	op := row.operation()
	if err := attachHistory(ctx, q, []*ledger.Operation{op}); err != nil {
		return nil, err
	}
	return op, nil
}

func listOperations(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]*ledger.Operation, error) {
	var rows []operationRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	ops := make([]*ledger.Operation, len(rows))
	for i := range rows {
		ops[i] = rows[i].operation()
	}
	if err := attachHistory(ctx, q, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func attachHistory(ctx context.Context, q sqlx.ExtContext, ops []*ledger.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	byID := make(map[int64]*ledger.Operation, len(ops))
	ids := make([]int64, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
		byID[op.ID] = op
	}
	query, args, err := sqlx.In(
		`SELECT id, operation_id, scheduled_at, result, executed_at FROM operation_instances WHERE operation_id IN (?) ORDER BY operation_id, id`, ids)
	if err != nil {
		return err
	}
	var rows []instanceRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for i := range rows {
		if op := byID[rows[i].OperationID]; op != nil {
			op.History = append(op.History, rows[i].instance())
		}
	}
	return nil
}

// ---- reminders ----

type sqlReminders struct{ sqlRepos }

const reminderColumns = `id, operation_id, message_template, offset_ns`

func (s sqlReminders) Get(ctx context.Context, id int64) (*ledger.Reminder, error) {
	var row reminderRow
	if err := get(ctx, s.q, &row, fmt.Sprintf("reminder %d", id),
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row.reminder(), nil
}

func (s sqlReminders) GetWithOperation(ctx context.Context, id int64) (*ledger.Reminder, *ledger.Operation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	op, err := loadOperation(ctx, s.q, r.OperationID)
	if err != nil {
		return nil, nil, err
	}
	return r, op, nil
}

func (s sqlReminders) ListByOperation(ctx context.Context, operationID int64) ([]*ledger.Reminder, error) {
	var rows []reminderRow
	if err := sqlx.SelectContext(ctx, s.q, &rows,
		s.q.Rebind(`SELECT `+reminderColumns+` FROM reminders WHERE operation_id = ? ORDER BY id`), operationID); err != nil {
		return nil, fmt.Errorf("list reminders of %d: %w", operationID, err)
	}
	out := make([]*ledger.Reminder, len(rows))
	for i := range rows {
		out[i] = rows[i].reminder()
	}
	return out, nil
}

func (s sqlReminders) Insert(ctx context.Context, r *ledger.Reminder) error {
	return s.atomic(ctx, func(q sqlx.ExtContext) error {
		var n int
		if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(1) FROM operations WHERE id = ?`), r.OperationID); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("operation %d: %w", r.OperationID, ErrNotFound)
		}
		id, err := insertID(ctx, q,
			`INSERT INTO reminders(operation_id, message_template, offset_ns) VALUES(?, ?, ?)`,
			r.OperationID, r.MessageTemplate, int64(r.Offset))
		if err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
		r.ID = id
		return nil
	})
}

func (s sqlReminders) Update(ctx context.Context, r *ledger.Reminder) error {
	n, err := exec(ctx, s.q, `UPDATE reminders SET message_template = ?, offset_ns = ? WHERE id = ?`,
		r.MessageTemplate, int64(r.Offset), r.ID)
	if err != nil {
		return fmt.Errorf("update reminder %d: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s sqlReminders) Delete(ctx context.Context, id int64) error {
	n, err := exec(ctx, s.q, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}
