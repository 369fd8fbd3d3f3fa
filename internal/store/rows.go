package store

import (
	"database/sql"
	"time"

	"reglament/internal/ledger"
)

// Instants are stored as unix milliseconds and offsets as nanoseconds so the
// schema stays identical across SQL dialects.

type userRow struct {
	ID         int64 `db:"id"`
	TelegramID int64 `db:"telegram_id"`
	CreatedAt  int64 `db:"created_at"`
}

func (r userRow) user() *ledger.User {
	return &ledger.User{ID: r.ID, TelegramID: r.TelegramID, CreatedAt: fromMillis(r.CreatedAt)}
}

type operationRow struct {
	ID                int64         `db:"id"`
	Theme             string        `db:"theme"`
	Description       string        `db:"description"`
	StartDate         int64         `db:"start_date"`
	Recurrence        string        `db:"recurrence"`
	OwnerID           int64         `db:"owner_id"`
	PendingInstanceID sql.NullInt64 `db:"pending_instance_id"`
}

func (r operationRow) operation() *ledger.Operation {
	op := &ledger.Operation{
		ID:          r.ID,
		Theme:       r.Theme,
		Description: r.Description,
		StartDate:   fromMillis(r.StartDate),
		Recurrence:  r.Recurrence,
		OwnerID:     r.OwnerID,
	}
	if r.PendingInstanceID.Valid {
		id := r.PendingInstanceID.Int64
		op.PendingInstanceID = &id
	}
	return op
}

type instanceRow struct {
	ID          int64          `db:"id"`
	OperationID int64          `db:"operation_id"`
	ScheduledAt int64          `db:"scheduled_at"`
	Result      sql.NullString `db:"result"`
	ExecutedAt  sql.NullInt64  `db:"executed_at"`
}

func instanceRowFrom(in *ledger.OperationInstance) instanceRow {
	row := instanceRow{ID: in.ID, OperationID: in.OperationID, ScheduledAt: toMillis(in.ScheduledAt)}
	if in.Result != "" {
		row.Result = sql.NullString{String: in.Result, Valid: true}
	}
	if in.ExecutedAt != nil {
		row.ExecutedAt = sql.NullInt64{Int64: toMillis(*in.ExecutedAt), Valid: true}
	}
	return row
}

func (r instanceRow) instance() *ledger.OperationInstance {
	in := &ledger.OperationInstance{
		ID:          r.ID,
		OperationID: r.OperationID,
		ScheduledAt: fromMillis(r.ScheduledAt),
		Result:      r.Result.String,
	}
	if r.ExecutedAt.Valid {
		at := fromMillis(r.ExecutedAt.Int64)
		in.ExecutedAt = &at
	}
	return in
}

type reminderRow struct {
	ID              int64  `db:"id"`
	OperationID     int64  `db:"operation_id"`
	MessageTemplate string `db:"message_template"`
	OffsetNS        int64  `db:"offset_ns"`
}

func (r reminderRow) reminder() *ledger.Reminder {
	return &ledger.Reminder{
		ID:              r.ID,
		OperationID:     r.OperationID,
		MessageTemplate: r.MessageTemplate,
		Offset:          time.Duration(r.OffsetNS),
	}
}

func toMillis(t time.Time) int64    { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
