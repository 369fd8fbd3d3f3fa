// Package ledger holds the schedule entities and the mutators that advance
// them. Entities reference each other by id; the store resolves the graph.
package ledger

import (
	"time"

	"reglament/internal/occurrence"
)

// ResultDone is recorded on an executed instance.
const ResultDone = "Done"

// User is a registered Telegram account. Operation.OwnerID is TelegramID.
type User struct {
	ID         int64
	TelegramID int64
	CreatedAt  time.Time
}

// Operation is a one-shot or recurring scheduled item.
//
// At most one instance in History is unexecuted; when it exists and has been
// persisted, PendingInstanceID is its id. A one-shot operation without a
// pending instance is closed.
type Operation struct {
	ID          int64
	Theme       string
	Description string
	// StartDate is the next (or only) occurrence, in UTC.
	StartDate time.Time
	// Recurrence is a six-field cron expression; empty means one-shot.
	Recurrence        string
	OwnerID           int64
	PendingInstanceID *int64
	// History is ordered by creation; instances with ID 0 are not persisted yet.
	History []*OperationInstance
}

type OperationInstance struct {
	ID          int64
	OperationID int64
	ScheduledAt time.Time
	Result      string
	ExecutedAt  *time.Time
}

// Reminder fires Offset before its operation's StartDate.
type Reminder struct {
	ID              int64
	MessageTemplate string
	Offset          time.Duration
	OperationID     int64
}

func (i *OperationInstance) Executed() bool { return i.ExecutedAt != nil }

func (i *OperationInstance) markDone(at time.Time) {
	at = at.UTC()
	i.ExecutedAt = &at
	i.Result = ResultDone
}

// Pending returns the unexecuted instance, or nil when the operation has none.
func (op *Operation) Pending() *OperationInstance {
	for i := len(op.History) - 1; i >= 0; i-- {
		if !op.History[i].Executed() {
			return op.History[i]
		}
	}
	return nil
}

func (op *Operation) Recurring() bool { return op.Recurrence != "" }

// Granularity recovers the recurrence granularity. A malformed stored
// expression reports None.
func (op *Operation) Granularity() occurrence.Granularity {
	g, err := occurrence.ToGranularity(op.Recurrence)
	if err != nil {
		return occurrence.None
	}
	return g
}

// ResolvePending points PendingInstanceID at the persisted pending instance.
// The store calls it after assigning instance ids.
func (op *Operation) ResolvePending() {
	p := op.Pending()
	if p == nil || p.ID == 0 {
		op.PendingInstanceID = nil
		return
	}
	id := p.ID
	op.PendingInstanceID = &id
}

// FireAt is the instant a reminder fires for the operation's current StartDate.
func FireAt(op *Operation, r *Reminder) time.Time {
	return op.StartDate.Add(-r.Offset)
}
