package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"reglament/internal/occurrence"
)

// ErrNoPending is returned when an occurrence is executed on a closed operation.
var ErrNoPending = errors.New("operation has no pending instance")

// Ledger applies the occurrence rules against an injected clock.
type Ledger struct {
	now func() time.Time
}

// New returns a Ledger reading time from now; nil means time.Now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

func (l *Ledger) Now() time.Time { return l.now().UTC() }

// CreateOperation builds an operation with its first pending instance. A start
// date already in the past is executed on the spot; a recurring operation
// then rolls forward to its next occurrence.
func (l *Ledger) CreateOperation(owner int64, theme, description string, start time.Time, g occurrence.Granularity) (*Operation, error) {
	expr, err := occurrence.ToSchedule(g, start)
	if err != nil {
		return nil, err
	}
	now := l.Now()
	op := &Operation{
		Theme:       strings.TrimSpace(theme),
		Description: description,
		StartDate:   start.UTC(),
		Recurrence:  expr,
		OwnerID:     owner,
	}
	op.appendPending(now)
	if err := l.settlePastDue(op, now); err != nil {
		return nil, err
	}
	return op, nil
}

// UpdateOperation rewrites the operation and applies the same past-due rule
// against the new start date. A closed operation given a future start date
// gets a fresh pending instance.
func (l *Ledger) UpdateOperation(op *Operation, theme, description string, start time.Time, g occurrence.Granularity) error {
	expr, err := occurrence.ToSchedule(g, start)
	if err != nil {
		return err
	}
	now := l.Now()
	op.Theme = strings.TrimSpace(theme)
	op.Description = description
	op.StartDate = start.UTC()
	op.Recurrence = expr
	if op.Pending() == nil && !op.StartDate.Before(now) {
		op.appendPending(now)
	}
	return l.settlePastDue(op, now)
}

// ExecuteOccurrence marks the pending instance done. A recurring operation
// advances StartDate and gets a new pending instance; a one-shot operation
// is closed.
func (l *Ledger) ExecuteOccurrence(op *Operation) error {
	p := op.Pending()
	if p == nil {
		return ErrNoPending
	}
	now := l.Now()
	p.markDone(now)
	op.PendingInstanceID = nil
	if !op.Recurring() {
		return nil
	}
	// Never roll back onto the occurrence that just fired, even if the
	// callback ran a little early.
	after := now
	if op.StartDate.After(after) {
		after = op.StartDate
	}
	return l.rollForward(op, after, now)
}

func (l *Ledger) settlePastDue(op *Operation, now time.Time) error {
	if !op.StartDate.Before(now) {
		return nil
	}
	if p := op.Pending(); p != nil {
		p.ScheduledAt = op.StartDate
		p.markDone(op.StartDate)
	}
	op.PendingInstanceID = nil
	if !op.Recurring() {
		return nil
	}
	return l.rollForward(op, now, now)
}

func (l *Ledger) rollForward(op *Operation, after, now time.Time) error {
	next, err := occurrence.NextOccurrence(op.Recurrence, after)
	if err != nil {
		return fmt.Errorf("roll forward operation %d: %w", op.ID, err)
	}
	op.StartDate = next
	op.appendPending(now)
	return nil
}

// appendPending adds an unpersisted pending instance. PendingInstanceID stays
// nil until the store assigns the id and calls ResolvePending.
func (op *Operation) appendPending(now time.Time) {
	op.History = append(op.History, &OperationInstance{OperationID: op.ID, ScheduledAt: now.UTC()})
	op.PendingInstanceID = nil
}

// NewReminder builds an unpersisted reminder for operationID.
func NewReminder(operationID int64, message string, offset time.Duration) *Reminder {
	return &Reminder{OperationID: operationID, MessageTemplate: message, Offset: offset}
}

// UpdateReminder rewrites the reminder text and lead time.
func UpdateReminder(r *Reminder, message string, offset time.Duration) {
	r.MessageTemplate = message
	r.Offset = offset
}
