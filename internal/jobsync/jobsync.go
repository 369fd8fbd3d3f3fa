// Package jobsync keeps scheduler registrations aligned with the ledger: one
// job per operation with a pending instance, one job per reminder whose fire
// instant is still ahead.
package jobsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"reglament/internal/ledger"
	"reglament/internal/notify/broadcast"
	"reglament/internal/occurrence"
	"reglament/internal/store"
	"reglament/internal/task/engine"
	logx "reglament/pkg/logx"
)

// Scheduler is the job registry the synchronizer drives. Both calls are
// idempotent by job id: Upsert replaces, Remove of an unknown id is a no-op.
type Scheduler interface {
	Upsert(jobID string, trig occurrence.Trigger, job func(ctx context.Context) error) error
	Remove(jobID string) bool
}

// Notifier receives fired reminders.
type Notifier interface {
	BroadcastNotification(ctx context.Context, n broadcast.Notification) error
}

func OperationJobID(id int64) string { return "operation-" + strconv.FormatInt(id, 10) }
func ReminderJobID(id int64) string  { return "reminder-" + strconv.FormatInt(id, 10) }

type Synchronizer struct {
	sched  Scheduler
	st     store.Store
	ledger *ledger.Ledger
	notify Notifier
	log    logx.Logger
}

func New(sched Scheduler, st store.Store, l *ledger.Ledger, notify Notifier, log logx.Logger) *Synchronizer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if l == nil {
		l = ledger.New(nil)
	}
	return &Synchronizer{sched: sched, st: st, ledger: l, notify: notify, log: log}
}

// SyncOperationJob registers the operation's job, or removes it once the
// operation has nothing pending.
func (s *Synchronizer) SyncOperationJob(ctx context.Context, op *ledger.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := OperationJobID(op.ID)
	if op.Pending() == nil {
		s.remove(id)
		return nil
	}
	trig := occurrence.Once(op.StartDate)
	if op.Recurring() {
		g, err := occurrence.ToGranularity(op.Recurrence)
		if err != nil {
			return fmt.Errorf("sync %s: %w", id, err)
		}
		expr, err := occurrence.ToSchedule(g, op.StartDate)
		if err != nil {
			return fmt.Errorf("sync %s: %w", id, err)
		}
		trig = occurrence.RecurringFrom(expr, op.StartDate)
	}
	opID := op.ID
	return s.upsert(id, trig, func(ctx context.Context) error { return s.OnOperationFired(ctx, opID) })
}

// SyncReminderJob registers a one-shot job at the reminder's fire instant. A
// fire instant that is not in the future, or a closed operation, removes it.
func (s *Synchronizer) SyncReminderJob(ctx context.Context, op *ledger.Operation, r *ledger.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := ReminderJobID(r.ID)
	at := ledger.FireAt(op, r)
	if op.Pending() == nil || !at.After(s.ledger.Now()) {
		s.remove(id)
		return nil
	}
	rID := r.ID
	return s.upsert(id, occurrence.Once(at), func(ctx context.Context) error { return s.OnReminderFired(ctx, rID) })
}

// CreateJobsForOperation syncs the operation job and every reminder job.
func (s *Synchronizer) CreateJobsForOperation(ctx context.Context, op *ledger.Operation, reminders []*ledger.Reminder) error {
	if err := s.SyncOperationJob(ctx, op); err != nil {
		return err
	}
	for _, r := range reminders {
		if err := s.SyncReminderJob(ctx, op, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) UpdateJobsForOperation(ctx context.Context, op *ledger.Operation, reminders []*ledger.Reminder) error {
	return s.CreateJobsForOperation(ctx, op, reminders)
}

// DeleteJobsForOperation removes the operation job, then each reminder job.
func (s *Synchronizer) DeleteJobsForOperation(ctx context.Context, op *ledger.Operation, reminders []*ledger.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.remove(OperationJobID(op.ID))
	for _, r := range reminders {
		s.remove(ReminderJobID(r.ID))
	}
	return nil
}

// DeleteReminderJob removes the job of a single reminder.
func (s *Synchronizer) DeleteReminderJob(ctx context.Context, r *ledger.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.remove(ReminderJobID(r.ID))
	return nil
}

// earlyFire is how far ahead of StartDate a firing may land and still count
// as the pending occurrence. Cron matches at whole seconds.
const earlyFire = time.Second

// OnOperationFired executes the pending occurrence and re-syncs the jobs. An
// operation that vanished or is already closed only has its jobs removed. A
// firing well before StartDate executes nothing and re-arms the job.
//
// Only a failed ledger write is retryable. Once the occurrence is committed a
// retry would execute the next one early, so later failures are NoRetry and
// left to reconcile.
func (s *Synchronizer) OnOperationFired(ctx context.Context, id int64) error {
	var (
		op        *ledger.Operation
		reminders []*ledger.Reminder
		closed    bool
		early     bool
		invalid   bool
	)
	err := s.st.Tx(ctx, func(tx store.Repos) error {
		var err error
		op, reminders, err = tx.Operations().GetWithDetails(ctx, id)
		if err != nil {
			return err
		}
		if op.Pending() == nil {
			closed = true
			return nil
		}
		if op.StartDate.Sub(s.ledger.Now()) > earlyFire {
			early = true
			return nil
		}
		if err := s.ledger.ExecuteOccurrence(op); err != nil {
			invalid = true
			return err
		}
		return tx.Operations().Update(ctx, op)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Info("operation fired but no longer exists", logx.Int64("operation", id))
		s.remove(OperationJobID(id))
		return nil
	case invalid:
		return engine.NoRetry(fmt.Errorf("execute operation %d: %w", id, err))
	case err != nil:
		return fmt.Errorf("execute operation %d: %w", id, err)
	}
	if closed {
		s.log.Info("operation fired without a pending instance", logx.Int64("operation", id))
		return engine.NoRetry(s.DeleteJobsForOperation(ctx, op, reminders))
	}
	if early {
		s.log.Warn("operation fired before its start; re-arming",
			logx.Int64("operation", id),
			logx.Time("start", op.StartDate),
			logx.Time("now", s.ledger.Now()),
		)
		return engine.NoRetry(s.SyncOperationJob(ctx, op))
	}
	s.log.Debug("operation executed",
		logx.Int64("operation", id),
		logx.Bool("recurring", op.Recurring()),
		logx.Time("next", op.StartDate),
	)
	if op.Recurring() {
		return engine.NoRetry(s.CreateJobsForOperation(ctx, op, reminders))
	}
	return engine.NoRetry(s.DeleteJobsForOperation(ctx, op, reminders))
}

// OnReminderFired broadcasts the reminder to its owner and drops the job.
// Delivery is best-effort; sink failures are logged by the broadcaster.
func (s *Synchronizer) OnReminderFired(ctx context.Context, id int64) error {
	r, op, err := s.st.Reminders().GetWithOperation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("reminder fired but no longer exists", logx.Int64("reminder", id))
		s.remove(ReminderJobID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if s.notify != nil {
		n := broadcast.Notification{
			OwnerID:     op.OwnerID,
			Message:     r.MessageTemplate,
			OperationID: op.ID,
			ReminderID:  r.ID,
			At:          s.ledger.Now(),
		}
		if err := s.notify.BroadcastNotification(ctx, n); err != nil {
			s.log.Debug("reminder delivered with failures", logx.Int64("reminder", id), logx.Err(err))
		}
	}
	s.remove(ReminderJobID(id))
	return nil
}

const reconcilePage = 100

// Reconcile registers jobs for every operation that still has a pending
// instance. It returns the number of operations synced. A failure on one
// operation is logged and does not stop the pass.
func (s *Synchronizer) Reconcile(ctx context.Context) (int, error) {
	var (
		after  int64
		synced int
		errs   []error
	)
	for {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		page, err := s.st.Operations().ListPending(ctx, after, reconcilePage)
		if err != nil {
			return synced, fmt.Errorf("reconcile: %w", err)
		}
		for _, op := range page {
			after = op.ID
			reminders, err := s.st.Reminders().ListByOperation(ctx, op.ID)
			if err == nil {
				err = s.CreateJobsForOperation(ctx, op, reminders)
			}
			if err != nil {
				s.log.Warn("reconcile operation failed", logx.Int64("operation", op.ID), logx.Err(err))
				errs = append(errs, fmt.Errorf("operation %d: %w", op.ID, err))
				continue
			}
			synced++
		}
		if len(page) < reconcilePage {
			break
		}
	}
	s.log.Info("jobs reconciled", logx.Int("operations", synced))
	return synced, errors.Join(errs...)
}

func (s *Synchronizer) upsert(id string, trig occurrence.Trigger, job func(ctx context.Context) error) error {
	if err := s.sched.Upsert(id, trig, job); err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	s.log.Debug("job synced", logx.String("job", id), logx.String("trigger", trig.String()))
	return nil
}

func (s *Synchronizer) remove(id string) {
	if s.sched.Remove(id) {
		s.log.Debug("job removed", logx.String("job", id))
	}
}
