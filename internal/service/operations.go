package service

import (
	"context"
	"fmt"
	"time"

	"reglament/internal/ledger"
	"reglament/internal/occurrence"
	"reglament/internal/store"
	logx "reglament/pkg/logx"
)

type Operations struct{ base }

// OperationInput carries the editable fields of an operation.
type OperationInput struct {
	Theme       string
	Description string
	StartDate   time.Time
	Granularity occurrence.Granularity
	// Reminders is only read by Create.
	Reminders []ReminderInput
}

func (o *Operations) validate(in OperationInput) error {
	if err := validateTheme(in.Theme); err != nil {
		return err
	}
	if !in.Granularity.Valid() {
		return fmt.Errorf("%w: unknown granularity %d", ErrInvalidSchedule, int(in.Granularity))
	}
	if in.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if in.StartDate.Before(o.ledger.Now()) {
		return ErrStartDateInPast
	}
	return nil
}

// loadOwned reads the operation and its reminders and checks the owner.
func loadOwned(ctx context.Context, repos store.Repos, owner, id int64) (*ledger.Operation, []*ledger.Reminder, error) {
	op, rs, err := repos.Operations().GetWithDetails(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, ErrOperationNotFound)
	}
	if op.OwnerID != owner {
		return nil, nil, ErrForbidden
	}
	return op, rs, nil
}

// Get returns the owner's operation with its reminders.
func (o *Operations) Get(ctx context.Context, owner, id int64) (*ledger.Operation, []*ledger.Reminder, error) {
	if err := o.requireUser(ctx, owner); err != nil {
		return nil, nil, err
	}
	return loadOwned(ctx, o.st, owner, id)
}

// List returns the owner's operations. Daily, Weekly and Monthly restrict the
// result to operations whose next occurrence falls in the current calendar
// day, week or month; None lists everything.
func (o *Operations) List(ctx context.Context, owner int64, window occurrence.Granularity) ([]*ledger.Operation, error) {
	if err := o.requireUser(ctx, owner); err != nil {
		return nil, err
	}
	var from, to time.Time
	if window != occurrence.None {
		var err error
		from, to, err = occurrence.Window(window, o.ledger.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return o.st.Operations().ListByOwner(ctx, owner, from, to)
}

// Create stores a new operation with its reminders, then registers the jobs.
func (o *Operations) Create(ctx context.Context, owner int64, in OperationInput) (*ledger.Operation, []*ledger.Reminder, error) {
	if err := o.requireUser(ctx, owner); err != nil {
		return nil, nil, err
	}
	if err := o.validate(in); err != nil {
		return nil, nil, err
	}
	for _, r := range in.Reminders {
		if err := r.validate(); err != nil {
			return nil, nil, err
		}
	}
	op, err := o.ledger.CreateOperation(owner, in.Theme, in.Description, in.StartDate, in.Granularity)
	if err != nil {
		return nil, nil, scheduleErr(err)
	}
	reminders := make([]*ledger.Reminder, 0, len(in.Reminders))
	err = o.st.Tx(ctx, func(tx store.Repos) error {
		if err := tx.Operations().Insert(ctx, op); err != nil {
			return err
		}
		for _, ri := range in.Reminders {
			r := ledger.NewReminder(op.ID, ri.Message, ri.Offset)
			if err := tx.Reminders().Insert(ctx, r); err != nil {
				return err
			}
			reminders = append(reminders, r)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create operation: %w", err)
	}
	o.log.Debug("operation created", logx.Int64("operation", op.ID), logx.Int64("owner", owner), logx.Int("reminders", len(reminders)))
	if err := o.jobs.CreateJobsForOperation(ctx, op, reminders); err != nil {
		return op, reminders, fmt.Errorf("sync jobs for operation %d: %w", op.ID, err)
	}
	return op, reminders, nil
}

// Update rewrites the operation and re-syncs its jobs.
func (o *Operations) Update(ctx context.Context, owner, id int64, in OperationInput) (*ledger.Operation, error) {
	if err := o.requireUser(ctx, owner); err != nil {
		return nil, err
	}
	if err := o.validate(in); err != nil {
		return nil, err
	}
	var (
		op        *ledger.Operation
		reminders []*ledger.Reminder
	)
	err := o.st.Tx(ctx, func(tx store.Repos) error {
		var err error
		op, reminders, err = loadOwned(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		if err := o.ledger.UpdateOperation(op, in.Theme, in.Description, in.StartDate, in.Granularity); err != nil {
			return scheduleErr(err)
		}
		return tx.Operations().Update(ctx, op)
	})
	if err != nil {
		return nil, fmt.Errorf("update operation %d: %w", id, err)
	}
	o.log.Debug("operation updated", logx.Int64("operation", id), logx.Time("start", op.StartDate))
	if err := o.jobs.UpdateJobsForOperation(ctx, op, reminders); err != nil {
		return op, fmt.Errorf("sync jobs for operation %d: %w", id, err)
	}
	return op, nil
}

// Delete removes the operation with its reminders and history, then its jobs.
func (o *Operations) Delete(ctx context.Context, owner, id int64) error {
	if err := o.requireUser(ctx, owner); err != nil {
		return err
	}
	var (
		op        *ledger.Operation
		reminders []*ledger.Reminder
	)
	err := o.st.Tx(ctx, func(tx store.Repos) error {
		var err error
		op, reminders, err = loadOwned(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		return tx.Operations().Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete operation %d: %w", id, err)
	}
	o.log.Debug("operation deleted", logx.Int64("operation", id))
	if err := o.jobs.DeleteJobsForOperation(ctx, op, reminders); err != nil {
		return fmt.Errorf("remove jobs for operation %d: %w", id, err)
	}
	return nil
}
