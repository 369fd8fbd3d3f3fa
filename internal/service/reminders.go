package service

import (
	"context"
	"fmt"

	"reglament/internal/ledger"
	"reglament/internal/store"
	logx "reglament/pkg/logx"
)

type Reminders struct{ base }

// Add attaches a reminder to the owner's operation and registers its job.
func (s *Reminders) Add(ctx context.Context, owner, operationID int64, in ReminderInput) (*ledger.Reminder, error) {
	if err := s.requireUser(ctx, owner); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var (
		op *ledger.Operation
		r  *ledger.Reminder
	)
	err := s.st.Tx(ctx, func(tx store.Repos) error {
		var err error
		op, _, err = loadOwned(ctx, tx, owner, operationID)
		if err != nil {
			return err
		}
		r = ledger.NewReminder(op.ID, in.Message, in.Offset)
		return tx.Reminders().Insert(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("add reminder to operation %d: %w", operationID, err)
	}
	s.log.Debug("reminder added", logx.Int64("reminder", r.ID), logx.Int64("operation", op.ID))
	if err := s.jobs.SyncReminderJob(ctx, op, r); err != nil {
		return r, fmt.Errorf("sync job for reminder %d: %w", r.ID, err)
	}
	return r, nil
}

// Update rewrites the reminder text and offset and re-syncs its job.
func (s *Reminders) Update(ctx context.Context, owner, operationID, id int64, in ReminderInput) (*ledger.Reminder, error) {
	if err := s.requireUser(ctx, owner); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var (
		op *ledger.Operation
		r  *ledger.Reminder
	)
	err := s.st.Tx(ctx, func(tx store.Repos) error {
		var err error
		op, r, err = loadOwnedReminder(ctx, tx, owner, operationID, id)
		if err != nil {
			return err
		}
		ledger.UpdateReminder(r, in.Message, in.Offset)
		return tx.Reminders().Update(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("update reminder %d: %w", id, err)
	}
	s.log.Debug("reminder updated", logx.Int64("reminder", id))
	if err := s.jobs.SyncReminderJob(ctx, op, r); err != nil {
		return r, fmt.Errorf("sync job for reminder %d: %w", id, err)
	}
	return r, nil
}

// Delete removes the reminder and its job.
func (s *Reminders) Delete(ctx context.Context, owner, operationID, id int64) error {
	if err := s.requireUser(ctx, owner); err != nil {
		return err
	}
	var r *ledger.Reminder
	err := s.st.Tx(ctx, func(tx store.Repos) error {
		var err error
		_, r, err = loadOwnedReminder(ctx, tx, owner, operationID, id)
		if err != nil {
			return err
		}
		return tx.Reminders().Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	s.log.Debug("reminder deleted", logx.Int64("reminder", id))
	if err := s.jobs.DeleteReminderJob(ctx, r); err != nil {
		return fmt.Errorf("remove job for reminder %d: %w", id, err)
	}
	return nil
}

// loadOwnedReminder checks that the reminder belongs to operationID and the
// operation to owner.
func loadOwnedReminder(ctx context.Context, repos store.Repos, owner, operationID, id int64) (*ledger.Operation, *ledger.Reminder, error) {
	op, err := repos.Operations().Get(ctx, operationID)
	if err != nil {
		return nil, nil, notFound(err, ErrOperationNotFound)
	}
	r, err := repos.Reminders().Get(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, ErrReminderNotFound)
	}
	if op.OwnerID != owner || r.OperationID != op.ID {
		return nil, nil, ErrForbidden
	}
	return op, r, nil
}
