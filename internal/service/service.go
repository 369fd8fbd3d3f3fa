// Package service is the orchestration layer behind the API and the bot:
// ownership checks, the ledger write in one transaction, then job sync.
//
// A job sync failure after a committed write is returned to the caller; the
// next reconcile pass registers the missing jobs.
package service

import (
	"context"
	"strings"
	"time"

	"reglament/internal/ledger"
	"reglament/internal/store"
	logx "reglament/pkg/logx"
)

// Jobs is the part of the job synchronizer the services drive.
type Jobs interface {
	CreateJobsForOperation(ctx context.Context, op *ledger.Operation, reminders []*ledger.Reminder) error
	UpdateJobsForOperation(ctx context.Context, op *ledger.Operation, reminders []*ledger.Reminder) error
	DeleteJobsForOperation(ctx context.Context, op *ledger.Operation, reminders []*ledger.Reminder) error
	SyncReminderJob(ctx context.Context, op *ledger.Operation, r *ledger.Reminder) error
	DeleteReminderJob(ctx context.Context, r *ledger.Reminder) error
}

type Deps struct {
	Store  store.Store
	Ledger *ledger.Ledger
	Jobs   Jobs
	Log    logx.Logger
}

type Services struct {
	Users      *Users
	Operations *Operations
	Reminders  *Reminders
}

func New(d Deps) *Services {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New(nil)
	}
	b := base{st: d.Store, ledger: d.Ledger, jobs: d.Jobs, log: d.Log}
	return &Services{
		Users:      &Users{base: b},
		Operations: &Operations{base: b},
		Reminders:  &Reminders{base: b},
	}
}

type base struct {
	st     store.Store
	ledger *ledger.Ledger
	jobs   Jobs
	log    logx.Logger
}

func (b base) requireUser(ctx context.Context, owner int64) error {
	ok, err := b.st.Users().Exists(ctx, owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// ReminderInput is the user-supplied part of a reminder.
type ReminderInput struct {
	Message string
	Offset  time.Duration
}

func (in ReminderInput) validate() error {
	if in.Offset <= 0 {
		return ErrBadOffset
	}
	return nil
}

func validateTheme(theme string) error {
	if strings.TrimSpace(theme) == "" {
		return ErrBlankTheme
	}
	return nil
}
