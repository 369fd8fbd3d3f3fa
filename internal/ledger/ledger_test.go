package ledger

import (
	"testing"
	"time"

	"reglament/internal/occurrence"
)

var base = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

// checkInvariant fails when more than one instance is unexecuted.
func checkInvariant(t *testing.T, op *Operation) {
	t.Helper()
	open := 0
	for _, in := range op.History {
		if !in.Executed() {
			open++
		}
	}
	if open > 1 {
		t.Fatalf("operation has %d unexecuted instances", open)
	}
	if op.PendingInstanceID != nil {
		p := op.Pending()
		if p == nil || p.ID != *op.PendingInstanceID {
			t.Fatalf("PendingInstanceID %d does not match pending instance", *op.PendingInstanceID)
		}
	}
}

func TestCreateFutureOneShot(t *testing.T) {
	t.Parallel()
	l := New(fixed(base))
	op, err := l.CreateOperation(7, " pay rent ", "", base.Add(24*time.Hour), occurrence.None)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariant(t, op)
	if op.Theme != "pay rent" {
		t.Fatalf("Theme = %q", op.Theme)
	}
	if len(op.History) != 1 || op.Pending() == nil {
		t.Fatalf("want one pending instance, got %d instances", len(op.History))
	}
	if !op.History[0].ScheduledAt.Equal(base) {
		t.Fatalf("ScheduledAt = %v, want creation time", op.History[0].ScheduledAt)
	}
	if op.Recurring() {
		t.Fatal("one-shot operation reports recurring")
	}
}

func TestCreatePastOneShotIsClosed(t *testing.T) {
	t.Parallel()
	l := New(fixed(base))
	start := base.Add(-24 * time.Hour)
	op, err := l.CreateOperation(7, "backup", "", start, occurrence.None)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariant(t, op)
	if op.Pending() != nil || op.PendingInstanceID != nil {
		t.Fatal("past one-shot operation should have no pending instance")
	}
	if len(op.History) != 1 {
		t.Fatalf("history len = %d", len(op.History))
	}
	in := op.History[0]
	if in.Result != ResultDone || in.ExecutedAt == nil || !in.ExecutedAt.Equal(start) || !in.ScheduledAt.Equal(start) {
		t.Fatalf("instance = %+v", in)
	}
}

func TestCreatePastRecurringRollsForward(t *testing.T) {
	t.Parallel()
	l := New(fixed(base))
	start := base.Add(-2*24*time.Hour - time.Hour) // 08:00, two days ago
	op, err := l.CreateOperation(7, "standup", "", start, occurrence.Daily)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariant(t, op)
	if len(op.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(op.History))
	}
	if !op.History[0].Executed() || op.History[1].Executed() {
		t.Fatal("want executed first instance and pending second instance")
	}
	want := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)
	if !op.StartDate.Equal(want) {
		t.Fatalf("StartDate = %v, want %v", op.StartDate, want)
	}
}

func TestExecuteOccurrenceDaily(t *testing.T) {
	t.Parallel()
	now := base
	l := New(func() time.Time { return now })
	op, err := l.CreateOperation(7, "standup", "", base.Add(time.Hour), occurrence.Daily)
	if err != nil {
		t.Fatal(err)
	}
	op.History[0].ID = 1
	op.ResolvePending()

	now = base.Add(time.Hour)
	if err := l.ExecuteOccurrence(op); err != nil {
		t.Fatal(err)
	}
	checkInvariant(t, op)
	if len(op.History) != 2 {
		t.Fatalf("history len = %d", len(op.History))
	}
	if !op.StartDate.Equal(base.Add(25 * time.Hour)) {
		t.Fatalf("StartDate = %v", op.StartDate)
	}
	if op.PendingInstanceID != nil {
		t.Fatal("PendingInstanceID must be cleared until the new instance is persisted")
	}
	if !op.History[0].Executed() || op.History[0].Result != ResultDone {
		t.Fatalf("first instance = %+v", op.History[0])
	}
}

func TestExecuteOccurrenceTimerJitterStillAdvances(t *testing.T) {
	t.Parallel()
	now := base
	l := New(func() time.Time { return now })
	op, _ := l.CreateOperation(7, "standup", "", base.Add(time.Hour), occurrence.Daily)
	now = base.Add(time.Hour - time.Millisecond)
	if err := l.ExecuteOccurrence(op); err != nil {
		t.Fatal(err)
	}
	if !op.StartDate.Equal(base.Add(25 * time.Hour)) {
		t.Fatalf("StartDate = %v", op.StartDate)
	}
}

func TestExecuteOccurrenceOneShotCloses(t *testing.T) {
	t.Parallel()
	l := New(fixed(base))
	op, _ := l.CreateOperation(7, "renew", "", base.Add(time.Minute), occurrence.None)
	if err := l.ExecuteOccurrence(op); err != nil {
		t.Fatal(err)
	}
	if op.Pending() != nil {
		t.Fatal("one-shot should close after execution")
	}
	if err := l.ExecuteOccurrence(op); err != ErrNoPending {
		t.Fatalf("second execution error = %v, want ErrNoPending", err)
	}
}

func TestUpdateReopensClosedOperation(t *testing.T) {
	t.Parallel()
	l := New(fixed(base))
	op, _ := l.CreateOperation(7, "renew", "", base.Add(-time.Hour), occurrence.None)
	if op.Pending() != nil {
		t.Fatal("setup: expected closed operation")
	}
	if err := l.UpdateOperation(op, "renew", "again", base.Add(time.Hour), occurrence.Weekly); err != nil {
		t.Fatal(err)
	}
	checkInvariant(t, op)
	if op.Pending() == nil {
		t.Fatal("future update should reopen the operation")
	}
	if op.Granularity() != occurrence.Weekly {
		t.Fatalf("Granularity = %s", op.Granularity())
	}
	if len(op.History) != 2 {
		t.Fatalf("history len = %d", len(op.History))
	}
}

func TestUpdatePastDueRecurringAppendsInstance(t *testing.T) {
	t.Parallel()
	l := New(fixed(base))
	op, _ := l.CreateOperation(7, "sync", "", base.Add(time.Hour), occurrence.Hourly)
	if err := l.UpdateOperation(op, "sync", "", base.Add(-90*time.Minute), occurrence.Hourly); err != nil {
		t.Fatal(err)
	}
	checkInvariant(t, op)
	if len(op.History) != 2 || !op.History[0].Executed() {
		t.Fatalf("history = %+v", op.History)
	}
	if want := base.Add(30 * time.Minute); !op.StartDate.Equal(want) {
		t.Fatalf("StartDate = %v, want %v", op.StartDate, want)
	}
}

func TestFireAt(t *testing.T) {
	t.Parallel()
	op := &Operation{StartDate: base}
	r := NewReminder(1, "soon", 15*time.Minute)
	if got := FireAt(op, r); !got.Equal(base.Add(-15 * time.Minute)) {
		t.Fatalf("FireAt = %v", got)
	}
	UpdateReminder(r, "later", time.Hour)
	if got := FireAt(op, r); !got.Equal(base.Add(-time.Hour)) || r.MessageTemplate != "later" {
		t.Fatalf("after update FireAt = %v, msg %q", got, r.MessageTemplate)
	}
}
