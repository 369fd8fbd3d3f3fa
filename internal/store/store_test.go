package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"reglament/internal/ledger"
	"reglament/internal/occurrence"
	logx "reglament/pkg/logx"
)

var now = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sq, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	mem, err := Open(ctx, Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	return map[string]Store{"memory": mem, "sqlite": sq}
}

func newOp(t *testing.T, start time.Time, g occurrence.Granularity) *ledger.Operation {
	t.Helper()
	op, err := ledger.New(func() time.Time { return now }).CreateOperation(42, "theme", "desc", start, g)
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func checkPending(t *testing.T, op *ledger.Operation) {
	t.Helper()
	p := op.Pending()
	switch {
	case p == nil && op.PendingInstanceID != nil:
		t.Fatalf("dangling PendingInstanceID %d", *op.PendingInstanceID)
	case p != nil && (op.PendingInstanceID == nil || *op.PendingInstanceID != p.ID || p.ID == 0):
		t.Fatalf("PendingInstanceID %v does not match pending instance %d", op.PendingInstanceID, p.ID)
	}
}

func TestOperationLifecycle(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			op := newOp(t, now.Add(time.Hour), occurrence.Daily)
			if err := st.Operations().Insert(ctx, op); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if op.ID == 0 || op.History[0].ID == 0 {
				t.Fatal("ids not assigned")
			}
			checkPending(t, op)

			got, err := st.Operations().Get(ctx, op.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			checkPending(t, got)
			if got.Theme != "theme" || got.Recurrence != op.Recurrence || !got.StartDate.Equal(op.StartDate) {
				t.Fatalf("Get = %+v", got)
			}

			l := ledger.New(func() time.Time { return now.Add(time.Hour) })
			if err := l.ExecuteOccurrence(got); err != nil {
				t.Fatal(err)
			}
			if err := st.Operations().Update(ctx, got); err != nil {
				t.Fatalf("Update: %v", err)
			}
			checkPending(t, got)

			again, rs, err := st.Operations().GetWithDetails(ctx, op.ID)
			if err != nil {
				t.Fatalf("GetWithDetails: %v", err)
			}
			if len(rs) != 0 {
				t.Fatalf("reminders = %d", len(rs))
			}
			if len(again.History) != 2 || !again.History[0].Executed() || again.History[0].Result != ledger.ResultDone {
				t.Fatalf("history = %+v", again.History)
			}
			checkPending(t, again)
			if *again.PendingInstanceID != again.History[1].ID {
				t.Fatal("pending should be the appended instance")
			}
		})
	}
}

func TestInsertPastDueHistory(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			closed := newOp(t, now.Add(-time.Hour), occurrence.None)
			if err := st.Operations().Insert(ctx, closed); err != nil {
				t.Fatal(err)
			}
			got, err := st.Operations().Get(ctx, closed.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.PendingInstanceID != nil || len(got.History) != 1 || got.History[0].ExecutedAt == nil {
				t.Fatalf("closed operation = %+v", got)
			}
			if !got.History[0].ExecutedAt.Equal(now.Add(-time.Hour)) {
				t.Fatalf("ExecutedAt = %v", got.History[0].ExecutedAt)
			}
		})
	}
}

func TestDeleteCascades(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			op := newOp(t, now.Add(time.Hour), occurrence.None)
			if err := st.Operations().Insert(ctx, op); err != nil {
				t.Fatal(err)
			}
			r := ledger.NewReminder(op.ID, "ping", 10*time.Minute)
			if err := st.Reminders().Insert(ctx, r); err != nil {
				t.Fatal(err)
			}
			gotR, gotOp, err := st.Reminders().GetWithOperation(ctx, r.ID)
			if err != nil || gotR.Offset != 10*time.Minute || gotOp.ID != op.ID {
				t.Fatalf("GetWithOperation = %+v, %+v, %v", gotR, gotOp, err)
			}

			if err := st.Operations().Delete(ctx, op.ID); err != nil {
				t.Fatal(err)
			}
			if _, err := st.Reminders().Get(ctx, r.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("reminder after cascade: %v", err)
			}
			if _, err := st.Operations().Get(ctx, op.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("operation after delete: %v", err)
			}
			if err := st.Operations().Delete(ctx, op.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete: %v", err)
			}
		})
	}
}

func TestTxRollsBack(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")
			var id int64
			err := st.Tx(ctx, func(tx Repos) error {
				op := newOp(t, now.Add(time.Hour), occurrence.None)
				if err := tx.Operations().Insert(ctx, op); err != nil {
					return err
				}
				id = op.ID
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Tx error = %v", err)
			}
			if _, err := st.Operations().Get(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("rolled back operation visible: %v", err)
			}
		})
	}
}

func TestUsersEnsureIsIdempotent(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u, created, err := st.Users().Ensure(ctx, 1001)
			if err != nil || !created || u.TelegramID != 1001 {
				t.Fatalf("first Ensure = %+v, %v, %v", u, created, err)
			}
			u2, created, err := st.Users().Ensure(ctx, 1001)
			if err != nil || created || u2.ID != u.ID {
				t.Fatalf("second Ensure = %+v, %v, %v", u2, created, err)
			}
			if ok, _ := st.Users().Exists(ctx, 1001); !ok {
				t.Fatal("Exists = false")
			}
			if ok, _ := st.Users().Exists(ctx, 7); ok {
				t.Fatal("Exists(7) = true")
			}
		})
	}
}

func TestListQueries(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var open []int64
			for i := 0; i < 5; i++ {
				start := now.Add(time.Duration(i+1) * time.Hour)
				if i == 2 {
					start = now.Add(-time.Hour) // closed one-shot
				}
				op := newOp(t, start, occurrence.None)
				if err := st.Operations().Insert(ctx, op); err != nil {
					t.Fatal(err)
				}
				if i != 2 {
					open = append(open, op.ID)
				}
			}

			var seen []int64
			var after int64
			for {
				page, err := st.Operations().ListPending(ctx, after, 2)
				if err != nil {
					t.Fatal(err)
				}
				if len(page) == 0 {
					break
				}
				for _, op := range page {
					checkPending(t, op)
					seen = append(seen, op.ID)
					after = op.ID
				}
			}
			if len(seen) != len(open) {
				t.Fatalf("ListPending ids = %v, want %v", seen, open)
			}
			for i := range seen {
				if seen[i] != open[i] {
					t.Fatalf("ListPending ids = %v, want %v", seen, open)
				}
			}

			in, err := st.Operations().ListByOwner(ctx, 42, now, now.Add(3*time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if len(in) != 2 {
				t.Fatalf("ListByOwner window = %d operations, want 2", len(in))
			}
			all, _ := st.Operations().ListByOwner(ctx, 42, time.Time{}, time.Time{})
			if len(all) != 5 {
				t.Fatalf("ListByOwner all = %d", len(all))
			}
			if other, _ := st.Operations().ListByOwner(ctx, 7, time.Time{}, time.Time{}); len(other) != 0 {
				t.Fatalf("other owner sees %d operations", len(other))
			}
		})
	}
}

func TestReminderNeedsOperation(t *testing.T) {
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.Reminders().Insert(ctx, ledger.NewReminder(999, "x", time.Minute)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Insert orphan reminder: %v", err)
			}
			if err := st.Reminders().Update(ctx, &ledger.Reminder{ID: 999}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update missing reminder: %v", err)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing sqlite path")
	}
}
