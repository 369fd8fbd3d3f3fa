package occurrence

import "time"

// Trigger is what a job is registered with: a recurring expression, or a
// single instant when Expr is empty. From, when set on a recurring trigger,
// is the earliest instant it may fire.
type Trigger struct {
	Expr string
	At   time.Time
	From time.Time
}

func Recurring(expr string) Trigger { return Trigger{Expr: expr} }
func Once(at time.Time) Trigger     { return Trigger{At: at.UTC()} }

// RecurringFrom is Recurring with no match earlier than from.
func RecurringFrom(expr string, from time.Time) Trigger {
	return Trigger{Expr: expr, From: from.UTC()}
}

func (t Trigger) IsOnce() bool { return t.Expr == "" }

func (t Trigger) String() string {
	if t.IsOnce() {
		return "once@" + t.At.UTC().Format(time.RFC3339)
	}
	if !t.From.IsZero() {
		return t.Expr + " from " + t.From.UTC().Format(time.RFC3339)
	}
	return t.Expr
}
