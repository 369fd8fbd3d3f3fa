// Package occurrence maps recurrence granularities to six-field cron
// expressions (sec min hour dom month dow) and computes occurrences.
//
// All calendar arithmetic is done in UTC. The expression fixes the fields
// taken from the anchor instant that the granularity needs and wildcards the
// rest, so the granularity can be recovered from the expression alone.
package occurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleFormatError reports an expression that is not one of the shapes
// ToSchedule produces.
type ScheduleFormatError struct {
	Expr   string
	Reason string
}

func (e *ScheduleFormatError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %s", e.Expr, e.Reason)
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ToSchedule renders the expression for g anchored at anchor. None yields "".
func ToSchedule(g Granularity, anchor time.Time) (string, error) {
	a := anchor.UTC()
	s, m, h := a.Second(), a.Minute(), a.Hour()
	switch g {
	case None:
		return "", nil
	case Every15Min:
		return fmt.Sprintf("%d %d/15 * * * *", s, m%15), nil
	case Hourly:
		return fmt.Sprintf("%d %d * * * *", s, m), nil
	case Daily:
		return fmt.Sprintf("%d %d %d * * *", s, m, h), nil
	case Weekly:
		return fmt.Sprintf("%d %d %d * * %d", s, m, h, int(a.Weekday())), nil
	case Monthly:
		return fmt.Sprintf("%d %d %d %d * *", s, m, h, a.Day()), nil
	default:
		return "", &ScheduleFormatError{Expr: g.String(), Reason: "unknown granularity"}
	}
}

// ToGranularity recovers the granularity of an expression produced by
// ToSchedule. The empty expression is None.
func ToGranularity(expr string) (Granularity, error) {
	g, _, err := classify(expr)
	return g, err
}

// fields holds the fixed parts of a recognised expression.
type fields struct {
	sec, min, hour, dom int
}

func classify(expr string) (Granularity, fields, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return None, fields{}, nil
	}
	f := strings.Fields(expr)
	if len(f) != 6 {
		return None, fields{}, &ScheduleFormatError{Expr: expr, Reason: fmt.Sprintf("want 6 fields, got %d", len(f))}
	}
	bad := func(reason string) (Granularity, fields, error) {
		return None, fields{}, &ScheduleFormatError{Expr: expr, Reason: reason}
	}

	var out fields
	var ok bool
	if out.sec, ok = number(f[0], 0, 59); !ok {
		return bad("second must be 0-59")
	}
	if strings.HasSuffix(f[1], "/15") {
		if out.min, ok = number(strings.TrimSuffix(f[1], "/15"), 0, 14); !ok {
			return bad("stepped minute must be n/15 with n 0-14")
		}
		if !stars(f[2:]) {
			return bad("every-15-minutes expression must wildcard hour, day, month and weekday")
		}
		return Every15Min, out, nil
	}
	if out.min, ok = number(f[1], 0, 59); !ok {
		return bad("minute must be 0-59")
	}
	if f[2] == "*" {
		if !stars(f[3:]) {
			return bad("hourly expression must wildcard day, month and weekday")
		}
		return Hourly, out, nil
	}
	if out.hour, ok = number(f[2], 0, 23); !ok {
		return bad("hour must be 0-23")
	}
	if f[4] != "*" {
		return bad("month must be a wildcard")
	}
	switch {
	case f[3] == "*" && f[5] == "*":
		return Daily, out, nil
	case f[3] == "*":
		if _, ok := number(f[5], 0, 6); !ok {
			return bad("weekday must be 0-6")
		}
		return Weekly, out, nil
	case f[5] == "*":
		if out.dom, ok = number(f[3], 1, 31); !ok {
			return bad("day of month must be 1-31")
		}
		return Monthly, out, nil
	default:
		return bad("day of month and weekday cannot both be fixed")
	}
}

func number(s string, lo, hi int) (int, bool) {
	if s == "" || len(s) > 2 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

func stars(f []string) bool {
	for _, s := range f {
		if s != "*" {
			return false
		}
	}
	return true
}

// Parse validates expr and returns the schedule that fires it, evaluated in
// UTC. Monthly schedules clamp day 29-31 to the last day of shorter months.
// The same value drives both NextOccurrence and the live scheduler.
func Parse(expr string) (cron.Schedule, error) {
	g, f, err := classify(expr)
	if err != nil {
		return nil, err
	}
	switch g {
	case None:
		return nil, &ScheduleFormatError{Expr: expr, Reason: "empty schedule"}
	case Monthly:
		return monthly{sec: f.sec, min: f.min, hour: f.hour, day: f.dom}, nil
	}
	s, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, &ScheduleFormatError{Expr: expr, Reason: err.Error()}
	}
	if spec, ok := s.(*cron.SpecSchedule); ok {
		spec.Location = time.UTC
	}
	return s, nil
}

// NextOccurrence returns the earliest instant strictly after after matching expr.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := s.Next(after)
	if next.IsZero() {
		return time.Time{}, &ScheduleFormatError{Expr: expr, Reason: "schedule never fires"}
	}
	return next.UTC(), nil
}

// monthly fires once a month at a fixed day and time, using the last day of
// the month when day exceeds its length.
type monthly struct {
	sec, min, hour, day int
}

func (m monthly) Next(t time.Time) time.Time {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		month := first.AddDate(0, i, 0)
		day := m.day
		if last := daysIn(month); day > last {
			day = last
		}
		c := time.Date(month.Year(), month.Month(), day, m.hour, m.min, m.sec, 0, time.UTC)
		if c.After(t) {
			return c
		}
	}
	return time.Time{}
}

func daysIn(month time.Time) int {
	return month.AddDate(0, 1, -1).Day()
}

// NotBefore wraps s so that no instant earlier than at, truncated to the
// second, is returned.
func NotBefore(s cron.Schedule, at time.Time) cron.Schedule {
	if at.IsZero() {
		return s
	}
	return notBefore{inner: s, floor: at.UTC().Truncate(time.Second).Add(-time.Second)}
}

type notBefore struct {
	inner cron.Schedule
	floor time.Time
}

func (n notBefore) Next(t time.Time) time.Time {
	if t.Before(n.floor) {
		t = n.floor
	}
	return n.inner.Next(t)
}
