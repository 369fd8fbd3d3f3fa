package occurrence

import (
	"errors"
	"testing"
	"time"
)

func utc(y int, m time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, m, d, h, mi, s, 0, time.UTC)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	anchors := []time.Time{
		utc(2026, time.January, 31, 23, 59, 59),
		utc(2026, time.February, 28, 0, 0, 0),
		utc(2028, time.February, 29, 12, 44, 7),
		utc(2026, time.October, 14, 9, 30, 0),
		time.Date(2026, time.March, 1, 1, 15, 0, 0, time.FixedZone("UTC+3", 3*3600)),
	}
	for _, g := range All {
		for _, a := range anchors {
			expr, err := ToSchedule(g, a)
			if err != nil {
				t.Fatalf("ToSchedule(%s, %v) error: %v", g, a, err)
			}
			got, err := ToGranularity(expr)
			if err != nil {
				t.Fatalf("ToGranularity(%q) error: %v", expr, err)
			}
			if got != g {
				t.Fatalf("ToGranularity(ToSchedule(%s, %v)) = %s (expr %q)", g, a, got, expr)
			}
		}
	}
}

func TestToScheduleShapes(t *testing.T) {
	t.Parallel()
	a := utc(2026, time.October, 14, 9, 37, 5) // Wednesday
	tests := []struct {
		g    Granularity
		want string
	}{
		{None, ""},
		{Every15Min, "5 7/15 * * * *"},
		{Hourly, "5 37 * * * *"},
		{Daily, "5 37 9 * * *"},
		{Weekly, "5 37 9 * * 3"},
		{Monthly, "5 37 9 14 * *"},
	}
	for _, tt := range tests {
		got, err := ToSchedule(tt.g, a)
		if err != nil {
			t.Fatalf("ToSchedule(%s) error: %v", tt.g, err)
		}
		if got != tt.want {
			t.Fatalf("ToSchedule(%s) = %q, want %q", tt.g, got, tt.want)
		}
	}
	if _, err := ToSchedule(Granularity(42), a); err == nil {
		t.Fatal("expected error for unknown granularity")
	}
}

func TestToGranularityRejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"0 0 * * *",        // five fields
		"0 0 0 * * * *",    // seven fields
		"*/5 * * * * *",    // wildcard second
		"0 20/15 * * * *",  // step start out of range
		"0 0/15 3 * * *",   // stepped minute with fixed hour
		"0 0 * 1 * *",      // hourly with fixed day
		"0 0 0 * 1 *",      // fixed month
		"0 0 0 1 * 1",      // both day and weekday fixed
		"0 0 0 * * 7",      // weekday out of range
		"0 0 0 32 * *",     // day out of range
		"0 0 25 * * *",     // hour out of range
		"0 +5 * * * *",     // sign
		"0 0 0 * * MON",    // names
		"@daily",           // descriptor
		"0 0 0 1-5 * *",    // ranges
		"0 0,30 * * * *",   // lists
		"0 0 0 ? * *",      // question mark
		"60 0 0 * * *",     // second out of range
		"0 5/10 * * * *",   // wrong step
		"0 005 * * * *",    // three digits
		"a b c d e f",      // junk
		"0 0 0 0 * *",      // day zero
		"0 0 0 * * -1",     // negative weekday
		"0 0 0 * * 1/2",    // stepped weekday
		"0 0 0 */2 * *",    // stepped day
		"0 0 */2 * * *",    // stepped hour
		"0 */15 * * * *",   // star step
		"0 0/15 * * * 1",   // stepped minute with weekday
		"0 0 0 1 1-3 *",    // month range
		"0 0 0 * JAN *",    // month name
		"0 0 0 31 2 *",     // fixed month
		"0 0 0 * * * extra",
	}
	for _, expr := range bad {
		_, err := ToGranularity(expr)
		var fe *ScheduleFormatError
		if !errors.As(err, &fe) {
			t.Fatalf("ToGranularity(%q) error = %v, want ScheduleFormatError", expr, err)
		}
	}
	if g, err := ToGranularity("   "); err != nil || g != None {
		t.Fatalf("blank expression = %s, %v", g, err)
	}
}

func TestNextOccurrenceStrictlyAfter(t *testing.T) {
	t.Parallel()
	anchor := utc(2026, time.October, 14, 9, 30, 0)
	tests := []struct {
		name  string
		g     Granularity
		after time.Time
		want  time.Time
	}{
		{"15m on the boundary", Every15Min, anchor, utc(2026, time.October, 14, 9, 45, 0)},
		{"15m wraps the hour", Every15Min, utc(2026, time.October, 14, 9, 50, 0), utc(2026, time.October, 14, 10, 0, 0)},
		{"hourly", Hourly, anchor, utc(2026, time.October, 14, 10, 30, 0)},
		{"daily same instant", Daily, anchor, utc(2026, time.October, 15, 9, 30, 0)},
		{"daily earlier same day", Daily, utc(2026, time.October, 14, 8, 0, 0), anchor},
		{"weekly", Weekly, anchor, utc(2026, time.October, 21, 9, 30, 0)},
		{"monthly", Monthly, anchor, utc(2026, time.November, 14, 9, 30, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			expr, err := ToSchedule(tt.g, anchor)
			if err != nil {
				t.Fatal(err)
			}
			got, err := NextOccurrence(expr, tt.after)
			if err != nil {
				t.Fatalf("NextOccurrence(%q) error: %v", expr, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextOccurrence(%q, %v) = %v, want %v", expr, tt.after, got, tt.want)
			}
			if !got.After(tt.after) {
				t.Fatalf("NextOccurrence not strictly after: %v <= %v", got, tt.after)
			}
		})
	}
}

func TestMonthlyClampsToMonthEnd(t *testing.T) {
	t.Parallel()
	expr, _ := ToSchedule(Monthly, utc(2026, time.January, 31, 8, 0, 0))
	want := []time.Time{
		utc(2026, time.February, 28, 8, 0, 0),
		utc(2026, time.March, 31, 8, 0, 0),
		utc(2026, time.April, 30, 8, 0, 0),
	}
	cur := utc(2026, time.January, 31, 8, 0, 0)
	for _, w := range want {
		next, err := NextOccurrence(expr, cur)
		if err != nil {
			t.Fatal(err)
		}
		if !next.Equal(w) {
			t.Fatalf("NextOccurrence(%q, %v) = %v, want %v", expr, cur, next, w)
		}
		cur = next
	}

	leap, _ := ToSchedule(Monthly, utc(2028, time.January, 30, 0, 0, 0))
	got, _ := NextOccurrence(leap, utc(2028, time.January, 30, 0, 0, 0))
	if !got.Equal(utc(2028, time.February, 29, 0, 0, 0)) {
		t.Fatalf("leap clamp = %v", got)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error parsing empty schedule")
	}
}

func TestNextOccurrenceIgnoresCallerZone(t *testing.T) {
	t.Parallel()
	expr, _ := ToSchedule(Daily, utc(2026, time.October, 14, 22, 0, 0))
	after := time.Date(2026, time.October, 15, 0, 30, 0, 0, time.FixedZone("UTC+3", 3*3600)) // 21:30Z on the 14th
	got, err := NextOccurrence(expr, after)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(utc(2026, time.October, 14, 22, 0, 0)) {
		t.Fatalf("got %v", got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", got.Location())
	}
}

func TestNotBeforeHoldsBackEarlyMatches(t *testing.T) {
	t.Parallel()
	start := utc(2026, time.October, 17, 9, 0, 0)
	for _, g := range []Granularity{Every15Min, Hourly, Daily, Weekly, Monthly} {
		t.Run(g.String(), func(t *testing.T) {
			t.Parallel()
			expr, err := ToSchedule(g, start)
			if err != nil {
				t.Fatal(err)
			}
			s, err := Parse(expr)
			if err != nil {
				t.Fatal(err)
			}
			nb := NotBefore(s, start)
			if got := nb.Next(utc(2026, time.October, 14, 9, 0, 0)); !got.Equal(start) {
				t.Fatalf("first fire = %v, want %v", got, start)
			}
			if got, want := nb.Next(start), s.Next(start); !got.Equal(want) {
				t.Fatalf("after start = %v, want %v", got, want)
			}
		})
	}
	s, _ := Parse("0 0 9 * * *")
	if NotBefore(s, time.Time{}) != s {
		t.Fatal("zero bound should return the schedule unchanged")
	}
}
