package occurrence

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseGranularity(t *testing.T) {
	t.Parallel()
	tests := map[string]Granularity{
		"":        None,
		"none":    None,
		"15m":     Every15Min,
		"MIN15":   Every15Min,
		"hour":    Hourly,
		"daily":   Daily,
		" week ":  Weekly,
		"monthly": Monthly,
		"3":       Daily,
	}
	for in, want := range tests {
		got, err := ParseGranularity(in)
		if err != nil || got != want {
			t.Fatalf("ParseGranularity(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	for _, in := range []string{"yearly", "6", "-1"} {
		if _, err := ParseGranularity(in); err == nil {
			t.Fatalf("ParseGranularity(%q) expected error", in)
		}
	}
}

func TestGranularityJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(struct {
		G Granularity `json:"g"`
	}{Weekly})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"g":"weekly"}` {
		t.Fatalf("marshal = %s", b)
	}
	var v struct {
		G Granularity `json:"g"`
	}
	if err := json.Unmarshal([]byte(`{"g":"hourly"}`), &v); err != nil || v.G != Hourly {
		t.Fatalf("unmarshal = %v, %v", v.G, err)
	}
}

func TestOffsetFor(t *testing.T) {
	t.Parallel()
	want := map[Granularity]time.Duration{
		None:       0,
		Every15Min: 15 * time.Minute,
		Hourly:     time.Hour,
		Daily:      24 * time.Hour,
		Weekly:     168 * time.Hour,
		Monthly:    720 * time.Hour,
	}
	for g, d := range want {
		if got := OffsetFor(g); got != d {
			t.Fatalf("OffsetFor(%s) = %v, want %v", g, got, d)
		}
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()
	now := utc(2026, time.October, 14, 9, 30, 0) // Wednesday
	tests := []struct {
		g          Granularity
		start, end time.Time
	}{
		{Daily, utc(2026, time.October, 14, 0, 0, 0), utc(2026, time.October, 15, 0, 0, 0)},
		{Weekly, utc(2026, time.October, 11, 0, 0, 0), utc(2026, time.October, 18, 0, 0, 0)},
		{Monthly, utc(2026, time.October, 1, 0, 0, 0), utc(2026, time.November, 1, 0, 0, 0)},
	}
	for _, tt := range tests {
		s, e, err := Window(tt.g, now)
		if err != nil {
			t.Fatalf("Window(%s) error: %v", tt.g, err)
		}
		if !s.Equal(tt.start) || !e.Equal(tt.end) {
			t.Fatalf("Window(%s) = [%v, %v), want [%v, %v)", tt.g, s, e, tt.start, tt.end)
		}
	}
	if _, _, err := Window(Hourly, now); err == nil {
		t.Fatal("expected error for hourly window")
	}
}
