package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatAlertSortsFields(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"warn","time":"x","message":"job failed","job":"reminder-4","comp":"jobsync"}`))
	want := "[WARN] job failed\n- comp=jobsync\n- job=reminder-4"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
}

func TestFormatAlertNonJSON(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte("  plain line \n"))
	if got != "plain line" {
		t.Fatalf("formatAlert = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return nil
}

func TestServiceForwardsWarnings(t *testing.T) {
	rec := &recordingSender{got: make(chan struct{}, 1)}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 5},
	}, rec)
	defer svc.Close()

	log.Info("ignored")
	log.Warn("disk almost full", String("mount", "/var"))

	select {
	case <-rec.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 || !strings.Contains(rec.msgs[0], "disk almost full") {
		t.Fatalf("unexpected alerts: %v", rec.msgs)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	l.With(Int("n", 1)).Error("still nothing")
}
