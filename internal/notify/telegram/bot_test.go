package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"reglament/internal/ledger"
	"reglament/internal/notify/broadcast"
	logx "reglament/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	out  []sent
	fail error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	chat := to.(*tele.Chat)
	f.mu.Lock()
	f.out = append(f.out, sent{chat: chat.ID, text: what.(string)})
	f.mu.Unlock()
	return &tele.Message{ID: len(f.out), Chat: chat}, nil
}

type fakeUsers struct {
	mu   sync.Mutex
	seen map[int64]bool
}

func (f *fakeUsers) Register(_ context.Context, tg int64) (*ledger.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[int64]bool{}
	}
	created := !f.seen[tg]
	f.seen[tg] = true
	return &ledger.User{TelegramID: tg}, created, nil
}

func TestDeliverSendsToOwnerChat(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	b := newBot(Config{RatePerSec: 1000}, fs, nil, nil, logx.Nop())

	if err := b.Deliver(context.Background(), broadcast.Notification{OwnerID: 77, Message: "deploy in 10m"}); err != nil {
		t.Fatal(err)
	}
	if len(fs.out) != 1 || fs.out[0].chat != 77 || fs.out[0].text != "deploy in 10m" {
		t.Fatalf("sent = %+v", fs.out)
	}
	if err := b.Deliver(context.Background(), broadcast.Notification{Message: "x"}); err == nil {
		t.Fatal("expected error without an owner chat")
	}
	fs.fail = errors.New("blocked by user")
	if err := b.Deliver(context.Background(), broadcast.Notification{OwnerID: 77, Message: "x"}); err == nil {
		t.Fatal("send failure not reported")
	}
}

func TestDeliverSplitsLongText(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	b := newBot(Config{RatePerSec: 1000}, fs, nil, nil, logx.Nop())
	long := strings.Repeat("a", textLimit+10)
	if err := b.SendText(context.Background(), 5, long); err != nil {
		t.Fatal(err)
	}
	if len(fs.out) != 2 || len([]rune(fs.out[0].text)) != textLimit {
		t.Fatalf("chunks = %d", len(fs.out))
	}
}

func TestDeliverHonoursContext(t *testing.T) {
	t.Parallel()
	b := newBot(Config{RatePerSec: 1}, &fakeSender{}, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.SendText(ctx, 5, "x"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "abcd\nefghij", 8, []string{"abcd", "efghij"}},
		{"tiny head ignored", "a\nbcdefghij", 6, []string{"a\nbcde", "fghij"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitText(tc.in, tc.limit)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("splitText(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	b := newBot(Config{}, &fakeSender{}, users, func(tg int64) (string, error) { return "tok-for-user", nil }, logx.Nop())
	ctx := context.Background()

	if got := b.onStart(ctx, 9); !strings.HasPrefix(got, "Registered") {
		t.Fatalf("first /start = %q", got)
	}
	if got := b.onStart(ctx, 9); !strings.Contains(got, "already") {
		t.Fatalf("second /start = %q", got)
	}
	if got := b.onToken(ctx, 10); !strings.HasSuffix(got, "tok-for-user") {
		t.Fatalf("/token = %q", got)
	}
	if !users.seen[10] {
		t.Fatal("/token did not register the user")
	}

	disabled := newBot(Config{}, &fakeSender{}, nil, nil, logx.Nop())
	if got := disabled.onToken(ctx, 1); !strings.Contains(got, "disabled") {
		t.Fatalf("/token without issuer = %q", got)
	}
}
