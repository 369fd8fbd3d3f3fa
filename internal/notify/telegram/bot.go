// Package telegram delivers notifications to the owner's private chat and
// handles the few bot commands users need: /start registers the chat, /token
// hands out an API bearer token.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"reglament/internal/ledger"
	"reglament/internal/notify/broadcast"
	rtsup "reglament/internal/runtime/supervisor"
	logx "reglament/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outgoing messages across all chats (default 25).
	RatePerSec int
}

// Registrar creates the user behind a chat.
type Registrar interface {
	Register(ctx context.Context, telegramID int64) (*ledger.User, bool, error)
}

// TokenIssuer returns an API token whose subject is telegramID.
type TokenIssuer func(telegramID int64) (string, error)

// sender is the part of *tele.Bot used for delivery.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Bot struct {
	cfg     Config
	log     logx.Logger
	users   Registrar
	tokens  TokenIssuer
	limiter *rate.Limiter

	bot  *tele.Bot
	send sender

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, users Registrar, tokens TokenIssuer, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	b := newBot(cfg, tb, users, tokens, log)
	b.bot = tb
	b.registerHandlers()
	return b, nil
}

func newBot(cfg Config, s sender, users Registrar, tokens TokenIssuer, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	return &Bot{
		cfg:     cfg,
		log:     log,
		users:   users,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		send:    s,
	}
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", func(c tele.Context) error {
		if c.Sender() == nil {
			return nil
		}
		return c.Send(b.onStart(context.Background(), c.Sender().ID))
	})
	b.bot.Handle("/token", func(c tele.Context) error {
		if c.Sender() == nil {
			return nil
		}
		return c.Send(b.onToken(context.Background(), c.Sender().ID))
	})
}

func (b *Bot) onStart(ctx context.Context, telegramID int64) string {
	if b.users == nil {
		return "Registration is unavailable."
	}
	_, created, err := b.users.Register(ctx, telegramID)
	if err != nil {
		b.log.Warn("registration failed", logx.Int64("telegram_id", telegramID), logx.Err(err))
		return "Registration failed, try again later."
	}
	if created {
		return "Registered. Reminders will arrive in this chat."
	}
	return "You are already registered."
}

func (b *Bot) onToken(ctx context.Context, telegramID int64) string {
	if b.tokens == nil {
		return "The API is disabled."
	}
	if b.users != nil {
		if _, _, err := b.users.Register(ctx, telegramID); err != nil {
			b.log.Warn("registration failed", logx.Int64("telegram_id", telegramID), logx.Err(err))
			return "Registration failed, try again later."
		}
	}
	tok, err := b.tokens(telegramID)
	if err != nil {
		b.log.Warn("token issue failed", logx.Int64("telegram_id", telegramID), logx.Err(err))
		return "Could not issue a token."
	}
	return "API token:\n" + tok
}

// Deliver sends the notification text to the owner's chat.
func (b *Bot) Deliver(ctx context.Context, n broadcast.Notification) error {
	return b.SendText(ctx, n.OwnerID, n.Message)
}

// SendText sends text to chatID, split into Telegram-sized chunks.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return errors.New("telegram: no chat id")
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := b.send.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("telegram send to %d: %w", chatID, err)
		}
	}
	return nil
}

// Start begins long polling under a restarting supervisor. It is a no-op for
// bots built without a live connection.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running || b.bot == nil {
		return nil
	}
	b.running = true
	b.sup = rtsup.New(ctx,
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)
	tb := b.bot
	b.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		tb.Stop()
	})
	b.sup.GoRestart0("telebot.poll", func(context.Context) {
		b.log.Info("polling started")
		tb.Start()
		b.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling. It waits at most two seconds, or less if ctx expires
// sooner, for the long poll to return.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	was := b.running
	b.running = false
	b.runMu.Unlock()
	if !was || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}
