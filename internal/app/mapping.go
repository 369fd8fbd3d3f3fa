package app

import (
	"strings"
	"time"

	"reglament/internal/config"
	"reglament/internal/notify/broadcast"
	"reglament/internal/notify/slack"
	"reglament/internal/notify/telegram"
	"reglament/internal/store"
	"reglament/internal/task/engine"
	"reglament/internal/task/scheduler"
	"reglament/internal/transport/ws"
	logx "reglament/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "",
			ChatID:     lc.Telegram.ChatID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConn,
	}, nil
}

// mapEngineConfig fills the documented defaults for an omitted task_engine
// section.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Workers: 4, QueueSize: 256, HistorySize: 200, RetryMax: 3, DefaultTimeout: 30 * time.Second}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers != 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize != 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize != 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax != 0 {
		out.RetryMax = te.RetryMax
	}
	d, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, out.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	d, err := config.ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{JobTimeout: d}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	d, err := config.ParseDurationField("broadcast.write_timeout", cfg.Broadcast.WriteTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{Concurrency: cfg.Broadcast.Concurrency, WriteTimeout: d}, nil
}

// mapTelegramConfig reports false when no bot token is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: strings.TrimSpace(tc.Token), PollTimeout: poll, RatePerSec: tc.RatePerSec}, true, nil
}

func mapSlackConfig(cfg *config.Config) (slack.Config, bool) {
	sc := cfg.Slack
	if sc == nil || (sc.WebhookURL == "" && sc.BotToken == "") {
		return slack.Config{}, false
	}
	return slack.Config{WebhookURL: sc.WebhookURL, BotToken: sc.BotToken, Channel: sc.Channel}, true
}

func mapStreamConfig(cfg *config.Config) (ws.Config, error) {
	d, err := config.ParseDurationField("broadcast.write_timeout", cfg.Broadcast.WriteTimeout)
	if err != nil {
		return ws.Config{}, err
	}
	return ws.Config{WriteTimeout: d}, nil
}

type httpTimeouts struct {
	read, write, shutdown time.Duration
}

func mapHTTPTimeouts(cfg *config.Config) (httpTimeouts, error) {
	var (
		t   httpTimeouts
		err error
	)
	if t.read, err = config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second); err != nil {
		return t, err
	}
	if t.write, err = config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 15*time.Second); err != nil {
		return t, err
	}
	if t.shutdown, err = config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second); err != nil {
		return t, err
	}
	return t, nil
}
