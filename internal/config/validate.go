package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var storageDrivers = map[string]bool{"memory": true, "sqlite": true, "sqlite3": true, "postgres": true}

// Validate checks bounds, durations and cross-field rules. It is used both at
// startup and as the hot-reload validator.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	duration("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.RatePerSec < 0 {
		check(errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		check(errors.New("logging.telegram.enabled requires telegram.token"))
	}

	if cfg.Slack != nil && cfg.Slack.WebhookURL != "" {
		if u, err := url.Parse(cfg.Slack.WebhookURL); err != nil || u.Scheme != "https" {
			check(fmt.Errorf("slack.webhook_url must be an https URL"))
		}
	}
	if cfg.Slack != nil && cfg.Slack.BotToken != "" && strings.TrimSpace(cfg.Slack.Channel) == "" {
		check(errors.New("slack.bot_token requires slack.channel"))
	}

	duration("http.read_timeout", cfg.HTTP.ReadTimeout)
	duration("http.write_timeout", cfg.HTTP.WriteTimeout)
	duration("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	if strings.TrimSpace(cfg.HTTP.Addr) != "" && len(cfg.Auth.JWTSecret) < 16 {
		check(errors.New("auth.jwt_secret must be at least 16 bytes when http.addr is set"))
	}
	duration("auth.token_ttl", cfg.Auth.TokenTTL)

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch {
	case driver == "":
	case !storageDrivers[driver]:
		check(fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	case (driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(cfg.Storage.Path) == "":
		check(errors.New("storage.path is required when storage.driver=sqlite"))
	case driver == "postgres" && strings.TrimSpace(cfg.Storage.DSN) == "":
		check(errors.New("storage.dsn is required when storage.driver=postgres"))
	}
	duration("storage.busy_timeout", cfg.Storage.BusyTimeout)

	duration("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			check(errors.New("task_engine: workers, queue_size, history_size and retry_max must be >= 0"))
		}
		duration("task_engine.default_timeout", te.DefaultTimeout)
	}

	if cfg.Broadcast.Concurrency < 0 {
		check(errors.New("broadcast.concurrency must be >= 0"))
	}
	duration("broadcast.write_timeout", cfg.Broadcast.WriteTimeout)

	if pp := cfg.Pprof; pp != nil && strings.TrimSpace(pp.Addr) != "" && pp.Token == "" {
		if host, _, err := net.SplitHostPort(strings.TrimSpace(pp.Addr)); err != nil {
			check(fmt.Errorf("pprof.addr: %w", err))
		} else if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			check(errors.New("pprof.token is required when pprof.addr is not loopback"))
		}
	}

	return errors.Join(errs...)
}
