package config

import (
	"reflect"
	"strings"

	logx "reglament/pkg/logx"
)

// SummarizeConfigChange lists the top-level sections that differ and returns
// log fields describing the new values. Secrets (tokens, DSNs, webhook URLs,
// JWT secret) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Slack, newCfg.Slack) {
		changed = append(changed, "slack")
		attrs = append(attrs, logx.Bool("slack.enabled", newCfg.Slack != nil && (newCfg.Slack.WebhookURL != "" || newCfg.Slack.BotToken != "")))
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Auth, newCfg.Auth) {
		changed = append(changed, "auth")
		attrs = append(attrs, logx.Bool("auth.secret_set", newCfg.Auth.JWTSecret != ""))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) || !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.Int("broadcast.concurrency", newCfg.Broadcast.Concurrency))
	}
	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs, logx.Bool("pprof.enabled", newCfg.Pprof != nil && newCfg.Pprof.Addr != ""))
	}
	return changed, attrs
}

// RestartRequired reports whether any of the sections can only be applied
// by restarting the process. Only logging is applied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}
