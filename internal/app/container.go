package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/dig"

	"reglament/internal/config"
	"reglament/internal/jobsync"
	"reglament/internal/ledger"
	"reglament/internal/notify/broadcast"
	"reglament/internal/notify/slack"
	"reglament/internal/notify/telegram"
	"reglament/internal/observability/pprof"
	"reglament/internal/service"
	"reglament/internal/store"
	"reglament/internal/task/engine"
	"reglament/internal/task/scheduler"
	"reglament/internal/transport/httpapi"
	"reglament/internal/transport/ws"
	logx "reglament/pkg/logx"
)

// storeOpenTimeout bounds connecting and migrating at startup.
const storeOpenTimeout = 30 * time.Second

// components is everything the app starts, stops or reconfigures. Optional
// parts (bot, slack, http, auth, pprof) are nil when their config section is
// empty.
type components struct {
	logs  *logx.Service
	log   logx.Logger
	store store.Store

	engine *engine.Service
	sched  *scheduler.Service
	bcast  *broadcast.Broadcaster
	sync   *jobsync.Synchronizer
	svc    *service.Services

	auth  *httpapi.Auth
	bot   *telegram.Bot
	slack *slack.Sink
	http  *http.Server
	pprof *pprof.Service
}

// stateFunc reports component state for /healthz and /debug/state.
type stateFunc func() any

// build resolves the component graph for cfg.
func build(cfgm *config.ConfigManager, cfg *config.Config) (*components, error) {
	d := dig.New()
	providers := []any{
		func() *config.ConfigManager { return cfgm },
		func() *config.Config { return cfg },
		provideLogging,
		provideStore,
		func() *ledger.Ledger { return ledger.New(nil) },
		provideEngine,
		provideScheduler,
		provideBroadcaster,
		provideSynchronizer,
		provideServices,
		provideAuth,
		provideBot,
		provideSlack,
		provideState,
		provideHTTP,
		providePprof,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var c *components
	err := d.Invoke(func(
		logs *logx.Service,
		log logx.Logger,
		st store.Store,
		eng *engine.Service,
		sched *scheduler.Service,
		bcast *broadcast.Broadcaster,
		js *jobsync.Synchronizer,
		svc *service.Services,
		auth *httpapi.Auth,
		bot *telegram.Bot,
		sk *slack.Sink,
		srv *http.Server,
		pp *pprof.Service,
	) {
		c = &components{
			logs: logs, log: log, store: st,
			engine: eng, sched: sched, bcast: bcast, sync: js, svc: svc,
			auth: auth, bot: bot, slack: sk, http: srv, pprof: pp,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return c, nil
}

func provideLogging(cfg *config.Config) (*logx.Service, logx.Logger) {
	// The Telegram sink is attached once the bot exists.
	return logx.New(mapLogConfig(cfg), nil)
}

func provideStore(cfg *config.Config, log logx.Logger) (store.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()
	return store.Open(ctx, sc, log.With(logx.String("comp", "storage")))
}

func provideEngine(cfg *config.Config, log logx.Logger) (*engine.Service, error) {
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(ec, log.With(logx.String("comp", "taskengine"))), nil
}

func provideScheduler(cfg *config.Config, eng *engine.Service, log logx.Logger) (*scheduler.Service, error) {
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	return scheduler.New(sc, eng, log.With(logx.String("comp", "scheduler"))), nil
}

func provideBroadcaster(cfg *config.Config, log logx.Logger) (*broadcast.Broadcaster, error) {
	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	return broadcast.New(bc, log.With(logx.String("comp", "broadcast"))), nil
}

func provideSynchronizer(sched *scheduler.Service, st store.Store, l *ledger.Ledger, b *broadcast.Broadcaster, log logx.Logger) *jobsync.Synchronizer {
	return jobsync.New(sched, st, l, b, log.With(logx.String("comp", "jobsync")))
}

func provideServices(st store.Store, l *ledger.Ledger, js *jobsync.Synchronizer, log logx.Logger) *service.Services {
	return service.New(service.Deps{Store: st, Ledger: l, Jobs: js, Log: log.With(logx.String("comp", "service"))})
}

func provideAuth(cfg *config.Config) (*httpapi.Auth, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, nil
	}
	ttl, err := config.ParseDurationField("auth.token_ttl", cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	return httpapi.NewAuth(cfg.Auth.JWTSecret, ttl)
}

func provideBot(cfg *config.Config, svc *service.Services, auth *httpapi.Auth, b *broadcast.Broadcaster, logs *logx.Service, log logx.Logger) (*telegram.Bot, error) {
	tc, ok, err := mapTelegramConfig(cfg)
	if err != nil || !ok {
		return nil, err
	}
	var tokens telegram.TokenIssuer
	if auth != nil {
		tokens = func(tg int64) (string, error) {
			tok, _, err := auth.IssueToken(tg)
			return tok, err
		}
	}
	bot, err := telegram.New(tc, svc.Users, tokens, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logs.SetSender(bot)
	b.RegisterConsumer(bot)
	return bot, nil
}

func provideSlack(cfg *config.Config, b *broadcast.Broadcaster, log logx.Logger) (*slack.Sink, error) {
	sc, ok := mapSlackConfig(cfg)
	if !ok {
		return nil, nil
	}
	sk, err := slack.New(sc, log.With(logx.String("comp", "slack")))
	if err != nil {
		return nil, err
	}
	b.RegisterConsumer(sk)
	return sk, nil
}

func provideState(sched *scheduler.Service, eng *engine.Service, b *broadcast.Broadcaster) stateFunc {
	return func() any {
		ss := sched.Snapshot()
		return map[string]any{
			"scheduler": map[string]any{"running": ss.Running, "jobs": len(ss.Jobs)},
			"engine":    eng.Snapshot(),
			"broadcast": b.Stats(),
		}
	}
}

func provideHTTP(
	cfg *config.Config,
	svc *service.Services,
	auth *httpapi.Auth,
	b *broadcast.Broadcaster,
	state stateFunc,
	log logx.Logger,
) (*http.Server, error) {
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		return nil, nil
	}
	if auth == nil {
		return nil, fmt.Errorf("http.addr %q is set but auth.jwt_secret is empty", addr)
	}
	to, err := mapHTTPTimeouts(cfg)
	if err != nil {
		return nil, err
	}
	wc, err := mapStreamConfig(cfg)
	if err != nil {
		return nil, err
	}
	hlog := log.With(logx.String("comp", "http"))
	api := httpapi.New(httpapi.Deps{
		Services: svc,
		Auth:     auth,
		Stream:   ws.NewHandler(b, httpapi.OwnerFromRequest, wc, hlog),
		Health:   state,
		Log:      hlog,
	})
	return &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: to.read,
		ReadTimeout:       to.read,
		WriteTimeout:      to.write,
		IdleTimeout:       2 * time.Minute,
	}, nil
}

func providePprof(cfg *config.Config, sched *scheduler.Service, state stateFunc, log logx.Logger) (*pprof.Service, error) {
	if cfg.Pprof == nil {
		return nil, nil
	}
	full := func() any {
		return map[string]any{"components": state(), "jobs": sched.Snapshot().Jobs}
	}
	return pprof.New(pprof.Config{Addr: cfg.Pprof.Addr, Token: cfg.Pprof.Token}, full, log.With(logx.String("comp", "pprof")))
}
