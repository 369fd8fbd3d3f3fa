// Package pprof serves runtime profiles and a component state dump on a
// separate debug listener.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/gorilla/mux"

	logx "reglament/pkg/logx"
)

// Config controls the debug listener. A non-loopback Addr requires Token.
type Config struct {
	Addr  string
	Token string
}

type Service struct {
	cfg   Config
	log   logx.Logger
	state func() any

	srv *http.Server
}

// New returns nil when cfg.Addr is empty. state, when set, is served as JSON
// on /debug/state.
func New(cfg Config, state func() any, log logx.Logger) (*Service, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, nil
	}
	if cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		return nil, fmt.Errorf("pprof.addr %q is not loopback; set pprof.token", cfg.Addr)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, log: log, state: state}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s, nil
}

// Handler routes the debug endpoints behind the token check.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withAuth)
	r.HandleFunc("/debug/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(hpprof.Index)
	return r
}

// Serve listens on the configured address until Stop. It returns nil after a
// clean shutdown.
func (s *Service) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("pprof listen %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Service) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var v any
	if s.state != nil {
		v = s.state()
	}
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Service) withAuth(next http.Handler) http.Handler {
	tok := s.cfg.Token
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
