package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reglament/internal/jobsync"
	"reglament/internal/ledger"
	"reglament/internal/service"
	"reglament/internal/store"
	"reglament/internal/task/engine"
	"reglament/internal/task/scheduler"
	logx "reglament/pkg/logx"
)

const secret = "test-secret-0123456789"

func jobRegistered(s *scheduler.Service, id string) bool {
	for _, j := range s.Snapshot().Jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}

type api struct {
	t     *testing.T
	srv   *httptest.Server
	auth  *Auth
	sched *scheduler.Service
}

func newAPI(t *testing.T) *api {
	t.Helper()
	st := store.NewMemory()
	led := ledger.New(nil)
	sched := scheduler.New(scheduler.Config{}, engine.New(engine.Config{}, logx.Nop()), logx.Nop())
	js := jobsync.New(sched, st, led, nil, logx.Nop())
	svc := service.New(service.Deps{Store: st, Ledger: led, Jobs: js})
	auth, err := NewAuth(secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s := New(Deps{
		Services: svc,
		Auth:     auth,
		Health:   func() any { return sched.Snapshot() },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, auth: auth, sched: sched}
}

func (a *api) token(tg int64) string {
	a.t.Helper()
	tok, _, err := a.auth.IssueToken(tg)
	if err != nil {
		a.t.Fatal(err)
	}
	return tok
}

func (a *api) do(method, path, tok string, body any, out any) int {
	a.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		a.t.Fatal(err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	if code := a.do(http.MethodGet, "/api/v1/operations", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code := a.do(http.MethodGet, "/api/v1/operations", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	other, _ := NewAuth("another-secret-0123456789", time.Hour)
	tok, _, _ := other.IssueToken(1)
	if code := a.do(http.MethodGet, "/api/v1/operations", tok, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("foreign token: %d", code)
	}
	if code := a.do(http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(secret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, exp, err := auth.IssueToken(555)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) > time.Minute || time.Until(exp) <= 0 {
		t.Fatalf("expiry = %v", exp)
	}
	c, err := auth.ValidateToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.TelegramID != 555 || c.Subject != "555" {
		t.Fatalf("claims = %+v", c)
	}
	if _, err := NewAuth("short", 0); err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestOperationLifecycle(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	alice, bob := a.token(100), a.token(200)

	if code := a.do(http.MethodPost, "/api/v1/operations", alice, map[string]any{
		"theme": "x", "start_date": time.Now().Add(time.Hour),
	}, nil); code != http.StatusNotFound {
		t.Fatalf("create before register: %d", code)
	}

	var reg map[string]any
	if code := a.do(http.MethodPost, "/api/v1/users", alice, nil, &reg); code != http.StatusCreated {
		t.Fatalf("register: %d", code)
	}
	if code := a.do(http.MethodPost, "/api/v1/users", alice, nil, nil); code != http.StatusOK {
		t.Fatalf("second register: %d", code)
	}
	a.do(http.MethodPost, "/api/v1/users", bob, nil, nil)

	start := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	var op operationView
	code := a.do(http.MethodPost, "/api/v1/operations", alice, map[string]any{
		"theme":       "rotate keys",
		"start_date":  start,
		"granularity": "daily",
		"reminders": []map[string]any{
			{"message": "in 30m", "offset": "30m"},
			{"message": "in 1h", "offset_granularity": "hourly"},
		},
	}, &op)
	if code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	if op.ID == 0 || op.PendingInstanceID == nil || len(op.Reminders) != 2 || op.Recurrence == "" {
		t.Fatalf("created = %+v", op)
	}
	if !jobRegistered(a.sched, jobsync.OperationJobID(op.ID)) {
		t.Fatal("operation job not registered")
	}
	if op.Reminders[1].Offset != time.Hour.String() {
		t.Fatalf("granularity offset = %q", op.Reminders[1].Offset)
	}

	path := fmt.Sprintf("/api/v1/operations/%d", op.ID)
	if code := a.do(http.MethodGet, path, bob, nil, nil); code != http.StatusForbidden {
		t.Fatalf("foreign get: %d", code)
	}
	if code := a.do(http.MethodGet, "/api/v1/operations/9999", alice, nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing get: %d", code)
	}

	var got operationView
	if code := a.do(http.MethodGet, path, alice, nil, &got); code != http.StatusOK {
		t.Fatalf("get: %d", code)
	}
	if got.Theme != "rotate keys" || len(got.Reminders) != 2 || got.Reminders[0].FireAt == nil {
		t.Fatalf("got = %+v", got)
	}

	var list []operationView
	if code := a.do(http.MethodGet, "/api/v1/operations", alice, nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %d", code, len(list))
	}
	if code := a.do(http.MethodGet, "/api/v1/operations?window=fortnight", alice, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad window: %d", code)
	}

	var updated operationView
	if code := a.do(http.MethodPut, path, alice, map[string]any{
		"theme": "rotate keys weekly", "start_date": start.Add(24 * time.Hour), "granularity": "weekly",
	}, &updated); code != http.StatusOK {
		t.Fatalf("update: %d", code)
	}
	if updated.Granularity.String() != "weekly" {
		t.Fatalf("updated = %+v", updated)
	}

	var rem reminderView
	if code := a.do(http.MethodPost, path+"/reminders", alice, map[string]any{"message": "soon", "offset": "5m"}, &rem); code != http.StatusCreated {
		t.Fatalf("add reminder: %d", code)
	}
	rpath := fmt.Sprintf("%s/reminders/%d", path, rem.ID)
	if code := a.do(http.MethodPut, rpath, alice, map[string]any{"message": "sooner", "offset": "1m"}, &rem); code != http.StatusOK || rem.Message != "sooner" {
		t.Fatalf("update reminder: %d %+v", code, rem)
	}
	if code := a.do(http.MethodPut, rpath, alice, map[string]any{"message": "x", "offset": "soon"}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad offset: %d", code)
	}
	if code := a.do(http.MethodDelete, rpath, alice, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete reminder: %d", code)
	}

	if code := a.do(http.MethodDelete, path, bob, nil, nil); code != http.StatusForbidden {
		t.Fatalf("foreign delete: %d", code)
	}
	if code := a.do(http.MethodDelete, path, alice, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if jobRegistered(a.sched, jobsync.OperationJobID(op.ID)) {
		t.Fatal("operation job left after delete")
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	tok := a.token(100)
	a.do(http.MethodPost, "/api/v1/users", tok, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"past start", fmt.Sprintf(`{"theme":"x","start_date":%q}`, time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))},
		{"blank theme", fmt.Sprintf(`{"theme":" ","start_date":%q}`, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))},
		{"unknown field", `{"theme":"x","when":"tomorrow"}`},
		{"bad granularity", fmt.Sprintf(`{"theme":"x","granularity":"yearly","start_date":%q}`, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, a.srv.URL+"/api/v1/operations", strings.NewReader(tc.body))
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
		})
	}
}
