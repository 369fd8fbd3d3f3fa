package pprof

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "reglament/pkg/logx"
)

func TestNewRequiresTokenOffLoopback(t *testing.T) {
	t.Parallel()
	if s, err := New(Config{}, nil, logx.Nop()); s != nil || err != nil {
		t.Fatalf("empty addr = %v, %v", s, err)
	}
	if _, err := New(Config{Addr: "0.0.0.0:6060"}, nil, logx.Nop()); err == nil {
		t.Fatal("public bind without token accepted")
	}
	if _, err := New(Config{Addr: "0.0.0.0:6060", Token: "t"}, nil, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Addr: "localhost:6060"}, nil, logx.Nop()); err != nil {
		t.Fatal(err)
	}
}

func TestStateAndAuth(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Addr: "127.0.0.1:0", Token: "secret"}, func() any {
		return map[string]int{"jobs": 3}
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/debug/state?token=secret")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["jobs"] != 3 {
		t.Fatalf("state = %v", got)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("pprof index = %d", resp2.StatusCode)
	}
}
