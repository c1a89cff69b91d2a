package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stellarcolony.ai/internal/sim/clock"
	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/tuning"
)

func newTestRouter(t *testing.T, admin bool) (*httptest.Server, *sessions.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	clk := clock.NewManual(time.Unix(1_700_000_000, 0), time.Second)
	reg := sessions.New(ctx, sessions.Options{
		Tuning: tuning.Defaults(),
		Secret: []byte("routes"),
		Clock:  clk,
		Ticks:  func() clock.Source { return clock.NewManual(clk.Now(), time.Second) },
	})
	srv := httptest.NewServer(newRouter(routerConfig{Registry: reg, Tuning: tuning.Defaults(), EnableAdmin: admin}))
	t.Cleanup(func() {
		srv.Close()
		reg.CloseAll()
		cancel()
	})
	return srv, reg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestMetricsCountsSessionsPerVariant(t *testing.T) {
	srv, reg := newTestRouter(t, false)
	for _, v := range []string{"farm", "farm", "colony"} {
		if _, _, err := reg.Create(sessions.CreateOptions{Variant: v}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	code, body := get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	for _, want := range []string{
		"stellar_sessions 3\n",
		`stellar_sessions_by_variant{variant="farm"} 2`,
		`stellar_sessions_by_variant{variant="colony"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "stellar_index_") {
		t.Fatalf("index metrics without an index")
	}
}

func TestAdminSessions(t *testing.T) {
	srv, reg := newTestRouter(t, true)
	sess, _, err := reg.Create(sessions.CreateOptions{Variant: "colony"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	code, body := get(t, srv.URL+"/admin/v1/sessions")
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	var list struct {
		Sessions []sessions.Info `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != sess.ID() {
		t.Fatalf("sessions=%+v", list.Sessions)
	}

	code, body = get(t, srv.URL+"/admin/v1/sessions/"+sess.ID()+"/state")
	if code != http.StatusOK || !strings.Contains(body, `"variant":"colony"`) {
		t.Fatalf("state status=%d body=%s", code, body)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/admin/v1/sessions/"+sess.ID(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || reg.Len() != 0 {
		t.Fatalf("delete status=%d len=%d", resp.StatusCode, reg.Len())
	}

	code, _ = get(t, srv.URL+"/admin/v1/sessions/"+sess.ID()+"/state")
	if code != http.StatusNotFound {
		t.Fatalf("state after delete status=%d", code)
	}
}

func TestAdminDisabled(t *testing.T) {
	srv, _ := newTestRouter(t, false)
	code, _ := get(t, srv.URL+"/admin/v1/sessions")
	if code != http.StatusNotFound {
		t.Fatalf("status=%d", code)
	}
	code, _ = get(t, srv.URL+"/v1/variants")
	if code != http.StatusOK {
		t.Fatalf("variants status=%d", code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5555", true},
		{"[::1]:80", true},
		{"10.0.0.4:80", false},
		{"garbage", false},
	}
	for _, c := range cases {
		if got := isLoopbackRemote(c.addr); got != c.want {
			t.Fatalf("%s: got %v", c.addr, got)
		}
	}
}

func TestLoadVariantsOverlay(t *testing.T) {
	dir := t.TempDir()
	raw, err := os.ReadFile(filepath.Join("..", "..", "configs", "variants", "farm.yaml"))
	if err != nil {
		t.Fatalf("read farm: %v", err)
	}
	custom := strings.Replace(string(raw), "name: farm", "name: orchard", 1)
	if err := os.WriteFile(filepath.Join(dir, "orchard.yaml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}
	cats, err := loadVariants(dir)
	if err != nil {
		t.Fatalf("loadVariants: %v", err)
	}
	for _, name := range []string{"colony", "farm", "orchard"} {
		if cats[name] == nil {
			t.Fatalf("missing %s in %v", name, cats)
		}
	}
	if _, err := loadVariants(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
