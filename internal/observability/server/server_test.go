package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "notifyd/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAuthAndRoutes(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	h := s.Handler(Config{Token: "secret"})

	if rec := get(t, h, "/healthz", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code=%d", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=nope", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: code=%d", rec.Code)
	}
	if rec := get(t, h, "/healthz", "secret"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: code=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/metrics?token=secret", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics: code=%d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", "secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off: code=%d", rec.Code)
	}
	if rec := get(t, s.Handler(Config{Pprof: true}), "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof on: code=%d", rec.Code)
	}
}

func TestHealthzReportsFailure(t *testing.T) {
	s := New(Config{}, func(context.Context) error { return errors.New("db down") }, logx.Nop())
	rec := get(t, s.Handler(Config{}), "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestReconfigureStartsAndStops(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	var addr string
	for addr == "" && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatalf("server never bound")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code=%d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("addr should be cleared after stop")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatalf("expected refusal")
	}
}
