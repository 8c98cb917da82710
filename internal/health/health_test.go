package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/health"
)

var testClk = clock.Real{}

func TestLivenessHandler(t *testing.T) {
	h := health.NewHandler(testClk)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	h.LivenessHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	var s health.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Status != "ok" {
		t.Errorf("got status %q, want %q", s.Status, "ok")
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checkers   []health.Checker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "not ready",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "ready no checkers",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "ready all checks pass",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error { return nil }},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "one of several checks fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error { return nil }},
				{Name: "redis", Check: func(ctx context.Context) error { return errors.New("dial tcp: i/o timeout") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:  "ready but check fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "db", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, tt.checkers...)
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

			h.ReadinessHandler().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantCode)
			}
			var s health.Status
			if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
				t.Fatal(err)
			}
			if s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
		})
	}
}

func TestAddCheckerAndRoutes(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := health.NewHandler(clk)
	h.SetReady(true)
	h.AddChecker(health.Checker{Name: "store", Check: func(ctx context.Context) error { return nil }})
	clk.Advance(90 * time.Second)

	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var s health.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || s.Checks["store"] != "ok" {
		t.Errorf("readyz = %d %+v", resp.StatusCode, s)
	}

	live, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer live.Body.Close()
	var ls health.Status
	if err := json.NewDecoder(live.Body).Decode(&ls); err != nil {
		t.Fatal(err)
	}
	if ls.Uptime != "1m30s" {
		t.Errorf("uptime = %q, want 1m30s", ls.Uptime)
	}
}
