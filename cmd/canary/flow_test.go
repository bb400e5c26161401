package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hazz-dev/canary/internal/config"
	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/monitor"
	"github.com/hazz-dev/canary/internal/server"
)

// TestFullFlow drives trigger -> runner -> probe -> sqlite -> incident -> email -> read API.
func TestFullFlow(t *testing.T) {
	var healthy atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer target.Close()

	cfg := testConfig(httpCheck("target", target.URL))
	cfg.Storage = config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}

	core, logs := observer.New(zap.InfoLevel)
	ctx := context.Background()
	a, err := buildApp(ctx, cfg, zap.New(core))
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.store.Close()

	// Each batch runs a minute later so the check is always due.
	var tick atomic.Int64
	base := time.Now()
	a.runner.SetClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Minute)
	})

	api := server.New(a.store, a.runner, server.Options{CronSecret: "s3cret"}, nil)
	trigger := func() monitor.Summary {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/api/cron/run", nil)
		req.Header.Set(server.CronSecretHeader, "s3cret")
		w := httptest.NewRecorder()
		api.Router().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("trigger: expected 200, got %d; body: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Data monitor.Summary `json:"data"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		return resp.Data
	}

	for i := 0; i < 3; i++ {
		if s := trigger(); s.Ran != 1 || s.Failures != 1 {
			t.Fatalf("batch %d: unexpected summary %+v", i+1, s)
		}
	}

	incidents, err := a.store.ListIncidents(ctx, "target")
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 || incidents[0].Status != model.IncidentOpen {
		t.Fatalf("expected one open incident after 3 failures, got %+v", incidents)
	}
	down := logs.FilterMessage("email_fallback").FilterField(zap.String("subject", "[Canary] target is DOWN"))
	if down.Len() != 1 {
		t.Errorf("expected 1 DOWN email, got %d", down.Len())
	}

	healthy.Store(true)
	for i := 0; i < 2; i++ {
		if s := trigger(); s.Ran != 1 || s.Successes != 1 {
			t.Fatalf("recovery batch %d: unexpected summary %+v", i+1, s)
		}
	}

	incidents, err = a.store.ListIncidents(ctx, "target")
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 || incidents[0].Status != model.IncidentResolved || incidents[0].ResolvedAt == nil {
		t.Fatalf("expected resolved incident after 2 successes, got %+v", incidents)
	}
	recovered := logs.FilterMessage("email_fallback").FilterField(zap.String("subject", "[Canary] target recovered"))
	if recovered.Len() != 1 {
		t.Errorf("expected 1 RECOVERED email, got %d", recovered.Len())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/checks/target/results", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	var results struct {
		Data struct {
			Total int `json:"total"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if results.Data.Total != 5 {
		t.Errorf("expected 5 stored results, got %d", results.Data.Total)
	}
}
