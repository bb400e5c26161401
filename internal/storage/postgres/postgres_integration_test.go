//go:build integration

package postgres_test

// go test -tags=integration ./internal/storage/postgres -count=1

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/storage"
	"github.com/hazz-dev/canary/internal/storage/postgres"
)

func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL empty")
	}
	s, err := postgres.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCheck(t *testing.T, s *postgres.Store) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	err := s.UpsertCheck(context.Background(), model.Check{
		ID: id, OwnerID: "it-owner", Name: id, URL: "https://example.com",
		Method: "GET", IntervalSeconds: 60, TimeoutMs: 5000, Enabled: true,
	})
	if err != nil {
		t.Fatalf("UpsertCheck: %v", err)
	}
	return id
}

func TestCheckTxLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := seedCheck(t, s)

	code := 500
	err := s.WithCheckTx(ctx, id, func(tx storage.Tx) error {
		if err := tx.InsertResult(ctx, &model.CheckResult{
			CheckID: id, CheckedAt: time.Now(), Status: model.StatusDown, StatusCode: &code, LatencyMs: 12,
		}); err != nil {
			return err
		}
		if err := tx.UpdateCheckStatus(ctx, id, model.StatusDown, time.Now()); err != nil {
			return err
		}
		return tx.CreateIncident(ctx, &model.Incident{CheckID: id, Status: model.IncidentOpen, StartedAt: time.Now()})
	})
	if err != nil {
		t.Fatalf("WithCheckTx: %v", err)
	}

	err = s.WithCheckTx(ctx, id, func(tx storage.Tx) error {
		recent, err := tx.RecentResults(ctx, id, 5)
		if err != nil {
			return err
		}
		if len(recent) != 1 || recent[0].StatusCode == nil || *recent[0].StatusCode != 500 {
			t.Errorf("unexpected recent results: %+v", recent)
		}
		open, err := tx.OpenIncident(ctx, id)
		if err != nil {
			return err
		}
		if open == nil {
			t.Fatal("expected an open incident")
		}
		return tx.ResolveIncident(ctx, open.ID, time.Now())
	})
	if err != nil {
		t.Fatalf("WithCheckTx: %v", err)
	}

	incs, err := s.ListIncidents(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(incs) != 1 || incs[0].Status != model.IncidentResolved {
		t.Errorf("expected a single resolved incident, got %+v", incs)
	}
}

func TestWithCheckTx_UnknownCheck(t *testing.T) {
	s := openStore(t)
	err := s.WithCheckTx(context.Background(), "missing-"+uuid.NewString(), func(storage.Tx) error { return nil })
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusPageRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	slug := "it-" + uuid.NewString()

	page := model.StatusPage{Slug: slug, OwnerID: "it-owner", Title: "Integration", Enabled: true, CheckIDs: []string{"b", "a"}}
	if err := s.UpsertStatusPage(ctx, page); err != nil {
		t.Fatalf("UpsertStatusPage: %v", err)
	}
	page.CheckIDs = []string{"c"}
	if err := s.UpsertStatusPage(ctx, page); err != nil {
		t.Fatalf("UpsertStatusPage (update): %v", err)
	}
	got, err := s.GetStatusPage(ctx, slug)
	if err != nil {
		t.Fatalf("GetStatusPage: %v", err)
	}
	if len(got.CheckIDs) != 1 || got.CheckIDs[0] != "c" {
		t.Errorf("expected items replaced with [c], got %v", got.CheckIDs)
	}
	if _, err := s.GetStatusPage(ctx, "it-missing-"+uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
