package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/canary/internal/model"
)

type mockStatusStore struct {
	checks []model.Check
	err    error
}

func (m *mockStatusStore) ListChecks(_ context.Context) ([]model.Check, error) {
	return m.checks, m.err
}

func TestExecuteStatus_EmptyStore(t *testing.T) {
	store := &mockStatusStore{checks: []model.Check{}}
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	err := executeStatus(cmd, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "No checks configured") {
		t.Errorf("expected 'No checks configured' message, got:\n%s", output)
	}
}

func TestExecuteStatus_WithChecks(t *testing.T) {
	checked := time.Now()
	checks := []model.Check{
		{ID: "api", Name: "API", URL: "https://api.example.com", LastStatus: model.StatusUp, Enabled: true, LastCheckedAt: &checked},
		{ID: "db", Name: "DB admin", URL: "https://db.example.com", LastStatus: model.StatusUnknown, Enabled: false},
	}
	store := &mockStatusStore{checks: checks}

	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	err := executeStatus(cmd, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"LAST CHECKED", "API", "DB admin", "UP", "UNKNOWN", "never", "https://db.example.com", "false"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestExecuteStatus_StoreError(t *testing.T) {
	store := &mockStatusStore{err: errors.New("no such table")}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	if err := executeStatus(cmd, store); err == nil {
		t.Fatal("expected error")
	}
}
