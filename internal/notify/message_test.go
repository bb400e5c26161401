package notify_test

import (
	"testing"
	"time"

	"github.com/hazz-dev/canary/internal/notify"
)

func TestCompose_Down(t *testing.T) {
	code := 500
	msg := notify.Compose(notify.Alert{
		Kind:       notify.KindDown,
		CheckName:  "Homepage",
		CheckURL:   "https://example.com",
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)),
		StatusCode: &code,
		Error:      "timeout",
	})

	if msg.Subject != "[Canary] Homepage is DOWN" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	want := "Check: Homepage\n" +
		"URL: https://example.com\n" +
		"When: 2026-01-02T02:04:05Z\n" +
		"Status: 500\n" +
		"Error: timeout\n" +
		"\n" +
		"-- Canary"
	if msg.Body != want {
		t.Errorf("unexpected body:\n%s\nwant:\n%s", msg.Body, want)
	}
	if msg.To != "" {
		t.Errorf("expected no recipient, got %q", msg.To)
	}
}

func TestCompose_RecoveredOmitsEmptyLines(t *testing.T) {
	msg := notify.Compose(notify.Alert{
		Kind:      notify.KindRecovered,
		CheckName: "Homepage",
		CheckURL:  "https://example.com",
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	if msg.Subject != "[Canary] Homepage recovered" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	want := "Check: Homepage\nURL: https://example.com\nWhen: 2026-01-02T03:04:05Z\n\n-- Canary"
	if msg.Body != want {
		t.Errorf("unexpected body:\n%s", msg.Body)
	}
}
