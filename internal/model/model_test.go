package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hazz-dev/canary/internal/model"
)

func validCheck() model.Check {
	return model.Check{
		ID:              "api",
		OwnerID:         "u1",
		Name:            "API",
		URL:             "https://example.com/health",
		Method:          "GET",
		IntervalSeconds: 60,
		TimeoutMs:       5000,
		Enabled:         true,
	}
}

func TestCheck_Validate_OK(t *testing.T) {
	if err := validCheck().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheck_Validate_Bounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.Check)
		want   string
	}{
		{"interval too small", func(c *model.Check) { c.IntervalSeconds = 29 }, "interval"},
		{"interval too large", func(c *model.Check) { c.IntervalSeconds = 3601 }, "interval"},
		{"timeout too small", func(c *model.Check) { c.TimeoutMs = 999 }, "timeout"},
		{"timeout too large", func(c *model.Check) { c.TimeoutMs = 30001 }, "timeout"},
		{"bad method", func(c *model.Check) { c.Method = "PUT" }, "method"},
		{"bad scheme", func(c *model.Check) { c.URL = "ftp://example.com" }, "url"},
		{"missing owner", func(c *model.Check) { c.OwnerID = "" }, "owner"},
		{"bad expected status", func(c *model.Check) { c.ExpectedStatus = 42 }, "expected status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCheck()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q: %v", tc.want, err)
			}
		})
	}
}

func TestCheck_Validate_EdgeBoundsAccepted(t *testing.T) {
	c := validCheck()
	c.IntervalSeconds = model.MinIntervalSeconds
	c.TimeoutMs = model.MaxTimeoutMs
	if err := c.Validate(); err != nil {
		t.Fatalf("lower/upper bounds should be accepted: %v", err)
	}
}

func TestCheck_Interval(t *testing.T) {
	c := validCheck()
	if c.Interval() != time.Minute {
		t.Errorf("expected 1m, got %v", c.Interval())
	}
}

func TestStatusConstants(t *testing.T) {
	if model.StatusUp != "UP" || model.StatusDown != "DOWN" || model.StatusUnknown != "UNKNOWN" {
		t.Errorf("unexpected status constants: %q %q %q", model.StatusUp, model.StatusDown, model.StatusUnknown)
	}
}

func TestStatusPage_Validate(t *testing.T) {
	ok := model.StatusPage{Slug: "acme-prod", Title: "Acme", CheckIDs: []string{"api", "web"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name string
		page model.StatusPage
		want string
	}{
		{"uppercase slug", model.StatusPage{Slug: "Acme", Title: "Acme"}, "slug"},
		{"empty slug", model.StatusPage{Title: "Acme"}, "slug"},
		{"missing title", model.StatusPage{Slug: "acme"}, "title"},
		{"duplicate check", model.StatusPage{Slug: "acme", Title: "Acme", CheckIDs: []string{"api", "api"}}, "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.page.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
