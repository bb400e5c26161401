// Package model holds the typed records shared by the monitor, storage and API layers.
package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Status represents the health state of a check.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

// ChannelEmail is the only supported notification channel.
const ChannelEmail = "email"

// Bounds enforced on every stored check.
const (
	MinIntervalSeconds = 30
	MaxIntervalSeconds = 3600
	MinTimeoutMs       = 1000
	MaxTimeoutMs       = 30000
)

var validMethods = map[string]bool{
	"GET":  true,
	"HEAD": true,
	"POST": true,
}

// Check is a monitored target.
type Check struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Method          string     `json:"method"`
	IntervalSeconds int        `json:"interval_seconds"`
	TimeoutMs       int        `json:"timeout_ms"`
	ExpectedStatus  int        `json:"expected_status,omitempty"` // 0 means unset
	Enabled         bool       `json:"enabled"`
	LastStatus      Status     `json:"last_status"`
	LastCheckedAt   *time.Time `json:"last_checked_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Interval returns the check interval as a duration.
func (c Check) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Validate reports the first bound or required field the check violates.
func (c Check) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("check %q: owner is required", c.ID)
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("check %q: invalid url %q", c.ID, c.URL)
	}
	if !validMethods[c.Method] {
		return fmt.Errorf("check %q: invalid method %q (must be GET, HEAD, or POST)", c.ID, c.Method)
	}
	if c.IntervalSeconds < MinIntervalSeconds || c.IntervalSeconds > MaxIntervalSeconds {
		return fmt.Errorf("check %q: interval %ds out of range [%d, %d]",
			c.ID, c.IntervalSeconds, MinIntervalSeconds, MaxIntervalSeconds)
	}
	if c.TimeoutMs < MinTimeoutMs || c.TimeoutMs > MaxTimeoutMs {
		return fmt.Errorf("check %q: timeout %dms out of range [%d, %d]",
			c.ID, c.TimeoutMs, MinTimeoutMs, MaxTimeoutMs)
	}
	if c.ExpectedStatus != 0 && (c.ExpectedStatus < 100 || c.ExpectedStatus > 599) {
		return fmt.Errorf("check %q: invalid expected status %d", c.ID, c.ExpectedStatus)
	}
	return nil
}

// CheckResult is the immutable record of one probe execution.
type CheckResult struct {
	ID         int64     `json:"id"`
	CheckID    string    `json:"check_id"`
	CheckedAt  time.Time `json:"checked_at"`
	Status     Status    `json:"status"`
	StatusCode *int      `json:"status_code"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// Incident is a window during which a check was considered failing.
type Incident struct {
	ID         int64          `json:"id"`
	CheckID    string         `json:"check_id"`
	Status     IncidentStatus `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	ResolvedAt *time.Time     `json:"resolved_at"`
	Summary    string         `json:"summary"`
}

// NotificationPreference is an alert destination owned by a user.
type NotificationPreference struct {
	ID      int64  `json:"id"`
	OwnerID string `json:"owner_id"`
	Channel string `json:"channel"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// User is the account a check belongs to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// StatusPage is a public, slug-addressed view of an ordered set of checks.
type StatusPage struct {
	Slug        string   `json:"slug"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	CheckIDs    []string `json:"check_ids"`
}

// Validate checks the slug format and required fields.
func (p StatusPage) Validate() error {
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("status page %q: slug must contain only lowercase letters, numbers, and hyphens", p.Slug)
	}
	if p.Title == "" {
		return fmt.Errorf("status page %q: title is required", p.Slug)
	}
	seen := make(map[string]bool, len(p.CheckIDs))
	for _, id := range p.CheckIDs {
		if seen[id] {
			return fmt.Errorf("status page %q: duplicate check %q", p.Slug, id)
		}
		seen[id] = true
	}
	return nil
}
