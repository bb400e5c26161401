// Package storage defines the persistence contract shared by the sqldb, postgres and memory stores.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hazz-dev/canary/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Tx is the per-check atomic unit. Every method runs inside one transaction that holds
// the check's lock until WithCheckTx returns.
type Tx interface {
	InsertResult(ctx context.Context, r *model.CheckResult) error
	UpdateCheckStatus(ctx context.Context, checkID string, status model.Status, at time.Time) error
	// RecentResults returns up to n results for the check, newest first.
	RecentResults(ctx context.Context, checkID string, n int) ([]model.CheckResult, error)
	// OpenIncident returns nil, nil when the check has no open incident.
	OpenIncident(ctx context.Context, checkID string) (*model.Incident, error)
	CreateIncident(ctx context.Context, inc *model.Incident) error
	ResolveIncident(ctx context.Context, incidentID int64, at time.Time) error
}

// Store is implemented by every backend.
type Store interface {
	EnabledChecks(ctx context.Context) ([]model.Check, error)
	// WithCheckTx runs fn in a transaction serialized on checkID. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithCheckTx(ctx context.Context, checkID string, fn func(Tx) error) error

	EnabledEmailPreferences(ctx context.Context, ownerID string) ([]model.NotificationPreference, error)
	// PrimaryEmail returns "" when the user is unknown or has no email.
	PrimaryEmail(ctx context.Context, ownerID string) (string, error)

	ListChecks(ctx context.Context) ([]model.Check, error)
	GetCheck(ctx context.Context, id string) (*model.Check, error)
	ListResults(ctx context.Context, checkID string, limit, offset int) ([]model.CheckResult, int, error)
	ListIncidents(ctx context.Context, checkID string) ([]model.Incident, error)
	UptimePercent(ctx context.Context, checkID string, last int) (float64, error)

	UpsertUser(ctx context.Context, u model.User) error
	UpsertCheck(ctx context.Context, c model.Check) error
	UpsertPreference(ctx context.Context, p model.NotificationPreference) error

	// UpsertStatusPage replaces the page and its ordered check list.
	UpsertStatusPage(ctx context.Context, p model.StatusPage) error
	GetStatusPage(ctx context.Context, slug string) (*model.StatusPage, error)

	Close() error
}
