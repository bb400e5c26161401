// Package notify resolves alert destinations and delivers one email per destination.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hazz-dev/canary/internal/mail"
	"github.com/hazz-dev/canary/internal/model"
)

// ErrNoDestination is reported when an owner has neither enabled preferences nor an account email.
var ErrNoDestination = errors.New("no notification destination")

// Kind is the incident transition an alert announces.
type Kind string

const (
	KindDown      Kind = "DOWN"
	KindRecovered Kind = "RECOVERED"
)

// Alert is the event handed to the dispatcher after an incident transition commits.
type Alert struct {
	OwnerID    string
	Kind       Kind
	CheckID    string
	CheckName  string
	CheckURL   string
	At         time.Time
	StatusCode *int
	Error      string
}

// Result aggregates per-destination delivery.
type Result struct {
	Sent   int   `json:"sent"`
	Failed int   `json:"failed"`
	Total  int   `json:"total"`
	Err    error `json:"-"`
}

// OK reports whether at least one destination received the alert.
func (r Result) OK() bool {
	return r.Sent > 0
}

// Directory looks up where an owner wants alerts sent.
type Directory interface {
	EnabledEmailPreferences(ctx context.Context, ownerID string) ([]model.NotificationPreference, error)
	PrimaryEmail(ctx context.Context, ownerID string) (string, error)
}

// Dispatcher delivers alerts. Failures never propagate beyond the returned Result.
type Dispatcher struct {
	dir    Directory
	mailer mail.Mailer
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. Pass nil logger to discard logs.
func NewDispatcher(dir Directory, mailer mail.Mailer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{dir: dir, mailer: mailer, logger: logger}
}

// Dispatch sends the alert to every enabled email preference of the owner, or to the
// owner's account email when there are none. Deliveries run concurrently and
// independently.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) Result {
	to, err := d.destinations(ctx, a.OwnerID)
	if err != nil {
		d.logger.Warn("alert_not_sent",
			zap.String("check_id", a.CheckID),
			zap.String("owner_id", a.OwnerID),
			zap.String("kind", string(a.Kind)),
			zap.Error(err),
		)
		return Result{Err: err}
	}

	msg := Compose(a)
	res := Result{Total: len(to)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, addr := range to {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			m := msg
			m.To = addr
			err := d.mailer.Send(ctx, m)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Err = multierr.Append(res.Err, err)
				d.logger.Warn("alert_delivery_failed",
					zap.String("check_id", a.CheckID),
					zap.String("to", addr),
					zap.Error(err),
				)
				return
			}
			res.Sent++
		}(addr)
	}
	wg.Wait()

	d.logger.Info("alert_dispatched",
		zap.String("check_id", a.CheckID),
		zap.String("kind", string(a.Kind)),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("total", res.Total),
	)
	return res
}

func (d *Dispatcher) destinations(ctx context.Context, ownerID string) ([]string, error) {
	prefs, err := d.dir.EnabledEmailPreferences(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading preferences for %q: %w", ownerID, err)
	}
	if len(prefs) > 0 {
		to := make([]string, 0, len(prefs))
		for _, p := range prefs {
			to = append(to, p.Address)
		}
		return to, nil
	}

	email, err := d.dir.PrimaryEmail(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading account email for %q: %w", ownerID, err)
	}
	if email == "" {
		return nil, fmt.Errorf("owner %q: %w", ownerID, ErrNoDestination)
	}
	return []string{email}, nil
}
