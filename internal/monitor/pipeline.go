package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/notify"
	"github.com/hazz-dev/canary/internal/probe"
	"github.com/hazz-dev/canary/internal/storage"
)

// ErrInvalidCheck wraps validation failures of a check row picked up for execution.
var ErrInvalidCheck = errors.New("invalid check")

// Store defines the storage operations required by the monitor.
type Store interface {
	EnabledChecks(ctx context.Context) ([]model.Check, error)
	WithCheckTx(ctx context.Context, checkID string, fn func(storage.Tx) error) error
}

// Notifier delivers alerts for committed incident transitions.
type Notifier interface {
	Dispatch(ctx context.Context, a notify.Alert) notify.Result
}

// Outcome is the per-check record of one pipeline execution.
type Outcome struct {
	CheckID      string         `json:"check_id"`
	CheckName    string         `json:"check_name"`
	Status       model.Status   `json:"status,omitempty"`
	StatusCode   *int           `json:"status_code,omitempty"`
	LatencyMs    int64          `json:"latency_ms"`
	ProbeError   string         `json:"probe_error,omitempty"`
	Transition   Transition     `json:"transition,omitempty"`
	Notification *notify.Result `json:"notification,omitempty"`
	Skipped      bool           `json:"skipped,omitempty"`
	Err          error          `json:"-"`
}

// Pipeline runs probe, persistence, incident evaluation and notification for one check.
type Pipeline struct {
	store    Store
	prober   probe.Prober
	notifier Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewPipeline creates a Pipeline. notifier may be nil to skip alerting; pass nil logger
// to discard logs.
func NewPipeline(store Store, prober probe.Prober, notifier Notifier, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		prober:   prober,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the time source used for result and incident timestamps.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run executes the pipeline. Probe failures become DOWN results; only persistence and
// validation failures set Outcome.Err.
func (p *Pipeline) Run(ctx context.Context, c model.Check) Outcome {
	out := Outcome{CheckID: c.ID, CheckName: c.Name, Transition: TransitionNone}

	if err := c.Validate(); err != nil {
		out.Err = fmt.Errorf("%w: %v", ErrInvalidCheck, err)
		return out
	}

	res := p.prober.Probe(ctx, probe.TargetFor(c))
	at := p.now().UTC()

	out.Status = res.Status()
	out.StatusCode = res.StatusCode
	out.LatencyMs = res.LatencyMs
	out.ProbeError = res.Error

	var incident model.Incident
	err := p.store.WithCheckTx(ctx, c.ID, func(tx storage.Tx) error {
		result := &model.CheckResult{
			CheckID:    c.ID,
			CheckedAt:  at,
			Status:     res.Status(),
			StatusCode: res.StatusCode,
			LatencyMs:  res.LatencyMs,
			Error:      res.Error,
		}
		if err := tx.InsertResult(ctx, result); err != nil {
			return err
		}
		if err := tx.UpdateCheckStatus(ctx, c.ID, result.Status, at); err != nil {
			return err
		}

		recent, err := tx.RecentResults(ctx, c.ID, RecentWindow)
		if err != nil {
			return err
		}
		streak := AnalyzeStreak(statusesOf(recent))

		open, err := tx.OpenIncident(ctx, c.ID)
		if err != nil {
			return err
		}

		out.Transition = Evaluate(result.Status, streak, open != nil)
		switch out.Transition {
		case TransitionDown:
			incident = model.Incident{
				CheckID:   c.ID,
				Status:    model.IncidentOpen,
				StartedAt: at,
				Summary:   IncidentSummary,
			}
			return tx.CreateIncident(ctx, &incident)
		case TransitionRecovered:
			incident = *open
			return tx.ResolveIncident(ctx, open.ID, at)
		}
		return nil
	})
	if err != nil {
		out.Transition = TransitionNone
		out.Err = fmt.Errorf("persisting result for %q: %w", c.ID, err)
		return out
	}

	switch out.Transition {
	case TransitionDown:
		p.logger.Warn("incident_opened",
			zap.String("check_id", c.ID),
			zap.Int64("incident_id", incident.ID),
			zap.Intp("status_code", res.StatusCode),
			zap.String("error", res.Error),
		)
		out.Notification = p.notify(ctx, c, notify.KindDown, at, res)
	case TransitionRecovered:
		p.logger.Info("incident_resolved",
			zap.String("check_id", c.ID),
			zap.Int64("incident_id", incident.ID),
			zap.Duration("duration", at.Sub(incident.StartedAt)),
		)
		out.Notification = p.notify(ctx, c, notify.KindRecovered, at, res)
	}
	return out
}

func (p *Pipeline) notify(ctx context.Context, c model.Check, kind notify.Kind, at time.Time, res probe.Outcome) *notify.Result {
	if p.notifier == nil {
		return nil
	}
	r := p.notifier.Dispatch(ctx, notify.Alert{
		OwnerID:    c.OwnerID,
		Kind:       kind,
		CheckID:    c.ID,
		CheckName:  c.Name,
		CheckURL:   c.URL,
		At:         at,
		StatusCode: res.StatusCode,
		Error:      res.Error,
	})
	return &r
}
