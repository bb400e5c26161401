package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazz-dev/canary/internal/model"
)

// DefaultConcurrency bounds how many pipelines a batch runs at once.
const DefaultConcurrency = 16

// CheckRunner runs the pipeline of a single check.
type CheckRunner interface {
	Run(ctx context.Context, c model.Check) Outcome
}

// Summary is the aggregate of one batch. Ran counts executed pipelines; Skipped counts due
// checks whose pipeline was already in flight.
type Summary struct {
	Ran       int `json:"ran"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// Report is the full record of one batch.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Summary   Summary       `json:"summary"`
	Outcomes  []Outcome     `json:"outcomes"`
}

// Runner executes every due check once per invocation.
type Runner struct {
	store       Store
	pipeline    CheckRunner
	concurrency int
	now         func() time.Time
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewRunner creates a Runner. concurrency <= 0 means DefaultConcurrency; pass nil logger to
// discard logs.
func NewRunner(store Store, pipeline CheckRunner, concurrency int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		store:       store,
		pipeline:    pipeline,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
		inflight:    make(map[string]struct{}),
	}
}

// SetClock replaces the time source used for due evaluation.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// IsDue reports whether the check should run at now.
func IsDue(c model.Check, now time.Time) bool {
	if !c.Enabled {
		return false
	}
	if c.LastCheckedAt == nil {
		return true
	}
	return !c.LastCheckedAt.Add(c.Interval()).After(now)
}

// Run lists enabled checks, runs every due one concurrently and waits for all of them.
// The batch is detached from ctx cancellation; only the listing failure is returned as
// an error, per-check failures are reported in the Report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	ctx = context.WithoutCancel(ctx)
	start := r.now()
	report := Report{RunID: uuid.NewString(), StartedAt: start.UTC()}
	log := r.logger.With(zap.String("run_id", report.RunID))

	checks, err := r.store.EnabledChecks(ctx)
	if err != nil {
		log.Error("listing_checks_failed", zap.Error(err))
		return report, fmt.Errorf("listing enabled checks: %w", err)
	}

	var due []model.Check
	for _, c := range checks {
		if IsDue(c, start) {
			due = append(due, c)
		}
	}
	log.Info("batch_started", zap.Int("enabled", len(checks)), zap.Int("due", len(due)))

	outcomes := make([]Outcome, len(due))
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, c := range due {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = r.runOne(ctx, log, c)
			return nil
		})
	}
	g.Wait()

	for _, o := range outcomes {
		switch {
		case o.Skipped:
			report.Summary.Skipped++
			continue
		case o.Err != nil:
			report.Summary.Errors++
		case o.Status == model.StatusUp:
			report.Summary.Successes++
		default:
			report.Summary.Failures++
		}
		report.Summary.Ran++
	}
	report.Outcomes = outcomes
	report.Duration = r.now().Sub(start)

	log.Info("batch_finished",
		zap.Int("ran", report.Summary.Ran),
		zap.Int("successes", report.Summary.Successes),
		zap.Int("failures", report.Summary.Failures),
		zap.Int("errors", report.Summary.Errors),
		zap.Int("skipped", report.Summary.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, log *zap.Logger, c model.Check) (out Outcome) {
	if !r.acquire(c.ID) {
		log.Info("check_skipped_in_flight", zap.String("check_id", c.ID))
		return Outcome{CheckID: c.ID, CheckName: c.Name, Transition: TransitionNone, Skipped: true}
	}
	defer r.release(c.ID)

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline_panic",
				zap.String("check_id", c.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			out = Outcome{
				CheckID:    c.ID,
				CheckName:  c.Name,
				Transition: TransitionNone,
				Err:        fmt.Errorf("pipeline panic: %v", p),
			}
		}
	}()

	out = r.pipeline.Run(ctx, c)
	if out.Err != nil {
		log.Error("pipeline_failed", zap.String("check_id", c.ID), zap.Error(out.Err))
		return out
	}
	log.Info("check_result",
		zap.String("check_id", c.ID),
		zap.String("status", string(out.Status)),
		zap.Intp("status_code", out.StatusCode),
		zap.Int64("latency_ms", out.LatencyMs),
		zap.String("error", out.ProbeError),
		zap.String("transition", string(out.Transition)),
	)
	return out
}

func (r *Runner) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}
