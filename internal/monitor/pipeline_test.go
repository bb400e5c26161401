package monitor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/monitor"
	"github.com/hazz-dev/canary/internal/notify"
	"github.com/hazz-dev/canary/internal/probe"
	"github.com/hazz-dev/canary/internal/storage"
	"github.com/hazz-dev/canary/internal/storage/memory"
)

// stubProber returns OK or failure according to a switch the test flips.
type stubProber struct {
	mu sync.Mutex
	ok bool
}

func (s *stubProber) set(ok bool) {
	s.mu.Lock()
	s.ok = ok
	s.mu.Unlock()
}

func (s *stubProber) Probe(ctx context.Context, t probe.Target) probe.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok {
		code := 200
		return probe.Outcome{OK: true, StatusCode: &code, LatencyMs: 5}
	}
	return probe.Outcome{Error: probe.ErrTimeout, LatencyMs: 1000}
}

// recordingNotifier records every dispatched alert.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingNotifier) Dispatch(ctx context.Context, a notify.Alert) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return notify.Result{Sent: 1, Total: 1}
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, a := range r.alerts {
		out = append(out, a.Kind)
	}
	return out
}

// failingStore fails every transaction for the listed checks.
type failingStore struct {
	*memory.Store
	fail map[string]bool
}

func (f *failingStore) WithCheckTx(ctx context.Context, id string, fn func(storage.Tx) error) error {
	if f.fail[id] {
		return errors.New("disk full")
	}
	return f.Store.WithCheckTx(ctx, id, fn)
}

func makeCheck(id string) model.Check {
	return model.Check{
		ID: id, OwnerID: "u1", Name: id, URL: "https://example.com/" + id,
		Method: "GET", IntervalSeconds: 60, TimeoutMs: 5000, Enabled: true,
	}
}

func newMemStore(t *testing.T, ids ...string) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, id := range ids {
		if err := s.UpsertCheck(context.Background(), makeCheck(id)); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

// tickingClock advances one minute per call so every result has a distinct timestamp.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

func openIncidents(t *testing.T, s *memory.Store, id string) int {
	t.Helper()
	incs, err := s.ListIncidents(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, inc := range incs {
		if inc.Status == model.IncidentOpen {
			n++
		}
	}
	return n
}

func TestPipeline_OpensIncidentAfterThreeFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "api")
	prober := &stubProber{}
	notifier := &recordingNotifier{}
	p := monitor.NewPipeline(store, prober, notifier, nil)
	p.SetClock(tickingClock())
	c := makeCheck("api")

	for i := 1; i <= 2; i++ {
		out := p.Run(ctx, c)
		if out.Err != nil || out.Transition != monitor.TransitionNone {
			t.Fatalf("run %d: unexpected outcome %+v", i, out)
		}
	}

	out := p.Run(ctx, c)
	if out.Err != nil {
		t.Fatal(out.Err)
	}
	if out.Transition != monitor.TransitionDown {
		t.Fatalf("expected DOWN transition on third failure, got %s", out.Transition)
	}
	if out.Notification == nil || !out.Notification.OK() {
		t.Errorf("expected notification result, got %+v", out.Notification)
	}
	if openIncidents(t, store, "api") != 1 {
		t.Fatalf("expected one open incident")
	}

	out = p.Run(ctx, c)
	if out.Transition != monitor.TransitionNone {
		t.Errorf("fourth failure should not transition, got %s", out.Transition)
	}
	if openIncidents(t, store, "api") != 1 {
		t.Errorf("fourth failure must not open another incident")
	}

	kinds := notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.KindDown {
		t.Errorf("expected exactly one DOWN alert, got %v", kinds)
	}
	incs, _ := store.ListIncidents(ctx, "api")
	if incs[0].Summary != monitor.IncidentSummary {
		t.Errorf("unexpected summary %q", incs[0].Summary)
	}
	alert := notifier.alerts[0]
	if alert.Error != probe.ErrTimeout || alert.StatusCode != nil || alert.OwnerID != "u1" {
		t.Errorf("unexpected alert payload %+v", alert)
	}
}

func TestPipeline_ResolvesAfterTwoSuccesses(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "api")
	prober := &stubProber{}
	notifier := &recordingNotifier{}
	p := monitor.NewPipeline(store, prober, notifier, nil)
	p.SetClock(tickingClock())
	c := makeCheck("api")

	for i := 0; i < 3; i++ {
		p.Run(ctx, c)
	}
	if openIncidents(t, store, "api") != 1 {
		t.Fatal("setup: expected an open incident")
	}

	prober.set(true)
	if out := p.Run(ctx, c); out.Transition != monitor.TransitionNone {
		t.Fatalf("first success should not resolve, got %s", out.Transition)
	}
	out := p.Run(ctx, c)
	if out.Transition != monitor.TransitionRecovered {
		t.Fatalf("expected RECOVERED on second success, got %s", out.Transition)
	}
	if out := p.Run(ctx, c); out.Transition != monitor.TransitionNone {
		t.Errorf("third success should not transition, got %s", out.Transition)
	}

	if openIncidents(t, store, "api") != 0 {
		t.Error("expected no open incident after recovery")
	}
	incs, _ := store.ListIncidents(ctx, "api")
	if len(incs) != 1 || incs[0].ResolvedAt == nil {
		t.Errorf("expected the incident resolved exactly once, got %+v", incs)
	}
	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[1] != notify.KindRecovered {
		t.Errorf("expected DOWN then RECOVERED alerts, got %v", kinds)
	}
}

func TestPipeline_UpdatesCheckStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "api")
	p := monitor.NewPipeline(store, &stubProber{ok: true}, nil, nil)

	out := p.Run(ctx, makeCheck("api"))
	if out.Err != nil || out.Status != model.StatusUp {
		t.Fatalf("unexpected outcome %+v", out)
	}
	c, _ := store.GetCheck(ctx, "api")
	if c.LastStatus != model.StatusUp || c.LastCheckedAt == nil {
		t.Errorf("check status not updated: %+v", c)
	}
	results, total, _ := store.ListResults(ctx, "api", 10, 0)
	if total != 1 || results[0].StatusCode == nil || *results[0].StatusCode != 200 {
		t.Errorf("unexpected stored results %+v", results)
	}
}

func TestPipeline_InvalidCheck(t *testing.T) {
	store := newMemStore(t, "api")
	prober := &stubProber{}
	p := monitor.NewPipeline(store, prober, nil, nil)

	c := makeCheck("api")
	c.Method = "DELETE"
	out := p.Run(context.Background(), c)
	if !errors.Is(out.Err, monitor.ErrInvalidCheck) {
		t.Fatalf("expected ErrInvalidCheck, got %v", out.Err)
	}
	_, total, _ := store.ListResults(context.Background(), "api", 10, 0)
	if total != 0 {
		t.Errorf("invalid check must not be probed or persisted, got %d results", total)
	}
}

func TestPipeline_PersistenceFailureDoesNotNotify(t *testing.T) {
	store := &failingStore{Store: newMemStore(t, "api"), fail: map[string]bool{"api": true}}
	notifier := &recordingNotifier{}
	p := monitor.NewPipeline(store, &stubProber{}, notifier, nil)

	for i := 0; i < 4; i++ {
		out := p.Run(context.Background(), makeCheck("api"))
		if out.Err == nil {
			t.Fatal("expected persistence error")
		}
		if out.Transition != monitor.TransitionNone {
			t.Errorf("failed unit must not report a transition, got %s", out.Transition)
		}
	}
	if len(notifier.kinds()) != 0 {
		t.Errorf("expected no alerts, got %v", notifier.kinds())
	}
}

func TestPipeline_SingleOpenIncidentUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, "api")
	notifier := &recordingNotifier{}
	p := monitor.NewPipeline(store, &stubProber{}, notifier, nil)
	c := makeCheck("api")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx, c)
		}()
	}
	wg.Wait()

	if n := openIncidents(t, store, "api"); n != 1 {
		t.Errorf("expected exactly 1 open incident, got %d", n)
	}
	if n := len(notifier.kinds()); n != 1 {
		t.Errorf("expected exactly 1 alert, got %d", n)
	}
}

func TestPipeline_ExpectedStatusMismatchIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := context.Background()
	store := memory.New()
	c := makeCheck("api")
	c.URL = srv.URL
	c.ExpectedStatus = 200
	if err := store.UpsertCheck(ctx, c); err != nil {
		t.Fatal(err)
	}

	p := monitor.NewPipeline(store, probe.NewExecutor(nil), nil, nil)
	out := p.Run(ctx, c)
	if out.Err != nil {
		t.Fatal(out.Err)
	}

	results, _, _ := store.ListResults(ctx, "api", 1, 0)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Status != model.StatusDown || r.StatusCode == nil || *r.StatusCode != 503 || r.Error != "" {
		t.Errorf("expected DOWN/503/no error, got %+v", r)
	}
}
