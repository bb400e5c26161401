// Package memory is an in-process Store used by tests and by the "memory" storage driver.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/storage"
)

// ErrOpenIncidentExists is returned when a second OPEN incident would be created for a check.
var ErrOpenIncidentExists = errors.New("check already has an open incident")

// Store keeps every record in maps guarded by one RWMutex. WithCheckTx additionally
// serializes on a per-check mutex.
type Store struct {
	mu        sync.RWMutex
	users     map[string]model.User
	checks    map[string]*model.Check
	results   map[string][]model.CheckResult
	incidents map[string][]model.Incident
	prefs     []model.NotificationPreference
	pages     map[string]model.StatusPage
	nextID    int64

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:     make(map[string]model.User),
		checks:    make(map[string]*model.Check),
		results:   make(map[string][]model.CheckResult),
		incidents: make(map[string][]model.Incident),
		pages:     make(map[string]model.StatusPage),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Store) Close() error { return nil }

func (m *Store) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Store) checkLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// ---- Checks ----

func (m *Store) EnabledChecks(ctx context.Context) ([]model.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Check, 0, len(m.checks))
	for _, c := range m.checks {
		if c.Enabled {
			out = append(out, copyCheck(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) ListChecks(ctx context.Context) ([]model.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, copyCheck(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := copyCheck(c)
	return &cp, nil
}

func (m *Store) UpsertCheck(ctx context.Context, c model.Check) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.checks[c.ID]; ok {
		c.LastStatus = cur.LastStatus
		c.LastCheckedAt = cur.LastCheckedAt
		c.CreatedAt = cur.CreatedAt
	} else {
		if c.LastStatus == "" {
			c.LastStatus = model.StatusUnknown
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
	}
	m.checks[c.ID] = &c
	return nil
}

// ---- Users and preferences ----

func (m *Store) UpsertUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Store) UpsertPreference(ctx context.Context, p model.NotificationPreference) error {
	if p.Channel == "" {
		p.Channel = model.ChannelEmail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.prefs {
		if cur.OwnerID == p.OwnerID && cur.Channel == p.Channel && cur.Address == p.Address {
			m.prefs[i].Enabled = p.Enabled
			return nil
		}
	}
	p.ID = m.id()
	m.prefs = append(m.prefs, p)
	return nil
}

func (m *Store) EnabledEmailPreferences(ctx context.Context, ownerID string) ([]model.NotificationPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.NotificationPreference
	for _, p := range m.prefs {
		if p.OwnerID == ownerID && p.Channel == model.ChannelEmail && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Store) PrimaryEmail(ctx context.Context, ownerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[ownerID].Email, nil
}

// ---- Status pages ----

func (m *Store) UpsertStatusPage(ctx context.Context, p model.StatusPage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.CheckIDs = append([]string{}, p.CheckIDs...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[p.Slug] = p
	return nil
}

func (m *Store) GetStatusPage(ctx context.Context, slug string) (*model.StatusPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.CheckIDs = append([]string{}, p.CheckIDs...)
	return &p, nil
}

// ---- Read side ----

func (m *Store) ListResults(ctx context.Context, checkID string, limit, offset int) ([]model.CheckResult, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := newestFirst(m.results[checkID])
	total := len(all)
	if offset >= total {
		return []model.CheckResult{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *Store) ListIncidents(ctx context.Context, checkID string) ([]model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.Incident(nil), m.incidents[checkID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Store) UptimePercent(ctx context.Context, checkID string, last int) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recent := newestFirst(m.results[checkID])
	if len(recent) > last {
		recent = recent[:last]
	}
	if len(recent) == 0 {
		return 0, nil
	}
	up := 0
	for _, r := range recent {
		if r.Status == model.StatusUp {
			up++
		}
	}
	return float64(up) / float64(len(recent)) * 100, nil
}

// ---- Per-check transaction ----

// WithCheckTx holds the check's mutex for the whole of fn and applies the buffered
// writes only when fn succeeds.
func (m *Store) WithCheckTx(ctx context.Context, checkID string, fn func(storage.Tx) error) error {
	l := m.checkLock(checkID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	_, ok := m.checks[checkID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("locking check %q: %w", checkID, storage.ErrNotFound)
	}

	tx := &memTx{store: m, checkID: checkID, resolved: make(map[int64]time.Time)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type statusUpdate struct {
	status model.Status
	at     time.Time
}

type memTx struct {
	store    *Store
	checkID  string
	results  []model.CheckResult
	status   *statusUpdate
	created  []model.Incident
	resolved map[int64]time.Time
}

func (t *memTx) nextID() int64 {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.id()
}

func (t *memTx) InsertResult(ctx context.Context, r *model.CheckResult) error {
	r.ID = t.nextID()
	t.results = append(t.results, *r)
	return nil
}

func (t *memTx) UpdateCheckStatus(ctx context.Context, checkID string, status model.Status, at time.Time) error {
	t.status = &statusUpdate{status: status, at: at}
	return nil
}

func (t *memTx) RecentResults(ctx context.Context, checkID string, n int) ([]model.CheckResult, error) {
	t.store.mu.RLock()
	all := append([]model.CheckResult(nil), t.store.results[checkID]...)
	t.store.mu.RUnlock()
	all = newestFirst(append(all, t.results...))
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (t *memTx) OpenIncident(ctx context.Context, checkID string) (*model.Incident, error) {
	for i := range t.created {
		if _, done := t.resolved[t.created[i].ID]; !done {
			inc := t.created[i]
			return &inc, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, inc := range t.store.incidents[checkID] {
		if inc.Status != model.IncidentOpen {
			continue
		}
		if _, done := t.resolved[inc.ID]; done {
			continue
		}
		return &inc, nil
	}
	return nil, nil
}

func (t *memTx) CreateIncident(ctx context.Context, inc *model.Incident) error {
	if inc.Status == model.IncidentOpen {
		open, _ := t.OpenIncident(ctx, inc.CheckID)
		if open != nil {
			return fmt.Errorf("creating incident for %q: %w", inc.CheckID, ErrOpenIncidentExists)
		}
	}
	inc.ID = t.nextID()
	t.created = append(t.created, *inc)
	return nil
}

func (t *memTx) ResolveIncident(ctx context.Context, incidentID int64, at time.Time) error {
	open, _ := t.OpenIncident(ctx, t.checkID)
	if open == nil || open.ID != incidentID {
		return fmt.Errorf("resolving incident %d: %w", incidentID, storage.ErrNotFound)
	}
	t.resolved[incidentID] = at
	return nil
}

func (t *memTx) apply() {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results[t.checkID] = append(m.results[t.checkID], t.results...)
	if t.status != nil {
		if c, ok := m.checks[t.checkID]; ok {
			at := t.status.at
			c.LastStatus = t.status.status
			c.LastCheckedAt = &at
		}
	}
	m.incidents[t.checkID] = append(m.incidents[t.checkID], t.created...)
	incs := m.incidents[t.checkID]
	for i := range incs {
		if at, ok := t.resolved[incs[i].ID]; ok {
			resolvedAt := at
			incs[i].Status = model.IncidentResolved
			incs[i].ResolvedAt = &resolvedAt
		}
	}
}

func newestFirst(rs []model.CheckResult) []model.CheckResult {
	out := append([]model.CheckResult(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].CheckedAt.After(out[j].CheckedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func copyCheck(c *model.Check) model.Check {
	cp := *c
	if c.LastCheckedAt != nil {
		at := *c.LastCheckedAt
		cp.LastCheckedAt = &at
	}
	return cp
}
