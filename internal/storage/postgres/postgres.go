// Package postgres implements storage.Store on PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id    TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS checks (
    id               TEXT        PRIMARY KEY,
    owner_id         TEXT        NOT NULL,
    name             TEXT        NOT NULL,
    url              TEXT        NOT NULL,
    method           TEXT        NOT NULL CHECK (method IN ('GET', 'HEAD', 'POST')),
    interval_seconds INTEGER     NOT NULL CHECK (interval_seconds BETWEEN 30 AND 3600),
    timeout_ms       INTEGER     NOT NULL CHECK (timeout_ms BETWEEN 1000 AND 30000),
    expected_status  INTEGER,
    enabled          BOOLEAN     NOT NULL DEFAULT TRUE,
    last_status      TEXT        NOT NULL DEFAULT 'UNKNOWN',
    last_checked_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS check_results (
    id          BIGSERIAL   PRIMARY KEY,
    check_id    TEXT        NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    checked_at  TIMESTAMPTZ NOT NULL,
    status      TEXT        NOT NULL CHECK (status IN ('UP', 'DOWN')),
    status_code INTEGER,
    latency_ms  BIGINT      NOT NULL,
    error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_results_check_checked ON check_results (check_id, checked_at DESC);

CREATE TABLE IF NOT EXISTS incidents (
    id          BIGSERIAL   PRIMARY KEY,
    check_id    TEXT        NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    status      TEXT        NOT NULL CHECK (status IN ('OPEN', 'RESOLVED')),
    started_at  TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ,
    summary     TEXT        NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_open ON incidents (check_id) WHERE status = 'OPEN';

CREATE TABLE IF NOT EXISTS notification_preferences (
    id       BIGSERIAL PRIMARY KEY,
    owner_id TEXT      NOT NULL,
    channel  TEXT      NOT NULL,
    address  TEXT      NOT NULL,
    enabled  BOOLEAN   NOT NULL DEFAULT TRUE,
    UNIQUE (owner_id, channel, address)
);

CREATE TABLE IF NOT EXISTS status_pages (
    slug        TEXT    PRIMARY KEY,
    owner_id    TEXT    NOT NULL,
    title       TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    enabled     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS status_page_items (
    page_slug TEXT    NOT NULL REFERENCES status_pages(slug) ON DELETE CASCADE,
    check_id  TEXT    NOT NULL,
    position  INTEGER NOT NULL,
    PRIMARY KEY (page_slug, check_id)
);
`

const checkColumns = `id, owner_id, name, url, method, interval_seconds, timeout_ms,
	expected_status, enabled, last_status, last_checked_at, created_at`

const resultColumns = `id, check_id, checked_at, status, status_code, latency_ms, error`

const incidentColumns = `id, check_id, status, started_at, resolved_at, summary`

// Store implements storage.Store for PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New connects to the database and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ---- Checks ----

func (s *Store) EnabledChecks(ctx context.Context) ([]model.Check, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+checkColumns+` FROM checks WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying enabled checks: %w", err)
	}
	return collectChecks(rows)
}

func (s *Store) ListChecks(ctx context.Context) ([]model.Check, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+checkColumns+` FROM checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	return collectChecks(rows)
}

func (s *Store) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	c, err := scanCheck(s.pool.QueryRow(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying check %q: %w", id, err)
	}
	return c, nil
}

func (s *Store) UpsertCheck(ctx context.Context, c model.Check) error {
	if err := c.Validate(); err != nil {
		return err
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var expected *int
	if c.ExpectedStatus != 0 {
		expected = &c.ExpectedStatus
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checks (id, owner_id, name, url, method, interval_seconds, timeout_ms, expected_status, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			method = EXCLUDED.method,
			interval_seconds = EXCLUDED.interval_seconds,
			timeout_ms = EXCLUDED.timeout_ms,
			expected_status = EXCLUDED.expected_status,
			enabled = EXCLUDED.enabled`,
		c.ID, c.OwnerID, c.Name, c.URL, c.Method, c.IntervalSeconds, c.TimeoutMs, expected, c.Enabled, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting check %q: %w", c.ID, err)
	}
	return nil
}

// ---- Users and preferences ----

func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`,
		u.ID, u.Email)
	if err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

func (s *Store) UpsertPreference(ctx context.Context, p model.NotificationPreference) error {
	channel := p.Channel
	if channel == "" {
		channel = model.ChannelEmail
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (owner_id, channel, address, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, channel, address) DO UPDATE SET enabled = EXCLUDED.enabled`,
		p.OwnerID, channel, p.Address, p.Enabled)
	if err != nil {
		return fmt.Errorf("upserting preference for %q: %w", p.OwnerID, err)
	}
	return nil
}

func (s *Store) EnabledEmailPreferences(ctx context.Context, ownerID string) ([]model.NotificationPreference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, channel, address, enabled
		FROM notification_preferences
		WHERE owner_id = $1 AND channel = $2 AND enabled
		ORDER BY id`, ownerID, model.ChannelEmail)
	if err != nil {
		return nil, fmt.Errorf("querying preferences for %q: %w", ownerID, err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		var p model.NotificationPreference
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Channel, &p.Address, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scanning preference row: %w", err)
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating preference rows: %w", err)
	}
	return prefs, nil
}

func (s *Store) PrimaryEmail(ctx context.Context, ownerID string) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, ownerID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying email for %q: %w", ownerID, err)
	}
	return email, nil
}

// ---- Status pages ----

func (s *Store) UpsertStatusPage(ctx context.Context, p model.StatusPage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for status page %q: %w", p.Slug, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO status_pages (slug, owner_id, title, description, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled`,
		p.Slug, p.OwnerID, p.Title, p.Description, p.Enabled)
	if err != nil {
		return fmt.Errorf("upserting status page %q: %w", p.Slug, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM status_page_items WHERE page_slug = $1`, p.Slug); err != nil {
		return fmt.Errorf("clearing status page %q items: %w", p.Slug, err)
	}
	for i, id := range p.CheckIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO status_page_items (page_slug, check_id, position) VALUES ($1, $2, $3)`,
			p.Slug, id, i,
		); err != nil {
			return fmt.Errorf("adding check %q to status page %q: %w", id, p.Slug, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing status page %q: %w", p.Slug, err)
	}
	return nil
}

func (s *Store) GetStatusPage(ctx context.Context, slug string) (*model.StatusPage, error) {
	p := model.StatusPage{CheckIDs: []string{}}
	err := s.pool.QueryRow(ctx,
		`SELECT slug, owner_id, title, description, enabled FROM status_pages WHERE slug = $1`, slug,
	).Scan(&p.Slug, &p.OwnerID, &p.Title, &p.Description, &p.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying status page %q: %w", slug, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT check_id FROM status_page_items WHERE page_slug = $1 ORDER BY position`, slug)
	if err != nil {
		return nil, fmt.Errorf("querying status page %q items: %w", slug, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning status page %q items: %w", slug, err)
	}
	p.CheckIDs = append(p.CheckIDs, ids...)
	return &p, nil
}

// ---- Read side ----

func (s *Store) ListResults(ctx context.Context, checkID string, limit, offset int) ([]model.CheckResult, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM check_results WHERE check_id = $1`, checkID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting results for %q: %w", checkID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM check_results WHERE check_id = $1
		ORDER BY checked_at DESC, id DESC LIMIT $2 OFFSET $3`,
		checkID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying results for %q: %w", checkID, err)
	}
	results, err := collectResults(rows)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (s *Store) ListIncidents(ctx context.Context, checkID string) ([]model.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE check_id = $1 ORDER BY started_at DESC, id DESC`,
		checkID)
	if err != nil {
		return nil, fmt.Errorf("querying incidents for %q: %w", checkID, err)
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident row: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incident rows: %w", err)
	}
	return incidents, nil
}

func (s *Store) UptimePercent(ctx context.Context, checkID string, last int) (float64, error) {
	var total, up int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'UP')
		FROM (
			SELECT status FROM check_results WHERE check_id = $1 ORDER BY checked_at DESC, id DESC LIMIT $2
		) recent`, checkID, last).Scan(&total, &up)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for %q: %w", checkID, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(up) / float64(total) * 100, nil
}

// ---- Per-check transaction ----

// WithCheckTx locks the check row with FOR UPDATE for the lifetime of fn.
func (s *Store) WithCheckTx(ctx context.Context, checkID string, fn func(storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction for %q: %w", checkID, err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM checks WHERE id = $1 FOR UPDATE`, checkID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("locking check %q: %w", checkID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking check %q: %w", checkID, err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction for %q: %w", checkID, err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertResult(ctx context.Context, r *model.CheckResult) error {
	var errMsg *string
	if r.Error != "" {
		errMsg = &r.Error
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO check_results (check_id, checked_at, status, status_code, latency_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		r.CheckID, r.CheckedAt.UTC(), string(r.Status), r.StatusCode, r.LatencyMs, errMsg,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("inserting result for %q: %w", r.CheckID, err)
	}
	return nil
}

func (t *pgTx) UpdateCheckStatus(ctx context.Context, checkID string, status model.Status, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE checks SET last_status = $1, last_checked_at = $2 WHERE id = $3`,
		string(status), at.UTC(), checkID)
	if err != nil {
		return fmt.Errorf("updating check %q: %w", checkID, err)
	}
	return nil
}

func (t *pgTx) RecentResults(ctx context.Context, checkID string, n int) ([]model.CheckResult, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+resultColumns+` FROM check_results WHERE check_id = $1
		ORDER BY checked_at DESC, id DESC LIMIT $2`, checkID, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent results for %q: %w", checkID, err)
	}
	return collectResults(rows)
}

func (t *pgTx) OpenIncident(ctx context.Context, checkID string) (*model.Incident, error) {
	inc, err := scanIncident(t.tx.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE check_id = $1 AND status = $2`,
		checkID, string(model.IncidentOpen)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying open incident for %q: %w", checkID, err)
	}
	return inc, nil
}

func (t *pgTx) CreateIncident(ctx context.Context, inc *model.Incident) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO incidents (check_id, status, started_at, resolved_at, summary)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		inc.CheckID, string(inc.Status), inc.StartedAt.UTC(), inc.ResolvedAt, inc.Summary,
	).Scan(&inc.ID)
	if err != nil {
		return fmt.Errorf("creating incident for %q: %w", inc.CheckID, err)
	}
	return nil
}

func (t *pgTx) ResolveIncident(ctx context.Context, incidentID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE incidents SET status = $1, resolved_at = $2 WHERE id = $3 AND status = $4`,
		string(model.IncidentResolved), at.UTC(), incidentID, string(model.IncidentOpen))
	if err != nil {
		return fmt.Errorf("resolving incident %d: %w", incidentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolving incident %d: %w", incidentID, storage.ErrNotFound)
	}
	return nil
}

// ---- Scanning ----

func scanCheck(row pgx.Row) (*model.Check, error) {
	var (
		c          model.Check
		expected   *int
		lastStatus string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.URL, &c.Method, &c.IntervalSeconds, &c.TimeoutMs,
		&expected, &c.Enabled, &lastStatus, &c.LastCheckedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expected != nil {
		c.ExpectedStatus = *expected
	}
	c.LastStatus = model.Status(lastStatus)
	return &c, nil
}

func collectChecks(rows pgx.Rows) ([]model.Check, error) {
	defer rows.Close()
	var checks []model.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning check row: %w", err)
		}
		checks = append(checks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check rows: %w", err)
	}
	return checks, nil
}

func collectResults(rows pgx.Rows) ([]model.CheckResult, error) {
	defer rows.Close()
	var results []model.CheckResult
	for rows.Next() {
		var (
			r      model.CheckResult
			status string
			errMsg *string
		)
		if err := rows.Scan(&r.ID, &r.CheckID, &r.CheckedAt, &status, &r.StatusCode, &r.LatencyMs, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		r.Status = model.Status(status)
		if errMsg != nil {
			r.Error = *errMsg
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}

func scanIncident(row pgx.Row) (*model.Incident, error) {
	var (
		inc    model.Incident
		status string
	)
	if err := row.Scan(&inc.ID, &inc.CheckID, &status, &inc.StartedAt, &inc.ResolvedAt, &inc.Summary); err != nil {
		return nil, err
	}
	inc.Status = model.IncidentStatus(status)
	return &inc, nil
}
