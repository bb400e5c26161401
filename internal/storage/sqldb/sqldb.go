// Package sqldb is the database/sql store, backed by sqlite (modernc) or mysql.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/storage"
)

// timeLayout is fixed-width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const checkColumns = `id, owner_id, name, url, method, interval_seconds, timeout_ms,
	expected_status, enabled, last_status, last_checked_at, created_at`

const resultColumns = `id, check_id, checked_at, status, status_code, latency_ms, error`

const incidentColumns = `id, check_id, status, started_at, resolved_at, summary`

// DB wraps a database/sql handle.
type DB struct {
	db *sql.DB
	d  dialect
}

var _ storage.Store = (*DB)(nil)

// Open opens (or creates) the database and applies the schema.
// driver is "sqlite" (dsn is a file path or ":memory:") or "mysql".
func Open(driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s at %q: %w", d.driver, dsn, err)
	}
	if d.singleConn {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", d.driver, err)
	}

	for _, p := range d.pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}

	return &DB{db: db, d: d}, nil
}

// Close closes the underlying database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Checks ---

// EnabledChecks returns every enabled check.
func (s *DB) EnabledChecks(ctx context.Context) ([]model.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE enabled <> 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying enabled checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// ListChecks returns all checks.
func (s *DB) ListChecks(ctx context.Context) ([]model.Check, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+checkColumns+` FROM checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// GetCheck returns the check with the given id or storage.ErrNotFound.
func (s *DB) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = ?`, id)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying check %q: %w", id, err)
	}
	return c, nil
}

// UpsertCheck validates and stores a check, preserving its runtime status.
func (s *DB) UpsertCheck(ctx context.Context, c model.Check) error {
	if err := c.Validate(); err != nil {
		return err
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.d.upsertChk,
		c.ID, c.OwnerID, c.Name, c.URL, c.Method, c.IntervalSeconds, c.TimeoutMs,
		nullInt(c.ExpectedStatus), c.Enabled, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("upserting check %q: %w", c.ID, err)
	}
	return nil
}

// --- Users and preferences ---

// UpsertUser stores a user.
func (s *DB) UpsertUser(ctx context.Context, u model.User) error {
	if _, err := s.db.ExecContext(ctx, s.d.upsertUser, u.ID, u.Email); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

// UpsertPreference stores a notification preference keyed by (owner, channel, address).
func (s *DB) UpsertPreference(ctx context.Context, p model.NotificationPreference) error {
	channel := p.Channel
	if channel == "" {
		channel = model.ChannelEmail
	}
	if _, err := s.db.ExecContext(ctx, s.d.upsertPref, p.OwnerID, channel, p.Address, p.Enabled); err != nil {
		return fmt.Errorf("upserting preference for %q: %w", p.OwnerID, err)
	}
	return nil
}

// EnabledEmailPreferences returns the owner's enabled email destinations.
func (s *DB) EnabledEmailPreferences(ctx context.Context, ownerID string) ([]model.NotificationPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, channel, address, enabled
		FROM notification_preferences
		WHERE owner_id = ? AND channel = ? AND enabled <> 0
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

// PrimaryEmail returns the owner's account email, or "" when unknown.
func (s *DB) PrimaryEmail(ctx context.Context, ownerID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = ?`, ownerID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying email for %q: %w", ownerID, err)
	}
	return email, nil
}

// --- Status pages ---

// UpsertStatusPage stores a status page and replaces its ordered check list.
func (s *DB) UpsertStatusPage(ctx context.Context, p model.StatusPage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for status page %q: %w", p.Slug, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.d.upsertPage, p.Slug, p.OwnerID, p.Title, p.Description, p.Enabled); err != nil {
		return fmt.Errorf("upserting status page %q: %w", p.Slug, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM status_page_items WHERE page_slug = ?`, p.Slug); err != nil {
		return fmt.Errorf("clearing status page %q items: %w", p.Slug, err)
	}
	for i, id := range p.CheckIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO status_page_items (page_slug, check_id, position) VALUES (?, ?, ?)`,
			p.Slug, id, i,
		); err != nil {
			return fmt.Errorf("adding check %q to status page %q: %w", id, p.Slug, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing status page %q: %w", p.Slug, err)
	}
	return nil
}

// GetStatusPage returns the status page with its checks in display order, or storage.ErrNotFound.
func (s *DB) GetStatusPage(ctx context.Context, slug string) (*model.StatusPage, error) {
	p := model.StatusPage{CheckIDs: []string{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, owner_id, title, description, enabled FROM status_pages WHERE slug = ?`, slug,
	).Scan(&p.Slug, &p.OwnerID, &p.Title, &p.Description, &p.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying status page %q: %w", slug, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT check_id FROM status_page_items WHERE page_slug = ? ORDER BY position`, slug)
	if err != nil {
		return nil, fmt.Errorf("querying status page %q items: %w", slug, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning status page item: %w", err)
		}
		p.CheckIDs = append(p.CheckIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status page items: %w", err)
	}
	return &p, nil
}

// --- Results and incidents (read side) ---

// ListResults returns paginated results for a check, newest first, plus the total count.
func (s *DB) ListResults(ctx context.Context, checkID string, limit, offset int) ([]model.CheckResult, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_results WHERE check_id = ?`, checkID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting results for %q: %w", checkID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM check_results WHERE check_id = ?
		ORDER BY checked_at DESC, id DESC LIMIT ? OFFSET ?`,
		checkID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying results for %q: %w", checkID, err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// ListIncidents returns every incident of a check, newest first.
func (s *DB) ListIncidents(ctx context.Context, checkID string) ([]model.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE check_id = ? ORDER BY started_at DESC, id DESC`,
		checkID,
	)
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

// UptimePercent returns the percentage of UP results among the last N results of a check.
func (s *DB) UptimePercent(ctx context.Context, checkID string, last int) (float64, error) {
	var total int
	var upCount sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN status = 'UP' THEN 1 ELSE 0 END)
		FROM (
			SELECT status FROM check_results WHERE check_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?
		) recent
	`, checkID, last).Scan(&total, &upCount)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for %q: %w", checkID, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(upCount.Int64) / float64(total) * 100, nil
}

// --- Per-check transaction ---

// WithCheckTx runs fn inside a transaction that holds the check's lock.
func (s *DB) WithCheckTx(ctx context.Context, checkID string, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %q: %w", checkID, err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var id string
	err = tx.QueryRowContext(ctx, s.d.lockCheck, checkID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("locking check %q: %w", checkID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking check %q: %w", checkID, err)
	}

	if err := fn(&sqlTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction for %q: %w", checkID, err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	q querier
}

func (t *sqlTx) InsertResult(ctx context.Context, r *model.CheckResult) error {
	var code any
	if r.StatusCode != nil {
		code = *r.StatusCode
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO check_results (check_id, checked_at, status, status_code, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.CheckID, formatTime(r.CheckedAt), string(r.Status), code, r.LatencyMs, nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting result for %q: %w", r.CheckID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

func (t *sqlTx) UpdateCheckStatus(ctx context.Context, checkID string, status model.Status, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE checks SET last_status = ?, last_checked_at = ? WHERE id = ?`,
		string(status), formatTime(at), checkID,
	)
	if err != nil {
		return fmt.Errorf("updating check %q: %w", checkID, err)
	}
	return nil
}

func (t *sqlTx) RecentResults(ctx context.Context, checkID string, n int) ([]model.CheckResult, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM check_results WHERE check_id = ?
		ORDER BY checked_at DESC, id DESC LIMIT ?`,
		checkID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent results for %q: %w", checkID, err)
	}
	defer rows.Close()
	return scanResults(rows)
}

func (t *sqlTx) OpenIncident(ctx context.Context, checkID string) (*model.Incident, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE check_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`,
		checkID, string(model.IncidentOpen),
	)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying open incident for %q: %w", checkID, err)
	}
	return inc, nil
}

func (t *sqlTx) CreateIncident(ctx context.Context, inc *model.Incident) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO incidents (check_id, status, started_at, resolved_at, summary) VALUES (?, ?, ?, ?, ?)`,
		inc.CheckID, string(inc.Status), formatTime(inc.StartedAt), nullTime(inc.ResolvedAt), inc.Summary,
	)
	if err != nil {
		return fmt.Errorf("creating incident for %q: %w", inc.CheckID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		inc.ID = id
	}
	return nil
}

func (t *sqlTx) ResolveIncident(ctx context.Context, incidentID int64, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE incidents SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(model.IncidentResolved), formatTime(at), incidentID, string(model.IncidentOpen),
	)
	if err != nil {
		return fmt.Errorf("resolving incident %d: %w", incidentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("resolving incident %d: %w", incidentID, storage.ErrNotFound)
	}
	return nil
}

// --- Scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(row scanner) (*model.Check, error) {
	var (
		c           model.Check
		expected    sql.NullInt64
		lastStatus  string
		lastChecked sql.NullString
		createdAt   string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.URL, &c.Method, &c.IntervalSeconds, &c.TimeoutMs,
		&expected, &c.Enabled, &lastStatus, &lastChecked, &createdAt)
	if err != nil {
		return nil, err
	}
	c.ExpectedStatus = int(expected.Int64)
	c.LastStatus = model.Status(lastStatus)
	if lastChecked.Valid {
		t, err := parseTime(lastChecked.String)
		if err != nil {
			return nil, err
		}
		c.LastCheckedAt = &t
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChecks(rows *sql.Rows) ([]model.Check, error) {
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

func scanResult(row scanner) (*model.CheckResult, error) {
	var (
		r         model.CheckResult
		checkedAt string
		status    string
		code      sql.NullInt64
		errMsg    sql.NullString
	)
	if err := row.Scan(&r.ID, &r.CheckID, &checkedAt, &status, &code, &r.LatencyMs, &errMsg); err != nil {
		return nil, err
	}
	t, err := parseTime(checkedAt)
	if err != nil {
		return nil, err
	}
	r.CheckedAt = t
	r.Status = model.Status(status)
	if code.Valid {
		v := int(code.Int64)
		r.StatusCode = &v
	}
	r.Error = errMsg.String
	return &r, nil
}

func scanResults(rows *sql.Rows) ([]model.CheckResult, error) {
	var results []model.CheckResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		results = append(results, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}

func scanIncident(row scanner) (*model.Incident, error) {
	var (
		inc       model.Incident
		status    string
		startedAt string
		resolved  sql.NullString
	)
	if err := row.Scan(&inc.ID, &inc.CheckID, &status, &startedAt, &resolved, &inc.Summary); err != nil {
		return nil, err
	}
	inc.Status = model.IncidentStatus(status)
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	inc.StartedAt = t
	if resolved.Valid {
		rt, err := parseTime(resolved.String)
		if err != nil {
			return nil, err
		}
		inc.ResolvedAt = &rt
	}
	return &inc, nil
}

// --- Value helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
