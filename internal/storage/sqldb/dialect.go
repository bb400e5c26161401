package sqldb

import "fmt"

// dialect carries the statements that differ between sqlite and mysql.
// Both drivers use "?" placeholders, so every other query is shared.
type dialect struct {
	driver     string
	pragmas    []string
	schema     []string
	lockCheck  string
	upsertUser string
	upsertChk  string
	upsertPref string
	upsertPage string
	singleConn bool
}

var sqliteDialect = dialect{
	driver: "sqlite",
	pragmas: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	},
	schema: []string{`
CREATE TABLE IF NOT EXISTS users (
    id    TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT ''
)`, `
CREATE TABLE IF NOT EXISTS checks (
    id               TEXT    PRIMARY KEY,
    owner_id         TEXT    NOT NULL,
    name             TEXT    NOT NULL,
    url              TEXT    NOT NULL,
    method           TEXT    NOT NULL CHECK(method IN ('GET', 'HEAD', 'POST')),
    interval_seconds INTEGER NOT NULL CHECK(interval_seconds BETWEEN 30 AND 3600),
    timeout_ms       INTEGER NOT NULL CHECK(timeout_ms BETWEEN 1000 AND 30000),
    expected_status  INTEGER,
    enabled          INTEGER NOT NULL DEFAULT 1,
    last_status      TEXT    NOT NULL DEFAULT 'UNKNOWN',
    last_checked_at  TEXT,
    created_at       TEXT    NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS check_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    check_id    TEXT    NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    checked_at  TEXT    NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('UP', 'DOWN')),
    status_code INTEGER,
    latency_ms  INTEGER NOT NULL,
    error       TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_results_check_checked ON check_results(check_id, checked_at DESC)`, `
CREATE TABLE IF NOT EXISTS incidents (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    check_id    TEXT NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    status      TEXT NOT NULL CHECK(status IN ('OPEN', 'RESOLVED')),
    started_at  TEXT NOT NULL,
    resolved_at TEXT,
    summary     TEXT NOT NULL DEFAULT ''
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_open ON incidents(check_id) WHERE status = 'OPEN'`, `
CREATE TABLE IF NOT EXISTS notification_preferences (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT    NOT NULL,
    channel  TEXT    NOT NULL,
    address  TEXT    NOT NULL,
    enabled  INTEGER NOT NULL DEFAULT 1,
    UNIQUE(owner_id, channel, address)
)`, `
CREATE TABLE IF NOT EXISTS status_pages (
    slug        TEXT    PRIMARY KEY,
    owner_id    TEXT    NOT NULL,
    title       TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    enabled     INTEGER NOT NULL DEFAULT 1
)`, `
CREATE TABLE IF NOT EXISTS status_page_items (
    page_slug TEXT    NOT NULL REFERENCES status_pages(slug) ON DELETE CASCADE,
    check_id  TEXT    NOT NULL,
    position  INTEGER NOT NULL,
    PRIMARY KEY (page_slug, check_id)
)`,
	},
	// A single connection serializes every transaction, which is what
	// keeps two pipelines for the same check from interleaving.
	lockCheck: `SELECT id FROM checks WHERE id = ?`,
	upsertUser: `INSERT INTO users (id, email) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email`,
	upsertChk: `INSERT INTO checks
		(id, owner_id, name, url, method, interval_seconds, timeout_ms, expected_status, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			url = excluded.url,
			method = excluded.method,
			interval_seconds = excluded.interval_seconds,
			timeout_ms = excluded.timeout_ms,
			expected_status = excluded.expected_status,
			enabled = excluded.enabled`,
	upsertPref: `INSERT INTO notification_preferences (owner_id, channel, address, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id, channel, address) DO UPDATE SET enabled = excluded.enabled`,
	upsertPage: `INSERT INTO status_pages (slug, owner_id, title, description, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			description = excluded.description,
			enabled = excluded.enabled`,
	singleConn: true,
}

var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{`
CREATE TABLE IF NOT EXISTS users (
    id    VARCHAR(191) PRIMARY KEY,
    email VARCHAR(320) NOT NULL DEFAULT ''
)`, `
CREATE TABLE IF NOT EXISTS checks (
    id               VARCHAR(191) PRIMARY KEY,
    owner_id         VARCHAR(191) NOT NULL,
    name             VARCHAR(255) NOT NULL,
    url              TEXT         NOT NULL,
    method           VARCHAR(8)   NOT NULL,
    interval_seconds INT          NOT NULL,
    timeout_ms       INT          NOT NULL,
    expected_status  INT          NULL,
    enabled          TINYINT(1)   NOT NULL DEFAULT 1,
    last_status      VARCHAR(16)  NOT NULL DEFAULT 'UNKNOWN',
    last_checked_at  VARCHAR(40)  NULL,
    created_at       VARCHAR(40)  NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS check_results (
    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
    check_id    VARCHAR(191) NOT NULL,
    checked_at  VARCHAR(40)  NOT NULL,
    status      VARCHAR(8)   NOT NULL,
    status_code INT          NULL,
    latency_ms  BIGINT       NOT NULL,
    error       TEXT         NULL,
    INDEX idx_results_check_checked (check_id, checked_at),
    FOREIGN KEY (check_id) REFERENCES checks(id) ON DELETE CASCADE
)`, `
CREATE TABLE IF NOT EXISTS incidents (
    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
    check_id    VARCHAR(191) NOT NULL,
    status      VARCHAR(16)  NOT NULL,
    started_at  VARCHAR(40)  NOT NULL,
    resolved_at VARCHAR(40)  NULL,
    summary     TEXT         NOT NULL,
    INDEX idx_incidents_check_status (check_id, status),
    FOREIGN KEY (check_id) REFERENCES checks(id) ON DELETE CASCADE
)`, `
CREATE TABLE IF NOT EXISTS notification_preferences (
    id       BIGINT AUTO_INCREMENT PRIMARY KEY,
    owner_id VARCHAR(191) NOT NULL,
    channel  VARCHAR(32)  NOT NULL,
    address  VARCHAR(320) NOT NULL,
    enabled  TINYINT(1)   NOT NULL DEFAULT 1,
    UNIQUE KEY uq_preference (owner_id, channel, address)
)`, `
CREATE TABLE IF NOT EXISTS status_pages (
    slug        VARCHAR(191) PRIMARY KEY,
    owner_id    VARCHAR(191) NOT NULL,
    title       VARCHAR(255) NOT NULL,
    description TEXT         NOT NULL,
    enabled     TINYINT(1)   NOT NULL DEFAULT 1
)`, `
CREATE TABLE IF NOT EXISTS status_page_items (
    page_slug VARCHAR(191) NOT NULL,
    check_id  VARCHAR(191) NOT NULL,
    position  INT          NOT NULL,
    PRIMARY KEY (page_slug, check_id),
    FOREIGN KEY (page_slug) REFERENCES status_pages(slug) ON DELETE CASCADE
)`,
	},
	lockCheck: `SELECT id FROM checks WHERE id = ? FOR UPDATE`,
	upsertUser: `INSERT INTO users (id, email) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE email = VALUES(email)`,
	upsertChk: `INSERT INTO checks
		(id, owner_id, name, url, method, interval_seconds, timeout_ms, expected_status, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			owner_id = VALUES(owner_id),
			name = VALUES(name),
			url = VALUES(url),
			method = VALUES(method),
			interval_seconds = VALUES(interval_seconds),
			timeout_ms = VALUES(timeout_ms),
			expected_status = VALUES(expected_status),
			enabled = VALUES(enabled)`,
	upsertPref: `INSERT INTO notification_preferences (owner_id, channel, address, enabled)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE enabled = VALUES(enabled)`,
	upsertPage: `INSERT INTO status_pages (slug, owner_id, title, description, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			owner_id = VALUES(owner_id),
			title = VALUES(title),
			description = VALUES(description),
			enabled = VALUES(enabled)`,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "":
		return sqliteDialect, nil
	case "mysql":
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
	}
}
