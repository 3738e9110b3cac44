// Package persistence provides SQLite-based session state storage.
// Every mutation runs inside one immediate transaction so the round/phase
// it was validated against cannot change before it commits.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/talgya/war-room/internal/game"
)

const territoryCacheSize = 4096

// DB wraps a SQLite connection for session state persistence.
type DB struct {
	conn *sqlx.DB

	// Territory reference rows never change once seeded.
	territories *lru.Cache[string, game.Territory]

	// RetryBase and MaxRetries bound the backoff used when SQLite reports
	// the database busy.
	RetryBase  time.Duration
	MaxRetries uint64
}

// Open opens or creates a SQLite database at the given path.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	params := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	conn, err := sqlx.Open("sqlite", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; an in-memory database also only exists on a
	// single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	cache, err := lru.New[string, game.Territory](territoryCacheSize)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("territory cache: %w", err)
	}

	db := &DB{
		conn:        conn,
		territories: cache,
		RetryBase:   10 * time.Millisecond,
		MaxRetries:  5,
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying handle for maintenance tooling and tests.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scenario TEXT NOT NULL,
		max_players INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('LOBBY', 'ACTIVE', 'FINISHED')),
		round INTEGER NOT NULL DEFAULT 1 CHECK (round >= 1),
		phase TEXT NOT NULL DEFAULT 'ECONOMY',
		created_at DATETIME NOT NULL,
		started_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS players (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		display_name TEXT NOT NULL,
		is_host INTEGER NOT NULL DEFAULT 0,
		current_nation TEXT,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, id)
	);

	CREATE TABLE IF NOT EXISTS factions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		nation_key TEXT NOT NULL,
		oil INTEGER NOT NULL DEFAULT 0 CHECK (oil >= 0),
		iron INTEGER NOT NULL DEFAULT 0 CHECK (iron >= 0),
		osr INTEGER NOT NULL DEFAULT 0 CHECK (osr >= 0),
		homeland_status TEXT,
		UNIQUE (session_id, nation_key)
	);

	CREATE TABLE IF NOT EXISTS player_nations (
		session_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		nation_key TEXT NOT NULL,
		PRIMARY KEY (session_id, nation_key),
		FOREIGN KEY (session_id, player_id) REFERENCES players(session_id, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS territories (
		scenario TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		oil INTEGER NOT NULL,
		iron INTEGER NOT NULL,
		osr INTEGER NOT NULL,
		embattled_oil INTEGER NOT NULL,
		embattled_iron INTEGER NOT NULL,
		embattled_osr INTEGER NOT NULL,
		PRIMARY KEY (scenario, code)
	);

	CREATE TABLE IF NOT EXISTS territory_control (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		territory_code TEXT NOT NULL,
		nation_key TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (session_id, territory_code)
	);

	CREATE TABLE IF NOT EXISTS nation_phase_state (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		nation_key TEXT NOT NULL,
		round INTEGER NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('DRAFT', 'COMMITTED', 'LOCKED')),
		committed_at DATETIME,
		committed_by TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, nation_key, round, phase)
	);

	CREATE TABLE IF NOT EXISTS game_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		round INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_game_log_session ON game_log(session_id, round, event_type);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_game_log_economy_once
		ON game_log(session_id, round) WHERE event_type = 'ECONOMY_APPLIED';
	CREATE INDEX IF NOT EXISTS idx_control_nation ON territory_control(session_id, nation_key);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// WithTx runs fn inside one immediate transaction. If SQLite reports the
// database busy the whole closure is retried from scratch, so fn must
// re-read anything it depends on.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	backoff := retry.NewExponential(db.RetryBase)
	backoff = retry.WithMaxRetries(db.MaxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := db.runTx(ctx, fn)
		if isBusy(err) {
			slog.Warn("database busy, retrying transaction", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (db *DB) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, db: db}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// Tx is a store transaction. All reads through it see the state the
// transaction will commit against.
type Tx struct {
	tx *sqlx.Tx
	db *DB
}

func now() time.Time {
	return time.Now().UTC()
}
