package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrActiveRoundExists is returned when a repository already has a non-finalized round
	ErrActiveRoundExists = errors.New("repository already has an active round")
	// ErrIdentityTaken is returned when a login or ledger address is bound to another member
	ErrIdentityTaken = errors.New("login or ledger address already bound to another member")
	// ErrMemberOwned is returned when rebinding a member that holds a different ledger address
	ErrMemberOwned = errors.New("member is bound to another ledger address")
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the rounds database under dataDir and migrates it
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "contrib_rounds.db")
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 10, 5, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS members (
			username TEXT PRIMARY KEY COLLATE NOCASE,
			login TEXT COLLATE NOCASE UNIQUE,
			ledger_address TEXT COLLATE NOCASE UNIQUE,
			access_token TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repository TEXT NOT NULL COLLATE NOCASE,
			initiator TEXT NOT NULL,
			window_start DATETIME NOT NULL,
			window_end DATETIME NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('open', 'voting', 'finalized')),
			contract_address TEXT COLLATE NOCASE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// at most one non-finalized round per repository
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_active_repository
			ON rounds(repository) WHERE status <> 'finalized'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_contract
			ON rounds(contract_address) WHERE contract_address IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_repository ON rounds(repository, id DESC)`,

		`CREATE TABLE IF NOT EXISTS base_scores (
			round_id INTEGER NOT NULL,
			login TEXT NOT NULL COLLATE NOCASE,
			ledger_address TEXT COLLATE NOCASE,
			code_score INTEGER NOT NULL,
			pr_score INTEGER NOT NULL,
			review_score INTEGER NOT NULL,
			issue_score INTEGER NOT NULL,
			base_score INTEGER NOT NULL CHECK (base_score BETWEEN 0 AND 100),
			lines_changed INTEGER NOT NULL DEFAULT 0,
			commits INTEGER NOT NULL DEFAULT 0,
			prs_created INTEGER NOT NULL DEFAULT 0,
			prs_merged INTEGER NOT NULL DEFAULT 0,
			reviews INTEGER NOT NULL DEFAULT 0,
			issues_on_time INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (round_id, login),
			FOREIGN KEY (round_id) REFERENCES rounds(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS peer_votes (
			round_id INTEGER NOT NULL,
			reviewer TEXT NOT NULL COLLATE NOCASE,
			target TEXT NOT NULL COLLATE NOCASE,
			score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
			created_at DATETIME NOT NULL,
			PRIMARY KEY (round_id, reviewer, target),
			CHECK (reviewer <> target),
			FOREIGN KEY (round_id, target) REFERENCES base_scores(round_id, login) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS final_scores (
			round_id INTEGER NOT NULL,
			login TEXT NOT NULL COLLATE NOCASE,
			ledger_address TEXT COLLATE NOCASE,
			base_score INTEGER NOT NULL,
			peer_score INTEGER NOT NULL,
			final_score INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (round_id, login),
			FOREIGN KEY (round_id) REFERENCES rounds(id) ON DELETE CASCADE
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"get_round_by_contract": `SELECT ` + roundColumns + ` FROM rounds WHERE contract_address = ?`,

		"get_active_round": `SELECT ` + roundColumns + ` FROM rounds
			WHERE repository = ? AND status <> 'finalized'`,

		"upsert_peer_vote": `INSERT INTO peer_votes (round_id, reviewer, target, score, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(round_id, reviewer, target) DO UPDATE SET
			score = excluded.score,
			created_at = excluded.created_at`,

		"upsert_final_score": `INSERT INTO final_scores (round_id, login, ledger_address, base_score, peer_score, final_score, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(round_id, login) DO UPDATE SET
			ledger_address = excluded.ledger_address,
			base_score = excluded.base_score,
			peer_score = excluded.peer_score,
			final_score = excluded.final_score,
			updated_at = excluded.updated_at
			WHERE final_scores.ledger_address IS NOT excluded.ledger_address
				OR final_scores.base_score <> excluded.base_score
				OR final_scores.peer_score <> excluded.peer_score
				OR final_scores.final_score <> excluded.final_score`,

		"upsert_member": `INSERT INTO members (username, login, ledger_address, access_token, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
			login = COALESCE(excluded.login, members.login),
			ledger_address = COALESCE(excluded.ledger_address, members.ledger_address),
			access_token = COALESCE(excluded.access_token, members.access_token),
			updated_at = excluded.updated_at
			WHERE members.ledger_address IS NULL
				OR excluded.ledger_address IS NULL
				OR lower(members.ledger_address) = lower(excluded.ledger_address)`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}

	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
