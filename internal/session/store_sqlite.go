package session

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Session is the durable broker attachment.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	LoginAt     time.Time `json:"login_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the session carries a token that has not crossed
// the expiry boundary.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// SQLiteStore persists the broker session across restarts so a fresh login
// is only needed once per trading day.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the session database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping session database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		checksum BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create session schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save writes the session with a checksum, replacing any previous one.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO session (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)`
	if _, err = tx.ExecContext(ctx, query, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write session to db: %w", err)
	}

	return tx.Commit()
}

// Load returns the stored session, or nil when none exists. A checksum
// mismatch is treated as corruption and surfaced as an error.
func (s *SQLiteStore) Load(ctx context.Context) (*Session, error) {
	query := `SELECT data, checksum FROM session WHERE id = 1`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session from db: %w", err)
	}

	computedChecksum := sha256.Sum256([]byte(data))
	if len(storedChecksum) != len(computedChecksum) {
		return nil, fmt.Errorf("checksum length mismatch: expected %d, got %d", len(computedChecksum), len(storedChecksum))
	}
	for i := range computedChecksum {
		if storedChecksum[i] != computedChecksum[i] {
			return nil, fmt.Errorf("checksum verification failed: session corruption detected")
		}
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the stored session.
func (s *SQLiteStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
