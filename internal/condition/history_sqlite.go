package condition

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TriggerRecord is one persisted rule firing.
type TriggerRecord struct {
	RuleID      string
	Indicator   string
	Value       string
	Threshold   string
	TriggeredAt time.Time
}

// HistoryStore persists rule triggers so budgets survive restarts and
// firings are auditable.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens (and if needed initializes) the trigger history
// database.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS trigger_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		indicator TEXT NOT NULL,
		value TEXT NOT NULL,
		threshold TEXT NOT NULL,
		triggered_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trigger_history_rule ON trigger_history(rule_id)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Record appends one trigger.
func (s *HistoryStore) Record(ctx context.Context, rec *TriggerRecord) error {
	query := `INSERT INTO trigger_history (rule_id, indicator, value, threshold, triggered_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.RuleID, rec.Indicator, rec.Value, rec.Threshold, rec.TriggeredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record trigger: %w", err)
	}
	return nil
}

// CountForRule returns how many times a rule has fired.
func (s *HistoryStore) CountForRule(ctx context.Context, ruleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trigger_history WHERE rule_id = ?`, ruleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count triggers: %w", err)
	}
	return n, nil
}

// RecentForRule returns the latest firings of one rule, newest first.
func (s *HistoryStore) RecentForRule(ctx context.Context, ruleID string, limit int) ([]TriggerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id, indicator, value, threshold, triggered_at
		 FROM trigger_history WHERE rule_id = ? ORDER BY triggered_at DESC LIMIT ?`,
		ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var rec TriggerRecord
		var ts int64
		if err := rows.Scan(&rec.RuleID, &rec.Indicator, &rec.Value, &rec.Threshold, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		rec.TriggeredAt = time.UnixMilli(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
