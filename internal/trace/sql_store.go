package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLStore is the relational alternative to BoltStore, satisfying the
// "JSONL or relational row writes" wording of the persistence contract. It
// stores the full RunTrace as a JSON blob column alongside a handful of
// indexed scalar columns, the layout aladin2907-overhuman uses for its
// pure-Go sqlite persistence.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) a SQLite database at path using the
// CGO-free modernc.org/sqlite driver.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trace: open sqlite: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		budget_dollars REAL NOT NULL,
		total_cost_dollars REAL NOT NULL,
		timestamp_unix INTEGER NOT NULL,
		payload_json TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// PutRun upserts rt by run_id.
func (s *SQLStore) PutRun(ctx context.Context, rt RunTrace) error {
	payload, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("trace: marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs (run_id, task, budget_dollars, total_cost_dollars, timestamp_unix, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET task=excluded.task, budget_dollars=excluded.budget_dollars,
			total_cost_dollars=excluded.total_cost_dollars, timestamp_unix=excluded.timestamp_unix, payload_json=excluded.payload_json`,
		rt.RunID, rt.Task, rt.BudgetDollars, rt.TotalCostDollars, rt.Timestamp.Unix(), string(payload))
	if err != nil {
		return fmt.Errorf("trace: write run: %w", err)
	}
	return nil
}

// GetRun retrieves a trace by run_id.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (RunTrace, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload_json FROM runs WHERE run_id = ?`, runID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return RunTrace{}, false, nil
		}
		return RunTrace{}, false, fmt.Errorf("trace: read run: %w", err)
	}
	var rt RunTrace
	if err := json.Unmarshal([]byte(payload), &rt); err != nil {
		return RunTrace{}, false, fmt.Errorf("trace: decode run: %w", err)
	}
	return rt, true, nil
}

// ListRuns returns traces ordered by timestamp descending, paginated.
func (s *SQLStore) ListRuns(ctx context.Context, limit, offset int) ([]RunTrace, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT payload_json FROM runs ORDER BY timestamp_unix DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("trace: list runs: %w", err)
	}
	defer rows.Close()
	var out []RunTrace
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("trace: scan run: %w", err)
		}
		var rt RunTrace
		if err := json.Unmarshal([]byte(payload), &rt); err != nil {
			continue
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
