package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Ledger persists call outcomes in SQLite so separate processes can share
// one sliding window.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger database at dbPath.
func OpenLedger(dbPath string) (*Ledger, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append stores one outcome.
func (l *Ledger) Append(ctx context.Context, o CallOutcome) error {
	success := 0
	if o.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO call_outcomes
		(call_id, recorded_at, success, error, provider, model, cost, tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.CallID, o.Timestamp.UnixNano(), success, o.Error, o.Provider, o.Model, o.Cost, o.Tokens,
	)
	if err != nil {
		return fmt.Errorf("appending outcome: %w", err)
	}
	return nil
}

// Since returns outcomes recorded at or after t, oldest first.
func (l *Ledger) Since(ctx context.Context, t time.Time) ([]CallOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT
		call_id, recorded_at, success, error, provider, model, cost, tokens
		FROM call_outcomes WHERE recorded_at >= ? ORDER BY recorded_at, id`, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []CallOutcome
	for rows.Next() {
		var (
			o          CallOutcome
			callID     sql.NullString
			recordedAt int64
			success    int
			errMsg     sql.NullString
			model      sql.NullString
		)
		if err := rows.Scan(&callID, &recordedAt, &success, &errMsg, &o.Provider, &model, &o.Cost, &o.Tokens); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.CallID = callID.String
		o.Timestamp = time.Unix(0, recordedAt)
		o.Success = success == 1
		o.Error = errMsg.String
		o.Model = model.String
		result = append(result, o)
	}
	return result, rows.Err()
}

// Prune deletes outcomes recorded before t and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM call_outcomes WHERE recorded_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning outcomes: %w", err)
	}
	return res.RowsAffected()
}
