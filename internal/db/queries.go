package db

import (
	"database/sql"
	"fmt"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Seq       int
	Kind      string
	Payload   string
	Timestamp string
}

// StageUsage represents a row in the stage_usage table.
type StageUsage struct {
	ID        int
	RunID     string
	OrgID     string
	Stage     string
	Tokens    int
	CostUSD   float64
	Timestamp string
}

// AppendRunEvent inserts a run event. The (run_id, seq) pair is unique; a
// replayed insert after a crash is reported as a conflict by SQLite and
// treated as already-recorded.
func (d *DB) AppendRunEvent(runID string, seq int, kind string, payload string) error {
	_, err := d.conn.Exec(
		`INSERT OR IGNORE INTO run_events (run_id, seq, kind, payload) VALUES (?, ?, ?, ?)`,
		runID, seq, kind, payload,
	)
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

// GetRunEvents returns all events for a run with seq >= fromSeq, in sequence order.
func (d *DB) GetRunEvents(runID string, fromSeq int) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, seq, kind, payload, timestamp
		 FROM run_events WHERE run_id = ? AND seq >= ? ORDER BY seq ASC`,
		runID, fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Kind, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastSeq returns the highest sequence number recorded for a run, or -1 if
// the run has no events.
func (d *DB) LastSeq(runID string) (int, error) {
	var seq sql.NullInt64
	err := d.conn.QueryRow(
		`SELECT MAX(seq) FROM run_events WHERE run_id = ?`, runID,
	).Scan(&seq)
	if err != nil {
		return -1, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return int(seq.Int64), nil
}

// RecordStageUsage inserts a token/cost accounting row for a completed stage.
func (d *DB) RecordStageUsage(runID, orgID, stage string, tokens int, costUSD float64) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_usage (run_id, org_id, stage, tokens, cost_usd) VALUES (?, ?, ?, ?, ?)`,
		runID, orgID, stage, tokens, costUSD,
	)
	if err != nil {
		return fmt.Errorf("record stage usage: %w", err)
	}
	return nil
}

// OrgUsageTotals returns the aggregate token and cost totals for an org.
func (d *DB) OrgUsageTotals(orgID string) (tokens int, costUSD float64, err error) {
	err = d.conn.QueryRow(
		`SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost_usd), 0) FROM stage_usage WHERE org_id = ?`,
		orgID,
	).Scan(&tokens, &costUSD)
	if err != nil {
		return 0, 0, fmt.Errorf("org usage totals: %w", err)
	}
	return tokens, costUSD, nil
}

// RecordRunStart inserts a run-start accounting row for quota tracking.
func (d *DB) RecordRunStart(runID, orgID string) error {
	_, err := d.conn.Exec(
		`INSERT OR IGNORE INTO run_starts (run_id, org_id) VALUES (?, ?)`,
		runID, orgID,
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// CountRunStarts returns the number of runs an org has started in the
// current calendar month (UTC).
func (d *DB) CountRunStarts(orgID string) (int, error) {
	var count int
	err := d.conn.QueryRow(
		`SELECT COUNT(*) FROM run_starts
		 WHERE org_id = ? AND timestamp >= datetime('now', 'start of month')`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count run starts: %w", err)
	}
	return count, nil
}
