package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendLedger inserts one ledger entry. Entries are never updated; the table
// rejects UPDATE and DELETE.
func (s *Store) AppendLedger(ctx context.Context, e *LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO ledger (id, run_id, ts, agent_id, action_type, lead_id, channel, step, outcome, reason_code, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, toMillis(e.Timestamp), e.AgentID, e.ActionType, e.LeadID, string(e.Channel),
		e.Step, e.Outcome, e.ReasonCode, meta)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// LedgerFilter narrows LedgerEntries.
type LedgerFilter struct {
	LeadID     string
	RunID      string
	ReasonCode string
	Since      time.Time
	Limit      int
}

// LedgerEntries returns matching entries in append order.
func (s *Store) LedgerEntries(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.LeadID != "" {
		where = append(where, "lead_id = ?")
		args = append(args, f.LeadID)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.ReasonCode != "" {
		where = append(where, "reason_code = ?")
		args = append(args, f.ReasonCode)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toMillis(f.Since))
	}
	query := `SELECT id, run_id, ts, agent_id, action_type, lead_id, channel, step, outcome, reason_code, metadata FROM ledger`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var (
			e             LedgerEntry
			ts            int64
			channel, meta string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &e.AgentID, &e.ActionType, &e.LeadID, &channel,
			&e.Step, &e.Outcome, &e.ReasonCode, &meta); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		e.Channel = Channel(channel)
		e.Metadata = decodeMetadata(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}
