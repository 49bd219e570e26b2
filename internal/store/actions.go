package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordAction appends an immutable action. The lead must exist.
func (s *Store) RecordAction(ctx context.Context, a Action) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.Direction == "" {
		a.Direction = Outbound
	}
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = ?`, a.LeadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("record action for %q: %w", a.LeadID, ErrLeadNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("record action lookup: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO actions (id, lead_id, run_id, channel, direction, step, outcome, created_at, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeadID, a.RunID, string(a.Channel), string(a.Direction), a.Step, a.Outcome,
		toMillis(a.CreatedAt), meta)
	if err != nil {
		return "", fmt.Errorf("record action: %w", err)
	}
	return a.ID, nil
}

// ListActions returns a lead's actions, oldest first.
func (s *Store) ListActions(ctx context.Context, leadID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, lead_id, run_id, channel, direction, step, outcome, created_at, metadata
	FROM actions WHERE lead_id = ? ORDER BY created_at ASC, id ASC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

// ListRunActions returns the actions recorded under one run id.
func (s *Store) ListRunActions(ctx context.Context, runID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, lead_id, run_id, channel, direction, step, outcome, created_at, metadata
	FROM actions WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]Action, error) {
	var out []Action
	for rows.Next() {
		var (
			a                        Action
			channel, direction, meta string
			created                  int64
		)
		if err := rows.Scan(&a.ID, &a.LeadID, &a.RunID, &channel, &direction, &a.Step, &a.Outcome, &created, &meta); err != nil {
			return nil, err
		}
		a.Channel = Channel(channel)
		a.Direction = Direction(direction)
		a.CreatedAt = fromMillis(created)
		a.Metadata = decodeMetadata(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ChannelStats summarizes recent deliverability for one channel.
type ChannelStats struct {
	Outbound int // outbound attempts in the window
	Failures int // failed outbound attempts plus inbound bounces
}

// ChannelStats counts outbound attempts since the cutoff and how many of them
// failed. failureOutcomes are outbound outcomes that count as failures;
// inbound bounces always count.
func (s *Store) ChannelStats(ctx context.Context, ch Channel, since time.Time, failureOutcomes []string) (ChannelStats, error) {
	args := []any{}
	failExpr := "0"
	if len(failureOutcomes) > 0 {
		ph := make([]string, len(failureOutcomes))
		for i, o := range failureOutcomes {
			ph[i] = "?"
			args = append(args, o)
		}
		failExpr = "direction = 'outbound' AND outcome IN (" + strings.Join(ph, ",") + ")"
	}
	query := `
	SELECT
		COALESCE(SUM(CASE WHEN direction = 'outbound' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN ` + failExpr + ` THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN direction = 'inbound' AND outcome = 'bounced' THEN 1 ELSE 0 END), 0)
	FROM actions WHERE channel = ? AND created_at >= ?`
	args = append(args, string(ch), toMillis(since))

	var st ChannelStats
	var bounces int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Outbound, &st.Failures, &bounces); err != nil {
		return ChannelStats{}, fmt.Errorf("channel stats %s: %w", ch, err)
	}
	st.Failures += bounces
	return st, nil
}

// CountInboundOutcomes counts inbound actions created at or after since,
// keyed by outcome.
func (s *Store) CountInboundOutcomes(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT outcome, COUNT(*) FROM actions
	WHERE direction = 'inbound' AND created_at >= ? GROUP BY outcome`, toMillis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}
