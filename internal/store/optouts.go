package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AddOptOut suppresses a contact permanently. It reports whether the record
// is new; an existing opt-out is never overwritten.
func (s *Store) AddOptOut(ctx context.Context, contact, source string) (bool, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return false, fmt.Errorf("add opt-out: empty contact")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO opt_outs (contact, source, created_at) VALUES (?, ?, ?)
		ON CONFLICT(contact) DO NOTHING`, contact, source, toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("add opt-out: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsOptedOut reports whether any of the given contacts is suppressed.
func (s *Store) IsOptedOut(ctx context.Context, contacts ...string) (bool, error) {
	for _, c := range contacts {
		if c == "" {
			continue
		}
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM opt_outs WHERE contact = ?`, c).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("opt-out lookup: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// ListOptOuts returns all opt-outs, newest first.
func (s *Store) ListOptOuts(ctx context.Context) ([]OptOut, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact, source, created_at FROM opt_outs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OptOut
	for rows.Next() {
		var (
			o       OptOut
			created int64
		)
		if err := rows.Scan(&o.Contact, &o.Source, &created); err != nil {
			return nil, err
		}
		o.CreatedAt = fromMillis(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SignalSeen reports whether an inbound signal id was already applied.
func (s *Store) SignalSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM signals_seen WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("signal seen: %w", err)
	}
	return true, nil
}

// MarkSignalSeen records an inbound signal id and reports whether it was new.
func (s *Store) MarkSignalSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO signals_seen (id, seen_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`, id, toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("mark signal seen: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
