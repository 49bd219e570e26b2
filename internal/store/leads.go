package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const leadColumns = `id, name, company, service, city, state, phone, email, source, notes, email_method,
	score, status, email_invalid, phone_invalid, created_at, updated_at, last_touched_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		l                             Lead
		status                        string
		created, updated, lastTouched int64
	)
	err := row.Scan(&l.ID, &l.Name, &l.Company, &l.Service, &l.City, &l.State, &l.Phone, &l.Email,
		&l.Source, &l.Notes, &l.EmailMethod, &l.Score, &status, &l.EmailInvalid, &l.PhoneInvalid,
		&created, &updated, &lastTouched)
	if err != nil {
		return Lead{}, err
	}
	l.Status = LeadStatus(status)
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	l.LastTouchedAt = fromMillis(lastTouched)
	return l, nil
}

// UpsertLead inserts a lead or updates its mutable fields. Status, creation
// time and last touch are never changed by re-ingestion. A changed email or
// phone clears the matching invalid flag.
func (s *Store) UpsertLead(ctx context.Context, l Lead) (bool, error) {
	if strings.TrimSpace(l.ID) == "" {
		return false, fmt.Errorf("upsert lead: empty id")
	}
	if l.EmailMethod == "" {
		l.EmailMethod = EmailMethodUnknown
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert lead: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = ?`, l.ID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("upsert lead lookup: %w", err)
	}
	created := err == sql.ErrNoRows

	now := toMillis(s.now())
	_, err = tx.ExecContext(ctx, `
	INSERT INTO leads (id, name, company, service, city, state, phone, email, source, notes, email_method,
		score, status, email_invalid, phone_invalid, created_at, updated_at, last_touched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		company = excluded.company,
		service = excluded.service,
		city = excluded.city,
		state = excluded.state,
		phone = excluded.phone,
		email = excluded.email,
		source = excluded.source,
		notes = excluded.notes,
		email_method = excluded.email_method,
		score = excluded.score,
		email_invalid = CASE WHEN excluded.email != leads.email THEN excluded.email_invalid ELSE leads.email_invalid OR excluded.email_invalid END,
		phone_invalid = CASE WHEN excluded.phone != leads.phone THEN excluded.phone_invalid ELSE leads.phone_invalid OR excluded.phone_invalid END,
		updated_at = excluded.updated_at`,
		l.ID, l.Name, l.Company, l.Service, l.City, l.State, l.Phone, l.Email, l.Source, l.Notes,
		l.EmailMethod, l.Score, string(StatusNew), l.EmailInvalid, l.PhoneInvalid, now, now)
	if err != nil {
		return false, fmt.Errorf("upsert lead: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert lead commit: %w", err)
	}
	return created, nil
}

// GetLead returns the lead and whether it exists.
func (s *Store) GetLead(ctx context.Context, id string) (Lead, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return Lead{}, false, nil
	}
	if err != nil {
		return Lead{}, false, err
	}
	return l, true, nil
}

// FindLeadByContact looks a lead up by normalized email or E.164 phone.
func (s *Store) FindLeadByContact(ctx context.Context, contact string) (Lead, bool, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return Lead{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE id = ? OR email = ? OR phone = ? ORDER BY created_at ASC LIMIT 1`, contact, contact, contact)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return Lead{}, false, nil
	}
	if err != nil {
		return Lead{}, false, err
	}
	return l, true, nil
}

// LeadQuery filters QueryLeads.
type LeadQuery struct {
	Statuses []LeadStatus
	MinScore int
	// ExcludeLocalParts drops leads whose email local part is in the set
	// (role inboxes such as info@ or sales@).
	ExcludeLocalParts []string
	// StaleDays keeps only leads with no outbound action in the last N days.
	StaleDays int
	Now       time.Time
	Limit     int
}

// QueryLeads returns leads ordered by score desc, then id.
func (s *Store) QueryLeads(ctx context.Context, q LeadQuery) ([]Lead, error) {
	return queryLeads(ctx, s.db, q)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryLeads(ctx context.Context, db queryer, q LeadQuery) ([]Lead, error) {
	var (
		where []string
		args  []any
	)
	if len(q.Statuses) > 0 {
		ph := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if q.MinScore > 0 {
		where = append(where, "score >= ?")
		args = append(args, q.MinScore)
	}
	if q.StaleDays > 0 {
		now := q.Now
		if now.IsZero() {
			now = time.Now()
		}
		cutoff := now.Add(-time.Duration(q.StaleDays) * 24 * time.Hour)
		where = append(where, `NOT EXISTS (SELECT 1 FROM actions a
			WHERE a.lead_id = leads.id AND a.direction = 'outbound' AND a.created_at >= ?)`)
		args = append(args, toMillis(cutoff))
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY score DESC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	excluded := make(map[string]bool, len(q.ExcludeLocalParts))
	for _, lp := range q.ExcludeLocalParts {
		excluded[strings.ToLower(lp)] = true
	}

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		if len(excluded) > 0 && l.Email != "" {
			if at := strings.IndexByte(l.Email, '@'); at > 0 && excluded[l.Email[:at]] {
				continue
			}
		}
		out = append(out, l)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, rows.Err()
}

// SetLeadStatus moves a lead to a new status, enforcing the lifecycle.
func (s *Store) SetLeadStatus(ctx context.Context, id string, to LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var from string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM leads WHERE id = ?`, id).Scan(&from)
	if err == sql.ErrNoRows {
		return ErrLeadNotFound
	}
	if err != nil {
		return err
	}
	if !CanTransition(LeadStatus(from), to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if LeadStatus(from) == to {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), toMillis(s.now()), id)
	return err
}

// MarkContactInvalid flags the contact method a channel depends on.
func (s *Store) MarkContactInvalid(ctx context.Context, id string, ch Channel) error {
	col := "phone_invalid"
	if ch == ChannelEmail {
		col = "email_invalid"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE leads SET `+col+` = 1, updated_at = ? WHERE id = ?`,
		toMillis(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// TouchLead records the time of the latest outbound contact attempt.
func (s *Store) TouchLead(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE leads SET last_touched_at = MAX(last_touched_at, ?), updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// CountLeadsByStatus returns lead counts keyed by status.
func (s *Store) CountLeadsByStatus(ctx context.Context) (map[LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[LeadStatus]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[LeadStatus(st)] = n
	}
	return out, rows.Err()
}
