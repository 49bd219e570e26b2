package store

import (
	"context"
	"fmt"
	"time"
)

// ChannelHistory summarizes a lead's outbound history on one channel.
type ChannelHistory struct {
	// Steps counts outbound attempts that reached the carrier; error and
	// failed attempts are not sequence steps.
	Steps          int
	LastOutboundAt time.Time
}

// LeadHistory is the per-lead view the sequencer needs.
type LeadHistory struct {
	Channels    map[Channel]ChannelHistory
	LastReplyAt time.Time
}

// Snapshot is a consistent read of the store taken at run start. Every
// decision within a run is made against the same snapshot.
type Snapshot struct {
	TakenAt time.Time
	Leads   []Lead
	History map[string]LeadHistory
	OptOuts map[string]bool
}

// OptedOut reports whether any contact of the lead is suppressed.
func (s *Snapshot) OptedOut(l Lead) bool {
	for _, c := range l.Contacts() {
		if s.OptOuts[c] {
			return true
		}
	}
	return false
}

// Snapshot reads leads matching q together with their action history and the
// opt-out set inside one transaction.
func (s *Store) Snapshot(ctx context.Context, q LeadQuery) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback()

	taken := q.Now
	if taken.IsZero() {
		taken = s.now()
	}
	snap := &Snapshot{
		TakenAt: taken,
		History: map[string]LeadHistory{},
		OptOuts: map[string]bool{},
	}

	snap.Leads, err = queryLeads(ctx, tx, q)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
	SELECT lead_id, channel,
		COALESCE(SUM(CASE WHEN direction = 'outbound' AND outcome NOT IN ('error', 'failed') THEN 1 ELSE 0 END), 0),
		COALESCE(MAX(CASE WHEN direction = 'outbound' THEN created_at ELSE 0 END), 0),
		COALESCE(MAX(CASE WHEN direction = 'inbound' AND outcome = 'replied' THEN created_at ELSE 0 END), 0)
	FROM actions GROUP BY lead_id, channel`)
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	for rows.Next() {
		var (
			leadID, channel   string
			steps             int
			lastOut, lastRepl int64
		)
		if err := rows.Scan(&leadID, &channel, &steps, &lastOut, &lastRepl); err != nil {
			rows.Close()
			return nil, err
		}
		h := snap.History[leadID]
		if h.Channels == nil {
			h.Channels = map[Channel]ChannelHistory{}
		}
		h.Channels[Channel(channel)] = ChannelHistory{Steps: steps, LastOutboundAt: fromMillis(lastOut)}
		if r := fromMillis(lastRepl); r.After(h.LastReplyAt) {
			h.LastReplyAt = r
		}
		snap.History[leadID] = h
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	optRows, err := tx.QueryContext(ctx, `SELECT contact FROM opt_outs`)
	if err != nil {
		return nil, fmt.Errorf("snapshot opt-outs: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var c string
		if err := optRows.Scan(&c); err != nil {
			return nil, err
		}
		snap.OptOuts[c] = true
	}
	if err := optRows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}
