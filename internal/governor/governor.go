// Package governor implements the cross-run stop-loss switch for paid
// channels.
//
// State is an explicit value loaded at run start and saved at run end. A
// blocked governor stays blocked until an operator resets it.
package governor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// ErrStateCorrupt means the persisted state exists but cannot be trusted.
var ErrStateCorrupt = errors.New("stop-loss state corrupt")

// Block reasons.
const (
	ReasonZeroRuns = "zero_outcome_runs"
	ReasonZeroDays = "zero_outcome_days"
	ReasonManual   = "manual"
)

// State is the persisted RunState.
type State struct {
	ZeroOutcomeRuns int       `json:"zero_outcome_runs"`
	Blocked         bool      `json:"blocked"`
	BlockReason     string    `json:"block_reason,omitempty"`
	BlockedAt       time.Time `json:"blocked_at,omitzero"`
	LastOutcomeAt   time.Time `json:"last_outcome_at,omitzero"`
	LastResetAt     time.Time `json:"last_reset_at,omitzero"`
	LastRunAt       time.Time `json:"last_run_at,omitzero"`
	LastRunID       string    `json:"last_run_id,omitempty"`
}

// Load reads state from path. A missing file yields a fresh state.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read stop-loss state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrStateCorrupt, path, err)
	}
	if st.ZeroOutcomeRuns < 0 {
		return State{}, fmt.Errorf("%w: %s: negative zero_outcome_runs", ErrStateCorrupt, path)
	}
	return st, nil
}

// Save writes state atomically.
func Save(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stop-loss state: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write stop-loss state: %w", err)
	}
	return nil
}

// Governor applies the stop-loss thresholds to a State.
type Governor struct {
	enabled           bool
	maxZeroRuns       int
	maxZeroDays       int
	allowFreeChannels bool
}

// New returns a Governor for the stop-loss config group.
func New(cfg config.StopLossConfig) *Governor {
	return &Governor{
		enabled:           cfg.Enabled,
		maxZeroRuns:       cfg.MaxZeroRuns,
		maxZeroDays:       cfg.MaxZeroDays,
		allowFreeChannels: cfg.AllowFreeChannels,
	}
}

// Enabled reports whether the governor is active.
func (g *Governor) Enabled() bool { return g.enabled }

// Allows reports whether ch may be dispatched under st.
func (g *Governor) Allows(st State, ch store.Channel) bool {
	if !g.enabled || !st.Blocked {
		return true
	}
	if ch.Paid() {
		return false
	}
	return g.allowFreeChannels
}

// Complete folds one finished run into the state. A run with business
// outcomes resets the zero-outcome counter but never clears a block.
func (g *Governor) Complete(st State, runID string, outcomes int, now time.Time) State {
	st.LastRunAt = now
	st.LastRunID = runID
	if st.LastOutcomeAt.IsZero() {
		// First run ever: measure the zero-outcome period from here.
		st.LastOutcomeAt = now
	}
	if outcomes > 0 {
		st.ZeroOutcomeRuns = 0
		st.LastOutcomeAt = now
		return st
	}
	st.ZeroOutcomeRuns++
	if !g.enabled || st.Blocked {
		return st
	}
	switch {
	case g.maxZeroRuns > 0 && st.ZeroOutcomeRuns >= g.maxZeroRuns:
		st.block(ReasonZeroRuns, now)
	case g.maxZeroDays > 0 && now.Sub(st.LastOutcomeAt) > time.Duration(g.maxZeroDays)*24*time.Hour:
		st.block(ReasonZeroDays, now)
	}
	return st
}

func (st *State) block(reason string, now time.Time) {
	st.Blocked = true
	st.BlockReason = reason
	st.BlockedAt = now
}

// Reset clears a block and restarts both zero-outcome measures.
func Reset(st State, now time.Time) State {
	st.Blocked = false
	st.BlockReason = ""
	st.BlockedAt = time.Time{}
	st.ZeroOutcomeRuns = 0
	st.LastOutcomeAt = now
	st.LastResetAt = now
	return st
}

// Block sets a manual block.
func Block(st State, now time.Time) State {
	st.block(ReasonManual, now)
	return st
}
