// Package ledger is the append-only audit trail of every outreach decision.
//
// Each entry lands in the store's ledger table first. It is then mirrored as
// a JSON line to the audit file and published to Kafka when configured; those
// mirrors are best-effort.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/callcatcherops/autonomy/internal/bus"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Agent ids.
const (
	AgentSequencer = "agent.sequencer.v1"
	AgentIngest    = "agent.ingest.v1"
	AgentInbound   = "agent.inbound.v1"
	AgentHygiene   = "agent.hygiene.v1"
	AgentOperator  = "agent.operator.v1"
)

// Action types.
const (
	ActionDispatch      = "dispatch"
	ActionSkip          = "skip"
	ActionDispatchError = "dispatch_error"
	ActionIngest        = "ingest"
	ActionInbound       = "inbound"
	ActionHygiene       = "hygiene"
	ActionStopLoss      = "stop_loss"
	ActionOptOut        = "opt_out"
)

// Appender is implemented by *store.Store.
type Appender interface {
	AppendLedger(ctx context.Context, e *store.LedgerEntry) error
	LedgerEntries(ctx context.Context, f store.LedgerFilter) ([]store.LedgerEntry, error)
}

// Logger writes ledger entries.
type Logger struct {
	store Appender
	runID string
	*sinks
}

// sinks are shared between a Logger and its WithRun copies.
type sinks struct {
	mu    sync.Mutex
	audit *os.File
	pub   bus.Publisher
	topic string
}

// Option configures a Logger.
type Option func(*Logger)

// WithAuditFile mirrors entries to a JSONL file.
func WithAuditFile(f *os.File) Option {
	return func(l *Logger) { l.audit = f }
}

// WithPublisher publishes entries to topic.
func WithPublisher(p bus.Publisher, topic string) Option {
	return func(l *Logger) {
		l.pub = p
		l.topic = topic
	}
}

// New returns a Logger over st.
func New(st Appender, opts ...Option) *Logger {
	l := &Logger{store: st, sinks: &sinks{}}
	for _, o := range opts {
		o(l)
	}
	return l
}

// OpenAuditFile opens path for appending, creating parent directories.
func OpenAuditFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, nil
}

// WithRun returns a Logger that stamps entries with runID. It shares the
// underlying sinks.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{store: l.store, runID: runID, sinks: l.sinks}
}

// RunID returns the run this logger stamps.
func (l *Logger) RunID() string { return l.runID }

// Log appends e. Only the store write can fail the call.
func (l *Logger) Log(ctx context.Context, e store.LedgerEntry) (store.LedgerEntry, error) {
	if e.RunID == "" {
		e.RunID = l.runID
	}
	if err := l.store.AppendLedger(ctx, &e); err != nil {
		return e, fmt.Errorf("ledger: %w", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		slog.Warn("ledger: encode entry", "id", e.ID, "error", err)
		return e, nil
	}
	if l.audit != nil {
		l.mu.Lock()
		_, werr := l.audit.Write(append(line, '\n'))
		l.mu.Unlock()
		if werr != nil {
			slog.Warn("ledger: audit file write failed", "error", werr)
		}
	}
	if l.pub != nil && l.topic != "" {
		if perr := l.pub.Publish(ctx, l.topic, []byte(e.LeadID), line); perr != nil {
			slog.Warn("ledger: publish failed", "topic", l.topic, "error", perr)
		}
	}
	return e, nil
}

// LogAction records one decision point.
func (l *Logger) LogAction(ctx context.Context, agentID, actionType, leadID, outcome, reasonCode string, metadata map[string]any) error {
	_, err := l.Log(ctx, store.LedgerEntry{
		AgentID:    agentID,
		ActionType: actionType,
		LeadID:     leadID,
		Outcome:    outcome,
		ReasonCode: reasonCode,
		Metadata:   metadata,
	})
	return err
}

// Entries reads back the ledger.
func (l *Logger) Entries(ctx context.Context, f store.LedgerFilter) ([]store.LedgerEntry, error) {
	return l.store.LedgerEntries(ctx, f)
}

// Close closes the audit file. The publisher is owned by the caller.
func (l *Logger) Close() error {
	if l.audit == nil {
		return nil
	}
	return l.audit.Close()
}
