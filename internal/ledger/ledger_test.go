package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/callcatcherops/autonomy/internal/bus"
	"github.com/callcatcherops/autonomy/internal/store"
)

func TestLogWritesAllSinks(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "autonomy.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	auditPath := filepath.Join(dir, "logs", "audit.jsonl")
	f, err := OpenAuditFile(auditPath)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	mem := bus.NewMemoryBus()
	l := New(st, WithAuditFile(f), WithPublisher(mem, "autonomy.ledger")).WithRun("run-1")
	ctx := context.Background()

	if err := l.LogAction(ctx, AgentSequencer, ActionSkip, "a@acme.com", "", "cooldown_active", map[string]any{"channel": "voice"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	e, err := l.Log(ctx, store.LedgerEntry{AgentID: AgentSequencer, ActionType: ActionDispatch, LeadID: "b@acme.com", Channel: store.ChannelEmail})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if e.ID == "" || e.RunID != "run-1" {
		t.Fatalf("entry not stamped: %+v", e)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Entries(ctx, store.LedgerFilter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 || entries[0].ReasonCode != "cooldown_active" || entries[1].ActionType != ActionDispatch {
		t.Fatalf("unexpected entries %+v", entries)
	}

	af, err := os.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	defer af.Close()
	var lines int
	sc := bufio.NewScanner(af)
	for sc.Scan() {
		var got store.LedgerEntry
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("audit line not JSON: %v", err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("audit lines = %d", lines)
	}

	if msgs := mem.Messages("autonomy.ledger"); len(msgs) != 2 || string(msgs[0].Key) != "a@acme.com" {
		t.Fatalf("published = %+v", msgs)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte, []byte) error { return os.ErrClosed }
func (failingPublisher) Close() error                                          { return nil }

func TestLogPublishFailureIsNotFatal(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "autonomy.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	l := New(st, WithPublisher(failingPublisher{}, "t"))
	if err := l.LogAction(context.Background(), AgentIngest, ActionIngest, "", "", "invalid_input", nil); err != nil {
		t.Fatalf("publish failure must not fail the ledger write: %v", err)
	}
}
