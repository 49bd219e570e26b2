package inbound

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/callcatcherops/autonomy/internal/bus"
	"github.com/callcatcherops/autonomy/internal/config"
)

// Source yields signals collected since the last fetch.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Signal, error)
}

// FileSource reads a JSONL drop file written by external collectors (inbox
// pollers, webhook receivers). The file is renamed aside before it is read
// so writers can keep appending to a fresh one.
type FileSource struct {
	path string
	now  func() time.Time
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (f *FileSource) Name() string { return "file" }

// Fetch returns the signals in the drop file. A missing file yields none.
// Malformed lines are logged and skipped.
func (f *FileSource) Fetch(ctx context.Context) ([]Signal, error) {
	claimed := fmt.Sprintf("%s.%d.done", f.path, f.now().UnixNano())
	if err := os.Rename(f.path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim drop file: %w", err)
	}
	file, err := os.Open(claimed)
	if err != nil {
		return nil, fmt.Errorf("open drop file: %w", err)
	}
	defer file.Close()

	var out []Signal
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var s Signal
		if err := json.Unmarshal(raw, &s); err != nil {
			slog.Warn("inbound: skipping malformed signal", "file", claimed, "line", line, "error", err)
			continue
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read drop file: %w", err)
	}
	return out, nil
}

// KafkaSource drains the signals topic.
type KafkaSource struct {
	cfg config.KafkaConfig
}

// NewKafkaSource returns a source over cfg.SignalsTopic.
func NewKafkaSource(cfg config.KafkaConfig) *KafkaSource {
	return &KafkaSource{cfg: cfg}
}

func (k *KafkaSource) Name() string { return "kafka" }

func (k *KafkaSource) Fetch(ctx context.Context) ([]Signal, error) {
	idle := time.Duration(k.cfg.IdleTimeoutSeconds) * time.Second
	if idle <= 0 {
		idle = 3 * time.Second
	}
	var out []Signal
	_, err := bus.Drain(ctx, k.cfg, k.cfg.SignalsTopic, idle, func(m bus.Message) error {
		var s Signal
		if err := json.Unmarshal(m.Value, &s); err != nil {
			return fmt.Errorf("decode signal: %w", err)
		}
		if s.At.IsZero() {
			s.At = m.Time
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// StaticSource returns a fixed slice once. Used by the CLI and tests.
type StaticSource struct {
	Signals []Signal
	done    bool
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(context.Context) ([]Signal, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	return s.Signals, nil
}
