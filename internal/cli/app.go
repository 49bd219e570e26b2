package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/callcatcherops/autonomy/internal/bus"
	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/store"
)

// app holds the opened collaborators for one command invocation.
type app struct {
	cfg    *config.Config
	store  *store.Store
	ledger *ledger.Logger
	pub    bus.Publisher
}

func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openApp opens the store and the ledger sinks: the audit file when
// configured and the Kafka ledger topic when brokers are set.
func openApp(cfg *config.Config) (*app, error) {
	if err := config.EnsureDir(cfg.Paths.DBPath); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st}

	var opts []ledger.Option
	if cfg.Paths.AuditLogPath != "" {
		f, err := ledger.OpenAuditFile(cfg.Paths.AuditLogPath)
		if err != nil {
			st.Close()
			return nil, err
		}
		opts = append(opts, ledger.WithAuditFile(f))
	}
	if cfg.Kafka.Enabled() {
		a.pub = bus.NewKafkaPublisher(cfg.Kafka)
		if cfg.Kafka.LedgerTopic != "" {
			opts = append(opts, ledger.WithPublisher(a.pub, cfg.Kafka.LedgerTopic))
		}
	}
	a.ledger = ledger.New(st, opts...)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.pub != nil {
		errs = append(errs, a.pub.Close())
	}
	errs = append(errs, a.store.Close())
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Close failed", "error", err)
		return err
	}
	return nil
}
