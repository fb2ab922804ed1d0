package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roach88/stowaway/internal/config"
	"github.com/roach88/stowaway/internal/connectivity"
	"github.com/roach88/stowaway/internal/engine"
	"github.com/roach88/stowaway/internal/metrics"
	"github.com/roach88/stowaway/internal/record"
	"github.com/roach88/stowaway/internal/remote"
	"github.com/roach88/stowaway/internal/store"
)

// errNoRemote is what sync returns when no remote service is configured.
var errNoRemote = errors.New("no remote configured (set remote.base_url)")

// app is everything a command needs, built from config and flags.
type app struct {
	cfg     *config.Config
	store   *store.Store
	signal  connectivity.Signal
	probe   *connectivity.ProbeSignal // nil without a probe URL or with --offline
	monitor *connectivity.Monitor
	client  *remote.Client[record.Document] // nil without remote.base_url
	metrics *metrics.Metrics
	engine  *engine.Engine[record.Document]
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	return cfg, nil
}

// openApp loads config, opens the store and builds the engine. One probe is
// made so the engine starts with a real connectivity reading.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.SetDefault(newLogger(cfg.Logging, opts.Verbose, logOut))

	var storeOpts []store.Option
	if !cfg.Database.Lock {
		storeOpts = append(storeOpts, store.WithoutLock())
	}
	slog.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path, storeOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{cfg: cfg, store: st, metrics: metrics.New()}

	if cfg.Remote.BaseURL != "" && !opts.Offline {
		a.client = remote.New[record.Document](cfg.Remote.BaseURL, cfg.Remote.APIKey)
		a.client.HTTP = &http.Client{Timeout: cfg.Remote.Timeout}
	}

	if url := cfg.ProbeURL(); url != "" && !opts.Offline {
		a.probe = connectivity.NewProbeSignal(url,
			connectivity.WithProbeInterval(cfg.Connectivity.ProbeInterval),
			connectivity.WithProbeTimeout(cfg.Connectivity.ProbeTimeout),
		)
		a.probe.Probe(ctx)
		a.signal = a.probe
	} else {
		a.signal = connectivity.NewManualSignal(false)
	}

	a.monitor = connectivity.NewMonitor(a.signal, st,
		connectivity.WithPollInterval(cfg.Connectivity.PollInterval))
	if err := a.monitor.Refresh(ctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read queue", err)
	}

	policy, err := engine.ParseWritePolicy(cfg.Sync.WritePolicy)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	sync := func(context.Context, []record.Document) error { return errNoRemote }
	engineOpts := []engine.Option{
		engine.WithWritePolicy(policy),
		engine.WithSyncTimeout(cfg.Sync.Timeout),
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxRetries: cfg.Sync.MaxRetries,
			Base:       cfg.Sync.BackoffBase,
			Max:        cfg.Sync.BackoffMax,
		}),
		engine.WithMetrics(a.metrics),
	}
	if a.client != nil {
		sync = a.client.SyncBatch
		if cfg.Sync.TransmitDeletes {
			engineOpts = append(engineOpts, engine.WithDeleter(a.client.DeleteBatch))
		}
	}

	a.engine, err = engine.New[record.Document](st, a.monitor, sync, engineOpts...)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return a, nil
}

// Close releases the store and detaches the monitor.
func (a *app) Close() {
	if a.monitor != nil {
		a.monitor.Close()
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// errorCode maps an error to the JSON error code reported for it.
func errorCode(err error) string {
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrCodeConfig
	case errors.Is(err, store.ErrStorageUnavailable):
		return ErrCodeStorage
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errRecordNotFound):
		return ErrCodeNotFound
	case errors.Is(err, record.ErrMissingID), errors.Is(err, errInvalidInput):
		return ErrCodeInvalidInput
	case errors.Is(err, errNoRemote):
		return ErrCodeNoRemote
	case engine.IsSyncBatchFailed(err):
		return ErrCodeSyncFailed
	}
	return ErrCodeGeneric
}

var (
	errRecordNotFound = errors.New("record not found")
	errInvalidInput   = errors.New("invalid input")
)

func invalidInput(format string, args ...any) error {
	return WrapExitError(ExitCommandError, fmt.Sprintf(format, args...), errInvalidInput)
}
