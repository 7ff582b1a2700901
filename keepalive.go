// Package keepalive wires the sweep engine, its registry and the HTTP control
// API into one embeddable daemon.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/keepalive/internal/config"
	"github.com/loykin/keepalive/internal/control"
	"github.com/loykin/keepalive/internal/history"
	histfactory "github.com/loykin/keepalive/internal/history/factory"
	"github.com/loykin/keepalive/internal/metrics"
	"github.com/loykin/keepalive/internal/provider"
	"github.com/loykin/keepalive/internal/provider/github"
	iapi "github.com/loykin/keepalive/internal/server"
	"github.com/loykin/keepalive/internal/store"
	storefactory "github.com/loykin/keepalive/internal/store/factory"
	"github.com/loykin/keepalive/internal/sweep"
	"github.com/loykin/keepalive/internal/telemetry"
	tlsx "github.com/loykin/keepalive/internal/tls"
)

// Re-export the types embedders need.

type Config = config.Config

type SweepResult = sweep.Result

type ResourceStatus = control.ResourceStatus

// ShutdownTimeout bounds the HTTP drain on Run's exit.
const ShutdownTimeout = 10 * time.Second

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Options override pieces of the stack, mostly for tests.
type Options struct {
	Version    string
	Provider   provider.Client       // replaces the GitHub client
	LogWriter  io.Writer             // terminal log stream; defaults to stderr
	Registerer prometheus.Registerer // defaults to prometheus.DefaultRegisterer
}

// App is a fully wired daemon.
type App struct {
	cfg      *Config
	logger   *slog.Logger
	registry *store.Registry
	engine   *sweep.Engine
	surface  *control.Surface
	router   *iapi.Router
	tracer   *telemetry.Tracer
	sinks    []history.Sink
	closers  []io.Closer
}

// New builds every component from cfg. Bootstrap admins are added and the
// persisted interval is restored; the engine is not started.
func New(ctx context.Context, cfg *Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	w := opts.LogWriter
	if w == nil {
		w = os.Stderr
	}
	logger, logCloser := cfg.Log.NewSloggerTo(w)
	a := &App{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.cfg

	if cfg.Metrics.Enabled {
		r := opts.Registerer
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(r); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	backend, err := storefactory.NewFromDSN(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.registry = store.NewRegistry(backend)
	a.closers = append(a.closers, a.registry)

	for _, id := range cfg.Admins {
		added, err := a.registry.AddAdmin(ctx, id)
		if err != nil {
			return fmt.Errorf("bootstrap admin %s: %w", id, err)
		}
		if added {
			a.logger.Info("Bootstrap admin added", "identity", id)
		}
	}

	prov := opts.Provider
	if prov == nil {
		gc, err := github.New(github.Config{
			Token:        cfg.GitHub.Token,
			BaseURL:      cfg.GitHub.APIURL,
			APIVersion:   cfg.GitHub.APIVersion,
			Timeout:      cfg.GitHub.Timeout,
			TouchTimeout: cfg.GitHub.TouchTimeout,
			TouchGap:     cfg.GitHub.TouchGap,
			Logger:       a.logger,
		})
		if err != nil {
			return err
		}
		prov = gc
	}
	prov = provider.Instrument(prov)

	a.sinks, err = histfactory.NewSinks(cfg.History.DSNs)
	if err != nil {
		return fmt.Errorf("open history sinks: %w", err)
	}

	a.tracer, err = telemetry.New(cfg.Tracing, opts.Version)
	if err != nil {
		return err
	}

	a.engine = sweep.New(a.registry, prov, sweep.Config{
		Interval:      time.Duration(cfg.Engine.IntervalMinutes) * time.Minute,
		StartGrace:    cfg.Engine.StartGrace,
		ResourcePause: cfg.Engine.ResourcePause,
		StopTimeout:   cfg.Engine.StopTimeout,
		Logger:        a.logger,
		Sinks:         a.sinks,
		Tracer:        a.tracer,
	})
	if err := a.engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}

	a.surface = control.New(a.registry, prov, a.engine, control.Config{Logger: a.logger})
	a.router = iapi.NewRouter(a.surface, cfg.Server.BasePath, a.logger)
	return nil
}

func (a *App) Logger() *slog.Logger      { return a.logger }
func (a *App) Engine() *sweep.Engine     { return a.engine }
func (a *App) Surface() *control.Surface { return a.surface }
func (a *App) Handler() http.Handler     { return a.router.Handler() }
func (a *App) Registry() *store.Registry { return a.registry }

// StartIfMonitoring starts the engine when the registry already holds
// resources, mirroring the state before the last shutdown.
func (a *App) StartIfMonitoring(ctx context.Context) (bool, error) {
	snap, err := a.registry.Load(ctx)
	if err != nil {
		return false, err
	}
	if len(snap.Resources) == 0 {
		return false, nil
	}
	return a.engine.Start(), nil
}

// Run serves the HTTP API on ln until ctx is cancelled, then drains requests
// and stops the engine. Close is still the caller's job.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	tlsCfg, err := tlsx.Setup(a.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	started, err := a.StartIfMonitoring(ctx)
	if err != nil {
		return err
	}
	if started {
		a.logger.Info("Engine resumed", "interval", a.engine.Interval().String())
	}

	srv := iapi.NewServer(ln.Addr().String(), a.router)
	srv.TLSConfig = tlsCfg
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening", "addr", ln.Addr().String(), "base", a.cfg.Server.BasePath, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := a.engine.Stop(); err != nil {
		a.logger.Warn("Engine stop incomplete", "error", err)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// ListenAndRun listens on the configured address and calls Run.
func (a *App) ListenAndRun(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
	}
	return a.Run(ctx, ln)
}

// Close stops the engine and releases every resource. Safe on a partly built App.
func (a *App) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Stop())
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.tracer.Shutdown(ctx))
		cancel()
	}
	history.CloseAll(a.sinks)
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
