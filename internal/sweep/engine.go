package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/history"
	"github.com/loykin/keepalive/internal/metrics"
	"github.com/loykin/keepalive/internal/provider"
	"github.com/loykin/keepalive/internal/store"
	"github.com/loykin/keepalive/internal/telemetry"
)

const (
	MinIntervalMinutes     = 5
	MaxIntervalMinutes     = 120
	DefaultIntervalMinutes = 55

	DefaultStartGrace    = 10 * time.Second
	DefaultResourcePause = 5 * time.Second
	DefaultStopTimeout   = 3 * time.Minute
)

// Config tunes the engine. Zero durations take the defaults above; a negative
// StartGrace or ResourcePause disables that wait.
type Config struct {
	Interval      time.Duration
	StartGrace    time.Duration
	ResourcePause time.Duration
	StopTimeout   time.Duration
	Logger        *slog.Logger
	Sinks         []history.Sink
	Tracer        *telemetry.Tracer
	Now           func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	SweepID     string    `json:"sweep_id,omitempty"`
	Skipped     bool      `json:"skipped"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Total       int       `json:"total"`
	Kept        int       `json:"kept"`
	Failed      int       `json:"failed"`
	Pruned      int       `json:"pruned"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Engine periodically sweeps the registry and keeps every resource alive.
// At most one sweep runs at a time; ticks that find one in progress are dropped.
type Engine struct {
	reg      *store.Registry
	provider provider.Client
	cfg      Config
	logger   *slog.Logger
	tracer   *telemetry.Tracer

	busy atomic.Bool

	mu       sync.Mutex
	interval time.Duration
	runCtx   context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight *inflight
}

// inflight tracks the sweep currently running, scheduled or manual.
type inflight struct {
	done   chan struct{}
	cancel context.CancelFunc
}

func New(reg *store.Registry, p provider.Client, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultIntervalMinutes * time.Minute
	}
	if cfg.StartGrace < 0 {
		cfg.StartGrace = 0
	} else if cfg.StartGrace == 0 {
		cfg.StartGrace = DefaultStartGrace
	}
	if cfg.ResourcePause < 0 {
		cfg.ResourcePause = 0
	} else if cfg.ResourcePause == 0 {
		cfg.ResourcePause = DefaultResourcePause
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		reg:      reg,
		provider: p,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "sweep"),
		tracer:   cfg.Tracer,
		interval: cfg.Interval,
	}
}

// Restore adopts the interval persisted in the registry, if one was ever set.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.reg.Load(ctx)
	if err != nil {
		return err
	}
	m := snap.IntervalMinutes
	if m == 0 {
		metrics.SetIntervalMinutes(int(e.Interval() / time.Minute))
		return nil
	}
	if m < MinIntervalMinutes || m > MaxIntervalMinutes {
		e.logger.Warn("Ignoring persisted interval out of range", "minutes", m)
		return nil
	}
	e.mu.Lock()
	e.interval = time.Duration(m) * time.Minute
	e.mu.Unlock()
	metrics.SetIntervalMinutes(m)
	return nil
}

// Start launches the timer loop and an immediate sweep. It reports false when
// the engine was already running.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.runCtx, e.cancel, e.loopDone = ctx, cancel, done
	go e.loop(ctx, e.interval, done)
	metrics.SetEngineRunning(true)
	e.logger.Info("Keep-alive engine started", "interval", e.interval.String())
	return true
}

// Stop halts the timer, cancels any in-flight sweep (scheduled or manual) and
// waits, bounded by StopTimeout, for it to finish its current resource.
// Stopping an idle engine with no sweep in flight is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	running := e.cancel != nil
	if running {
		e.cancel()
	}
	loopDone := e.loopDone
	e.runCtx, e.cancel, e.loopDone = nil, nil, nil
	e.mu.Unlock()

	if running {
		<-loopDone
		metrics.SetEngineRunning(false)
	}

	// The loop is gone, so no new scheduled sweep can begin past this point.
	e.mu.Lock()
	cur := e.inflight
	e.mu.Unlock()
	if cur != nil {
		cur.cancel()
		t := time.NewTimer(e.cfg.StopTimeout)
		defer t.Stop()
		select {
		case <-cur.done:
		case <-t.C:
			e.logger.Warn("Sweep still running after stop timeout", "timeout", e.cfg.StopTimeout.String())
			return fmt.Errorf("sweep did not stop within %s", e.cfg.StopTimeout)
		}
	}
	if running {
		e.logger.Info("Keep-alive engine stopped")
	}
	return nil
}

// Running reports whether the timer loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Interval returns the current check interval.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// SetInterval validates and persists a new interval in minutes. A running
// engine is restarted so the new period takes effect from now.
func (e *Engine) SetInterval(ctx context.Context, minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return errdefs.Invalid("interval must be between %d and %d minutes, got %d",
			MinIntervalMinutes, MaxIntervalMinutes, minutes)
	}
	if err := e.reg.SetInterval(ctx, minutes); err != nil {
		return err
	}
	e.mu.Lock()
	e.interval = time.Duration(minutes) * time.Minute
	running := e.cancel != nil
	e.mu.Unlock()
	metrics.SetIntervalMinutes(minutes)
	e.logger.Info("Check interval updated", "minutes", minutes)

	if running {
		if err := e.Stop(); err != nil {
			// The old sweep is cancelled and still draining; the busy flag
			// keeps the restarted loop from overlapping it.
			e.logger.Warn("Restarting engine with previous sweep still draining", "error", err)
		}
		e.Start()
	}
	return nil
}

// SweepNow runs one sweep synchronously. When a sweep is already in progress
// nothing runs and the result is marked skipped.
func (e *Engine) SweepNow(ctx context.Context) Result {
	if !e.busy.CompareAndSwap(false, true) {
		return Result{Skipped: true}
	}
	e.mu.Lock()
	if e.runCtx != nil {
		ctx = e.runCtx
	}
	e.mu.Unlock()
	ctx, fin := e.beginInflight(ctx)
	defer e.endInflight(fin)
	return e.run(ctx)
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	e.trigger(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.trigger(ctx)
		}
	}
}

// trigger starts a sweep in the background unless one is already active.
func (e *Engine) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Info("Skipping sweep, previous sweep still running")
		metrics.IncSweep("skipped")
		return
	}
	ctx, fin := e.beginInflight(ctx)
	go func() {
		defer e.endInflight(fin)
		e.run(ctx)
	}()
}

// beginInflight registers a sweep that Stop can cancel. The caller must hold
// the busy flag.
func (e *Engine) beginInflight(parent context.Context) (context.Context, *inflight) {
	ctx, cancel := context.WithCancel(parent)
	fin := &inflight{done: make(chan struct{}), cancel: cancel}
	e.mu.Lock()
	e.inflight = fin
	e.mu.Unlock()
	return ctx, fin
}

func (e *Engine) endInflight(fin *inflight) {
	e.mu.Lock()
	if e.inflight == fin {
		e.inflight = nil
	}
	e.mu.Unlock()
	fin.cancel()
	e.busy.Store(false)
	close(fin.done)
}

// run executes one sweep. ctx cancellation is honored between resources only.
func (e *Engine) run(ctx context.Context) Result {
	started := e.cfg.Now()
	res := Result{SweepID: uuid.NewString(), StartedAt: started}
	logger := e.logger.With("sweep_id", res.SweepID)

	snap, err := e.reg.Load(ctx)
	if err != nil {
		logger.Error("Sweep aborted, registry unavailable", "error", err)
		metrics.IncSweep("error")
		res.Error = err.Error()
		res.FinishedAt = e.cfg.Now()
		return res
	}
	ids := make([]string, 0, len(snap.Resources))
	for id := range snap.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	res.Total = len(ids)
	metrics.SetRegisteredResources(len(ids))

	ctx, span := e.tracer.StartSweepSpan(ctx, res.SweepID, len(ids))
	defer span.End()
	if len(ids) == 0 {
		logger.Warn("No resources registered for keep-alive")
	} else {
		logger.Info("Sweep started", "resources", len(ids))
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		step := e.processResource(ctx, res.SweepID, snap.Resources[id], started)
		switch step.outcome {
		case history.OutcomeKept:
			res.Kept++
		case history.OutcomePruned:
			res.Pruned++
		default:
			res.Failed++
		}
		ev := history.Event{
			Type:       history.EventResource,
			OccurredAt: e.cfg.Now().UTC(),
			SweepID:    res.SweepID,
			ResourceID: id,
			Outcome:    step.outcome,
			State:      step.state,
			Started:    step.started,
		}
		if step.err != nil {
			ev.Error = step.err.Error()
		}
		history.Emit(context.WithoutCancel(ctx), logger, e.cfg.Sinks, ev)

		if i < len(ids)-1 {
			if err := sleepCtx(ctx, e.cfg.ResourcePause); err != nil {
				res.Interrupted = true
				break
			}
		}
	}

	res.FinishedAt = e.cfg.Now()
	metrics.ObserveSweepDuration(res.FinishedAt.Sub(started).Seconds())
	outcome := history.SweepCompleted
	if res.Interrupted {
		outcome = history.SweepInterrupted
		metrics.IncSweep("interrupted")
		logger.Info("Sweep interrupted by stop", "kept", res.Kept, "failed", res.Failed, "pruned", res.Pruned)
	} else {
		finished := res.FinishedAt.UTC()
		err := e.reg.UpdateStats(context.WithoutCancel(ctx), func(s *store.Stats) {
			s.TotalChecks++
			s.SuccessfulKeeps = res.Kept
			s.FailedAttempts = res.Failed
			s.LastCheckAt = &finished
			s.ResourceCount = res.Total
		})
		if err != nil {
			logger.Error("Failed to record sweep statistics", "error", err)
			metrics.IncSweep("error")
			res.Error = err.Error()
			telemetry.RecordError(span, err)
		} else {
			metrics.IncSweep("completed")
			telemetry.RecordSuccess(span)
		}
		logger.Info("Sweep completed",
			"kept", res.Kept, "failed", res.Failed, "pruned", res.Pruned, "total", res.Total,
			"duration", res.FinishedAt.Sub(started).String())
	}
	ev := history.Event{
		Type:       history.EventSweep,
		OccurredAt: res.FinishedAt.UTC(),
		SweepID:    res.SweepID,
		Outcome:    outcome,
		Kept:       res.Kept,
		Failed:     res.Failed,
		Pruned:     res.Pruned,
		Total:      res.Total,
		Error:      res.Error,
	}
	history.Emit(context.WithoutCancel(ctx), logger, e.cfg.Sinks, ev)
	return res
}

type stepResult struct {
	outcome string
	state   string
	started bool
	err     error
}

// processResource drives one resource through lookup, optional start and
// touch. The step runs to completion even if the sweep is being stopped.
func (e *Engine) processResource(ctx context.Context, sweepID string, rec store.ResourceRecord, at time.Time) (r stepResult) {
	ctx, span := e.tracer.StartResourceSpan(context.WithoutCancel(ctx), sweepID, rec.ID)
	defer span.End()
	logger := e.logger.With("sweep_id", sweepID, "resource", rec.ID)

	defer func() {
		if p := recover(); p != nil {
			r = stepResult{outcome: history.OutcomeFailed, state: r.state, err: fmt.Errorf("panic: %v", p)}
			logger.Error("Resource step panicked", "panic", p)
		}
		metrics.IncResourceOutcome(r.outcome)
		if r.err != nil {
			telemetry.RecordError(span, r.err)
		} else {
			telemetry.RecordSuccess(span)
		}
	}()

	info, err := e.provider.GetResource(ctx, rec.ID)
	if errors.Is(err, errdefs.ErrNotFound) {
		r.outcome, r.state = history.OutcomePruned, string(provider.StateNotFound)
		if _, derr := e.reg.DeleteResource(ctx, rec.ID); derr != nil {
			logger.Error("Failed to remove missing resource", "error", derr)
			r.err = derr
			return r
		}
		logger.Warn("Resource not found, removed from registry")
		return r
	}
	if err != nil {
		logger.Warn("Failed to query resource", "error", err)
		return stepResult{outcome: history.OutcomeFailed, err: err}
	}
	r.state = info.State
	logger.Info("Resource state", "state", info.State)

	if provider.Classify(info.State) == provider.StateStopped {
		logger.Info("Starting stopped resource")
		if err := e.provider.StartResource(ctx, rec.ID); err != nil {
			logger.Warn("Failed to start resource", "error", err)
		} else {
			r.started = true
			_ = sleepCtx(ctx, e.cfg.StartGrace)
		}
	}

	if err := e.provider.TouchResource(ctx, rec.ID); err != nil {
		logger.Warn("Failed to keep resource alive", "error", err)
		r.outcome, r.err = history.OutcomeFailed, err
		return r
	}
	r.outcome = history.OutcomeKept
	logger.Info("Resource kept alive")

	found, err := e.reg.MarkAccessed(ctx, rec.ID, at)
	switch {
	case err != nil:
		logger.Error("Failed to record access time", "error", err)
	case !found:
		logger.Info("Resource removed during sweep, access time not recorded")
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
