package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/provider"
	"github.com/loykin/keepalive/internal/store"
	"github.com/loykin/keepalive/internal/sweep"
)

// Engine is the part of sweep.Engine the control surface drives.
type Engine interface {
	Start() bool
	Stop() error
	Running() bool
	Interval() time.Duration
	SetInterval(ctx context.Context, minutes int) error
	SweepNow(ctx context.Context) sweep.Result
}

var _ Engine = (*sweep.Engine)(nil)

// ResourceStatus is one registered resource as reported by Status.
type ResourceStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	State        string     `json:"state,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
	AddedBy      string     `json:"added_by"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// StatsView combines persisted statistics with live engine state.
type StatsView struct {
	store.Stats
	RegisteredResources int  `json:"registered_resources"`
	EngineRunning       bool `json:"engine_running"`
	IntervalMinutes     int  `json:"interval_minutes"`
}

type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Surface implements the user-facing operations. Every call except Join is
// restricted to identities in the admin set.
type Surface struct {
	reg      *store.Registry
	provider provider.Client
	engine   Engine
	logger   *slog.Logger
	now      func() time.Time
}

func New(reg *store.Registry, p provider.Client, engine Engine, cfg Config) *Surface {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Surface{
		reg:      reg,
		provider: p,
		engine:   engine,
		logger:   cfg.Logger.With("component", "control"),
		now:      cfg.Now,
	}
}

// Join adds identity to the admin set. The bool reports whether it was new.
func (s *Surface) Join(ctx context.Context, identity string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, errdefs.Invalid("identity required")
	}
	added, err := s.reg.AddAdmin(ctx, identity)
	if err != nil {
		return false, err
	}
	if added {
		s.logger.Info("Admin joined", "identity", identity)
	}
	return added, nil
}

func (s *Surface) authorize(ctx context.Context, caller string) error {
	if strings.TrimSpace(caller) == "" {
		return fmt.Errorf("%w: missing identity", errdefs.ErrUnauthorized)
	}
	ok, err := s.reg.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not an admin", errdefs.ErrUnauthorized, caller)
	}
	return nil
}

// Add resolves term against the provider and registers the resource. An exact
// id or name match wins; otherwise the first case-insensitive substring match
// on name or display name; otherwise term is tried as a literal id. The engine
// is started if it is idle.
func (s *Surface) Add(ctx context.Context, caller, term string) (store.ResourceRecord, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return store.ResourceRecord{}, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return store.ResourceRecord{}, errdefs.Invalid("search term required")
	}

	info, err := s.resolve(ctx, term)
	if err != nil {
		return store.ResourceRecord{}, err
	}

	var rec store.ResourceRecord
	err = s.reg.Update(ctx, func(snap *store.Snapshot) error {
		rec = store.ResourceRecord{
			ID:          info.ID,
			Name:        info.Name,
			DisplayName: info.DisplayName,
			AddedAt:     s.now().UTC(),
			AddedBy:     caller,
		}
		if prev, ok := snap.Resources[info.ID]; ok {
			rec.AddedAt = prev.AddedAt
			rec.LastAccessAt = prev.LastAccessAt
		}
		snap.Resources[info.ID] = rec
		return nil
	})
	if err != nil {
		return store.ResourceRecord{}, err
	}
	s.logger.Info("Resource added", "resource", rec.ID, "by", caller, "state", info.State)

	if s.engine.Start() {
		s.logger.Info("Engine started by add")
	}
	return rec, nil
}

func (s *Surface) resolve(ctx context.Context, term string) (provider.ResourceInfo, error) {
	all, listErr := s.provider.ListResources(ctx)
	if listErr == nil {
		for _, r := range all {
			if r.ID == term || strings.EqualFold(r.Name, term) {
				return r, nil
			}
		}
		for _, r := range all {
			if provider.Match(r, term) {
				return r, nil
			}
		}
	} else {
		s.logger.Warn("Listing resources failed, trying literal id", "error", listErr)
	}

	info, err := s.provider.GetResource(ctx, term)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, errdefs.ErrNotFound):
		if listErr != nil {
			return provider.ResourceInfo{}, listErr
		}
		return provider.ResourceInfo{}, fmt.Errorf("no resource matches %q: %w", term, errdefs.ErrNotFound)
	default:
		return provider.ResourceInfo{}, err
	}
}

// Remove unregisters id. Removing an unknown id succeeds; the bool reports
// whether anything was removed.
func (s *Surface) Remove(ctx context.Context, caller, id string) (bool, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errdefs.Invalid("resource id required")
	}
	if !validResourceID(id) {
		return false, errdefs.Invalid("invalid resource id %q", id)
	}
	removed, err := s.reg.DeleteResource(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("Resource removed", "resource", id, "by", caller)
	}
	return removed, nil
}

// List returns every resource the provider knows about, registered or not.
func (s *Surface) List(ctx context.Context, caller string) ([]provider.ResourceInfo, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.provider.ListResources(ctx)
}

// Status reports each registered resource with its live provider state.
// Provider failures are reported per record.
func (s *Surface) Status(ctx context.Context, caller string) ([]ResourceStatus, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	snap, err := s.reg.Load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snap.Resources))
	for id := range snap.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ResourceStatus, 0, len(ids))
	for _, id := range ids {
		rec := snap.Resources[id]
		st := ResourceStatus{
			ID:           rec.ID,
			Name:         rec.Name,
			DisplayName:  rec.DisplayName,
			AddedAt:      rec.AddedAt,
			AddedBy:      rec.AddedBy,
			LastAccessAt: rec.LastAccessAt,
		}
		info, err := s.provider.GetResource(ctx, id)
		switch {
		case err == nil:
			st.State = info.State
		case errors.Is(err, errdefs.ErrNotFound):
			st.State = string(provider.StateNotFound)
			st.Error = err.Error()
		default:
			st.State = string(provider.StateUnknown)
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out, nil
}

// Stats returns the last sweep statistics plus live state.
func (s *Surface) Stats(ctx context.Context, caller string) (StatsView, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return StatsView{}, err
	}
	snap, err := s.reg.Load(ctx)
	if err != nil {
		return StatsView{}, err
	}
	return StatsView{
		Stats:               snap.Stats,
		RegisteredResources: len(snap.Resources),
		EngineRunning:       s.engine.Running(),
		IntervalMinutes:     int(s.engine.Interval() / time.Minute),
	}, nil
}

func (s *Surface) SetInterval(ctx context.Context, caller string, minutes int) error {
	if err := s.authorize(ctx, caller); err != nil {
		return err
	}
	return s.engine.SetInterval(ctx, minutes)
}

// StartEngine starts the engine; the bool is false when it was already running.
func (s *Surface) StartEngine(ctx context.Context, caller string) (bool, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return false, err
	}
	return s.engine.Start(), nil
}

func (s *Surface) StopEngine(ctx context.Context, caller string) error {
	if err := s.authorize(ctx, caller); err != nil {
		return err
	}
	return s.engine.Stop()
}

// SweepNow runs a sweep immediately unless one is already in progress.
func (s *Surface) SweepNow(ctx context.Context, caller string) (sweep.Result, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return sweep.Result{}, err
	}
	return s.engine.SweepNow(ctx), nil
}

// validResourceID accepts A-Z a-z 0-9 . _ - up to 255 bytes, with no "..".
func validResourceID(s string) bool {
	if s == "" || len(s) > 255 || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
