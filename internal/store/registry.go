package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Registry is the process-wide gate over a Backend. Every operation holds one
// mutex for its whole load→mutate→save cycle, so helpers never observe each
// other's half-written documents. Callers must not hold the result of Load
// across calls; re-read before mutating.
type Registry struct {
	mu      sync.Mutex
	backend Backend
}

func NewRegistry(b Backend) *Registry {
	return &Registry{backend: b}
}

// Load returns the current snapshot. A missing document yields an empty snapshot.
func (r *Registry) Load(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Save replaces the whole document.
func (r *Registry) Save(ctx context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, s)
}

// Update runs fn against a fresh snapshot and saves the result. If fn returns an
// error nothing is written.
func (r *Registry) Update(ctx context.Context, fn func(*Snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(&s); err != nil {
		return err
	}
	return r.save(ctx, s)
}

// UpsertResource inserts or replaces rec keyed by rec.ID.
func (r *Registry) UpsertResource(ctx context.Context, rec ResourceRecord) error {
	if rec.ID == "" {
		return errors.New("resource id required")
	}
	return r.Update(ctx, func(s *Snapshot) error {
		s.Resources[rec.ID] = rec
		return nil
	})
}

// DeleteResource removes id. Removing an absent id is not an error; the bool
// reports whether a record was actually deleted.
func (r *Registry) DeleteResource(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := r.Update(ctx, func(s *Snapshot) error {
		if _, ok := s.Resources[id]; !ok {
			return errUnchanged
		}
		delete(s.Resources, id)
		removed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return removed, err
}

// MarkAccessed sets LastAccessAt on an existing record. A record removed while a
// sweep was touching it stays removed; the bool reports whether it was found.
func (r *Registry) MarkAccessed(ctx context.Context, id string, at time.Time) (bool, error) {
	err := r.Update(ctx, func(s *Snapshot) error {
		rec, ok := s.Resources[id]
		if !ok {
			return errUnchanged
		}
		t := at.UTC()
		rec.LastAccessAt = &t
		s.Resources[id] = rec
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return err == nil, err
}

// AddAdmin grows the admin set. The bool reports whether identity was new.
func (r *Registry) AddAdmin(ctx context.Context, identity string) (bool, error) {
	if identity == "" {
		return false, errors.New("admin identity required")
	}
	err := r.Update(ctx, func(s *Snapshot) error {
		if s.IsAdmin(identity) {
			return errUnchanged
		}
		s.Admins = append(s.Admins, identity)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return err == nil, err
}

// IsAdmin checks membership against the persisted admin set.
func (r *Registry) IsAdmin(ctx context.Context, identity string) (bool, error) {
	s, err := r.Load(ctx)
	if err != nil {
		return false, err
	}
	return s.IsAdmin(identity), nil
}

// UpdateStats applies fn to the stats block as one write.
func (r *Registry) UpdateStats(ctx context.Context, fn func(*Stats)) error {
	return r.Update(ctx, func(s *Snapshot) error {
		fn(&s.Stats)
		return nil
	})
}

// SetInterval persists the check interval in minutes.
func (r *Registry) SetInterval(ctx context.Context, minutes int) error {
	return r.Update(ctx, func(s *Snapshot) error {
		s.IntervalMinutes = minutes
		return nil
	})
}

// Close releases the backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.Close()
}

// errUnchanged short-circuits Update without writing.
var errUnchanged = errors.New("unchanged")

func (r *Registry) load(ctx context.Context) (Snapshot, error) {
	doc, err := r.backend.Read(ctx)
	if errors.Is(err, ErrNoDocument) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load registry: %w", err)
	}
	if len(doc) == 0 {
		return NewSnapshot(), nil
	}
	return Decode(doc)
}

func (r *Registry) save(ctx context.Context, s Snapshot) error {
	doc, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := r.backend.Write(ctx, doc); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}
