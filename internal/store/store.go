package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/keepalive/internal/errdefs"
)

// ErrNoDocument is returned by a Backend when nothing has been written yet.
// The registry treats it as an empty snapshot.
var ErrNoDocument = errors.New("no document")

// ResourceRecord is one monitored resource. ID is the provider identifier and is unique.
type ResourceRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	AddedAt      time.Time  `json:"added_at"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	AddedBy      string     `json:"added_by"`
}

// Stats aggregates sweep outcomes. TotalChecks is cumulative; the other counters
// describe the most recent completed sweep only.
type Stats struct {
	TotalChecks     int64      `json:"total_checks"`
	SuccessfulKeeps int        `json:"successful_keeps"`
	FailedAttempts  int        `json:"failed_attempts"`
	LastCheckAt     *time.Time `json:"last_check_at,omitempty"`
	ResourceCount   int        `json:"resource_count"`
}

// Snapshot is the whole persisted document.
type Snapshot struct {
	Resources       map[string]ResourceRecord `json:"resources"`
	Admins          []string                  `json:"admins"`
	Stats           Stats                     `json:"stats"`
	IntervalMinutes int                       `json:"interval_minutes,omitempty"`
}

// NewSnapshot returns an empty snapshot, the state of a first run.
func NewSnapshot() Snapshot {
	return Snapshot{Resources: make(map[string]ResourceRecord), Admins: []string{}}
}

// IsAdmin reports whether identity is in the admin set.
func (s Snapshot) IsAdmin(identity string) bool {
	for _, a := range s.Admins {
		if a == identity {
			return true
		}
	}
	return false
}

// Backend persists the raw document. Implementations need not be safe for
// concurrent use; the Registry serializes every call.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, doc []byte) error
	Close() error
}

// Encode serializes a snapshot in the on-disk format shared by all backends.
func Encode(s Snapshot) ([]byte, error) {
	if s.Resources == nil {
		s.Resources = make(map[string]ResourceRecord)
	}
	if s.Admins == nil {
		s.Admins = []string{}
	}
	return json.MarshalIndent(s, "", "  ")
}

// Decode parses a document. Any parse failure is reported as ErrStorageCorrupt.
func Decode(doc []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(doc, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", errdefs.ErrStorageCorrupt, err)
	}
	if s.Resources == nil {
		s.Resources = make(map[string]ResourceRecord)
	}
	if s.Admins == nil {
		s.Admins = []string{}
	}
	for id, rec := range s.Resources {
		if rec.ID == "" {
			rec.ID = id
			s.Resources[id] = rec
		}
		if rec.ID != id {
			return Snapshot{}, fmt.Errorf("%w: record key %q holds id %q", errdefs.ErrStorageCorrupt, id, rec.ID)
		}
	}
	return s, nil
}
