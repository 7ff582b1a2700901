package provider

import (
	"context"
	"strings"
	"time"
)

// ResourceInfo is the provider's view of one resource.
type ResourceInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	State       string    `json:"state"`
	WebURL      string    `json:"web_url,omitempty"`
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
}

// Client is the four-verb contract the engine needs from a provider. Every call
// is bounded by a timeout. Failures other than a missing resource wrap
// errdefs.ErrProvider; GetResource reports a missing resource with errdefs.ErrNotFound.
// Implementations never retry.
type Client interface {
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	GetResource(ctx context.Context, id string) (ResourceInfo, error)
	StartResource(ctx context.Context, id string) error
	TouchResource(ctx context.Context, id string) error
}

// State is the per-sweep classification of a provider-reported state string.
type State string

const (
	StateUnknown  State = "unknown"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateNotFound State = "not_found"
)

// Classify maps a raw provider state onto the engine's states. Anything that is
// neither clearly stopped nor clearly running is unknown and is still touched.
func Classify(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "shutdown", "stopped":
		return StateStopped
	case "available", "running":
		return StateRunning
	default:
		return StateUnknown
	}
}

// Match reports whether term is a case-insensitive substring of the resource
// name or display name.
func Match(info ResourceInfo, term string) bool {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return false
	}
	return strings.Contains(strings.ToLower(info.Name), t) ||
		strings.Contains(strings.ToLower(info.DisplayName), t)
}
