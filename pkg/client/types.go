package client

import "time"

// Resource is a registered resource as returned by Add.
type Resource struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	AddedAt      time.Time  `json:"added_at"`
	AddedBy      string     `json:"added_by"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
}

// RemoteResource is one entry of the provider listing.
type RemoteResource struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	State       string    `json:"state"`
	WebURL      string    `json:"web_url,omitempty"`
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
}

// ResourceStatus is a registered resource with its live provider state.
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

// Stats combines the last sweep counters with the live engine state.
type Stats struct {
	TotalChecks         int64      `json:"total_checks"`
	SuccessfulKeeps     int        `json:"successful_keeps"`
	FailedAttempts      int        `json:"failed_attempts"`
	LastCheckAt         *time.Time `json:"last_check_at,omitempty"`
	ResourceCount       int        `json:"resource_count"`
	RegisteredResources int        `json:"registered_resources"`
	EngineRunning       bool       `json:"engine_running"`
	IntervalMinutes     int        `json:"interval_minutes"`
}

// SweepResult summarizes a sweep triggered through the API.
type SweepResult struct {
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

// EngineState is returned by the engine start/stop endpoints.
type EngineState struct {
	Running bool `json:"running"`
	Changed bool `json:"changed,omitempty"`
}

type joinResponse struct {
	Identity string `json:"identity"`
	Added    bool   `json:"added"`
}

type removeResponse struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
