package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/keepalive/internal/history"
)

type captured struct {
	method string
	path   string
	user   string
	pass   string
	body   []byte
}

func recordingServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.user, got.pass, _ = r.BasicAuth()
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestSend_ResourceEvent(t *testing.T) {
	srv, got := recordingServer(t, http.StatusCreated)

	sink := New(srv.URL+"/", "keepalive-history", Options{})
	event := history.Event{
		Type:       history.EventResource,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SweepID:    "sweep-1",
		ResourceID: "alpha",
		Outcome:    history.OutcomeKept,
		State:      "Available",
	}
	require.NoError(t, sink.Send(context.Background(), event))

	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/keepalive-history/_doc/sweep-1:alpha", got.path)
	assert.Empty(t, got.user)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(got.body, &doc))
	assert.Equal(t, "resource", doc["type"])
	assert.Equal(t, "alpha", doc["resource_id"])
	assert.Equal(t, "kept", doc["outcome"])
	assert.Equal(t, "2026-01-02T03:04:05Z", doc["occurred_at"])
}

func TestSend_SweepEventWithAuth(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK)

	sink := New(srv.URL, "idx", Options{Username: "writer", Password: "secret"})
	require.NoError(t, sink.Send(context.Background(), history.Event{
		Type: history.EventSweep, SweepID: "sweep-2", Outcome: history.SweepCompleted, Kept: 2, Total: 3,
	}))

	assert.Equal(t, "/idx/_doc/sweep-2", got.path)
	assert.Equal(t, "writer", got.user)
	assert.Equal(t, "secret", got.pass)
}

func TestSend_WithoutSweepIDPosts(t *testing.T) {
	srv, got := recordingServer(t, http.StatusCreated)

	require.NoError(t, New(srv.URL, "idx", Options{}).Send(context.Background(), history.Event{Type: history.EventSweep}))
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/idx/_doc", got.path)
}

func TestSend_ErrorStatus(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusBadRequest)

	err := New(srv.URL, "idx", Options{}).Send(context.Background(), history.Event{Type: history.EventSweep, SweepID: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opensearch sink status 400")
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	sink := New(target, "idx", Options{Timeout: time.Second})
	require.Error(t, sink.Send(context.Background(), history.Event{Type: history.EventSweep, SweepID: "s"}))
	require.NoError(t, sink.Close())
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "s1", DocumentID(history.Event{Type: history.EventSweep, SweepID: "s1"}))
	assert.Equal(t, "s1:web", DocumentID(history.Event{Type: history.EventResource, SweepID: "s1", ResourceID: "web"}))
	assert.Equal(t, "s1", DocumentID(history.Event{Type: history.EventResource, SweepID: "s1"}))
}
