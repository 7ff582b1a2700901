package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/provider"
)

type fakeAPI struct {
	srv *httptest.Server

	mu         sync.Mutex
	codespaces map[string]map[string]any
	started    []string
	visits     []string
	webStatus  []int // status per successive web GET; 200 when exhausted
	headers    []http.Header
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{codespaces: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/codespaces", f.list)
	mux.HandleFunc("GET /user/codespaces/{name}", f.get)
	mux.HandleFunc("POST /user/codespaces/{name}/start", f.start)
	mux.HandleFunc("GET /web/{name}", f.web)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) add(name, display, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codespaces[name] = map[string]any{
		"id":           len(f.codespaces) + 1,
		"name":         name,
		"display_name": display,
		"state":        state,
		"web_url":      f.srv.URL + "/web/" + name,
		"last_used_at": "2024-05-01T10:00:00Z",
	}
}

func (f *fakeAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, r.Header.Clone())
}

func (f *fakeAPI) list(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	f.mu.Lock()
	names := make([]string, 0, len(f.codespaces))
	for n := range f.codespaces {
		names = append(names, n)
	}
	f.mu.Unlock()
	slices.Sort(names)

	// one codespace per page to exercise pagination
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		_, _ = fmt.Sscanf(p, "%d", &page)
	}
	var items []map[string]any
	if page <= len(names) {
		f.mu.Lock()
		items = append(items, f.codespaces[names[page-1]])
		f.mu.Unlock()
	}
	if page < len(names) {
		next := fmt.Sprintf("%s/user/codespaces?page=%d", f.srv.URL, page+1)
		w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"next\"", next))
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(names), "codespaces": items})
}

func (f *fakeAPI) get(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	f.mu.Lock()
	cs, ok := f.codespaces[r.PathValue("name")]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (f *fakeAPI) start(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	name := r.PathValue("name")
	f.mu.Lock()
	cs, ok := f.codespaces[name]
	if ok {
		f.started = append(f.started, name)
		cs["state"] = "Starting"
	}
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (f *fakeAPI) web(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.visits = append(f.visits, r.URL.RequestURI())
	status := http.StatusOK
	if len(f.webStatus) > 0 {
		status = f.webStatus[0]
		f.webStatus = f.webStatus[1:]
	}
	f.mu.Unlock()
	if r.Header.Get("Authorization") != "" {
		status = http.StatusTeapot
	}
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	c, err := New(Config{
		Token:    "test-token",
		BaseURL:  f.srv.URL,
		TouchGap: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestListResources_FollowsPagesAndSendsHeaders(t *testing.T) {
	f := newFakeAPI(t)
	f.add("alpha-x1", "Alpha", "Available")
	f.add("beta-y2", "", "Shutdown")
	f.add("gamma-z3", "Gamma", "Starting")
	c := newTestClient(t, f)

	got, err := c.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	byID := map[string]provider.ResourceInfo{}
	for _, r := range got {
		byID[r.ID] = r
	}
	assert.Equal(t, "Alpha", byID["alpha-x1"].DisplayName)
	assert.Equal(t, "beta-y2", byID["beta-y2"].DisplayName, "display name falls back to name")
	assert.Equal(t, "Shutdown", byID["beta-y2"].State)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), byID["alpha-x1"].LastUsedAt.UTC())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.headers)
	for _, h := range f.headers {
		assert.Equal(t, "Bearer test-token", h.Get("Authorization"))
		assert.Equal(t, DefaultAPIVersion, h.Get("X-GitHub-Api-Version"))
	}
}

func TestGetResource_NotFound(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	_, err := c.GetResource(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	assert.False(t, errors.Is(err, errdefs.ErrProvider))
}

func TestGetResource_ServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
	}))
	defer srv.Close()

	c, err := New(Config{Token: "t", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GetResource(context.Background(), "any")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrProvider))
	assert.False(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestGetResource_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{Token: "t", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.GetResource(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrProvider))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStartResource(t *testing.T) {
	f := newFakeAPI(t)
	f.add("sleepy", "Sleepy", "Shutdown")
	c := newTestClient(t, f)

	require.NoError(t, c.StartResource(context.Background(), "sleepy"))
	f.mu.Lock()
	assert.Equal(t, []string{"sleepy"}, f.started)
	f.mu.Unlock()

	err := c.StartResource(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrProvider))
}

func TestTouchResource_TwoVisits(t *testing.T) {
	f := newFakeAPI(t)
	f.add("busy", "Busy", "Available")
	c := newTestClient(t, f)

	require.NoError(t, c.TouchResource(context.Background(), "busy"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.visits, 2)
	assert.Equal(t, "/web/busy", f.visits[0])
	assert.Equal(t, "/web/busy?folder=%2Fworkspaces", f.visits[1])
}

func TestTouchResource_EitherVisitSucceeds(t *testing.T) {
	f := newFakeAPI(t)
	f.add("flaky", "Flaky", "Available")
	f.webStatus = []int{http.StatusBadGateway, http.StatusOK}
	c := newTestClient(t, f)

	require.NoError(t, c.TouchResource(context.Background(), "flaky"))
}

func TestTouchResource_BothVisitsFail(t *testing.T) {
	f := newFakeAPI(t)
	f.add("down", "Down", "Available")
	f.webStatus = []int{http.StatusBadGateway, http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	err := c.TouchResource(context.Background(), "down")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrProvider))
	assert.Contains(t, err.Error(), "status 502")
}

func TestTouchResource_MissingCodespace(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	err := c.TouchResource(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrProvider))
}

func TestTouchResource_HonorsCancellationDuringGap(t *testing.T) {
	f := newFakeAPI(t)
	f.add("busy", "Busy", "Available")
	c, err := New(Config{Token: "t", BaseURL: f.srv.URL, TouchGap: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err = c.TouchResource(ctx, "busy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWithFolder(t *testing.T) {
	assert.Equal(t, "https://x.github.dev/?folder=%2Fworkspaces", withFolder("https://x.github.dev/"))
	assert.Equal(t, "https://x.github.dev/?a=1&folder=%2Fworkspaces", withFolder("https://x.github.dev/?a=1"))
}
