// Package providertest offers an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/provider"
)

// Fake is a scriptable provider. Unknown ids are reported as not found.
type Fake struct {
	mu        sync.Mutex
	resources map[string]provider.ResourceInfo
	listErr   error
	getErr    map[string]error
	startErr  map[string]error
	touchErr  map[string]error
	calls     []string
	touchHook func(id string)
	getHook   func(id string)
}

func NewFake(infos ...provider.ResourceInfo) *Fake {
	f := &Fake{
		resources: map[string]provider.ResourceInfo{},
		getErr:    map[string]error{},
		startErr:  map[string]error{},
		touchErr:  map[string]error{},
	}
	for _, i := range infos {
		f.resources[i.ID] = i
	}
	return f
}

// Resource is a shorthand for a ResourceInfo whose name is its id.
func Resource(id, display, state string) provider.ResourceInfo {
	return provider.ResourceInfo{ID: id, Name: id, DisplayName: display, State: state, WebURL: "https://" + id + ".github.dev/"}
}

func (f *Fake) Put(info provider.ResourceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[info.ID] = info
}

func (f *Fake) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resources, id)
}

func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *Fake) FailGet(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr[id] = err
}

func (f *Fake) FailStart(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr[id] = err
}

func (f *Fake) FailTouch(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchErr[id] = err
}

// OnTouch installs fn to run at the start of every TouchResource call.
func (f *Fake) OnTouch(fn func(id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchHook = fn
}

// OnGet installs fn to run at the start of every GetResource call.
func (f *Fake) OnGet(fn func(id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getHook = fn
}

// Calls returns the verbs invoked so far as "verb:id" strings.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) State(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resources[id].State
}

func (f *Fake) ListResources(_ context.Context) ([]provider.ResourceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]provider.ResourceInfo, 0, len(f.resources))
	for _, r := range f.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetResource(_ context.Context, id string) (provider.ResourceInfo, error) {
	f.mu.Lock()
	hook := f.getHook
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get:"+id)
	if err := f.getErr[id]; err != nil {
		return provider.ResourceInfo{}, err
	}
	r, ok := f.resources[id]
	if !ok {
		return provider.ResourceInfo{}, fmt.Errorf("resource %s: %w", id, errdefs.ErrNotFound)
	}
	return r, nil
}

func (f *Fake) StartResource(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start:"+id)
	if err := f.startErr[id]; err != nil {
		return err
	}
	r, ok := f.resources[id]
	if !ok {
		return errdefs.Provider("start "+id, fmt.Errorf("no such resource"))
	}
	r.State = "Starting"
	f.resources[id] = r
	return nil
}

func (f *Fake) TouchResource(_ context.Context, id string) error {
	f.mu.Lock()
	hook := f.touchHook
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "touch:"+id)
	if err := f.touchErr[id]; err != nil {
		return err
	}
	if _, ok := f.resources[id]; !ok {
		return errdefs.Provider("touch "+id, fmt.Errorf("no such resource"))
	}
	return nil
}
