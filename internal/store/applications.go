package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

// ApplicationRegistry is the in-memory application table mirrored to one JSON document.
// Every mutation is flushed immediately; a failed flush is logged and the in-memory
// change stands.
type ApplicationRegistry struct {
	path string
	mu   sync.RWMutex
	apps map[string]*models.Application
}

// OpenApplicationRegistry loads the document at path, creating an empty registry if absent
func OpenApplicationRegistry(path string) (*ApplicationRegistry, error) {
	var list []*models.Application
	if _, err := readJSON(path, &list); err != nil {
		return nil, err
	}
	r := &ApplicationRegistry{
		path: path,
		apps: make(map[string]*models.Application, len(list)),
	}
	for _, app := range list {
		if app == nil || app.ID == "" {
			continue
		}
		r.apps[app.ID] = app
	}
	return r, nil
}

// List returns copies of all applications ordered by creation time
func (r *ApplicationRegistry) List() []*models.Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Get returns a copy of the application or nil
func (r *ApplicationRegistry) Get(id string) *models.Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps[id].Copy()
}

// GetByName returns a copy of the application with the given name (case-insensitive) or nil
func (r *ApplicationRegistry) GetByName(name string) *models.Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, app := range r.apps {
		if strings.EqualFold(app.Name, name) {
			return app.Copy()
		}
	}
	return nil
}

// IDs returns the IDs of every stored application
func (r *ApplicationRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}
	return ids
}

// Put inserts or replaces an application. Git secrets are stripped before storing.
func (r *ApplicationRegistry) Put(app *models.Application) {
	cp := app.Copy()
	if cp.Git != nil {
		cp.Git = cp.Git.Stripped()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[cp.ID] = cp
	r.flushLocked()
}

// Update applies fn to the stored application under the registry lock.
// It returns the updated copy, or nil if the application does not exist.
func (r *ApplicationRegistry) Update(id string, fn func(app *models.Application)) *models.Application {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return nil
	}
	fn(app)
	if app.Git != nil {
		app.Git = app.Git.Stripped()
	}
	r.flushLocked()
	return app.Copy()
}

// Delete removes an application; no-op if absent
func (r *ApplicationRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[id]; !ok {
		return
	}
	delete(r.apps, id)
	r.flushLocked()
}

func (r *ApplicationRegistry) sortedLocked() []*models.Application {
	list := make([]*models.Application, 0, len(r.apps))
	for _, app := range r.apps {
		list = append(list, app.Copy())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (r *ApplicationRegistry) flushLocked() {
	if err := writeJSON(r.path, r.sortedLocked()); err != nil {
		logging.Named("store").Errorf("Failed to persist applications: %v", err)
	}
}
