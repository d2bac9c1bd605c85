package store

import (
	"sort"
	"sync"

	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

type portDocument struct {
	Range       models.PortRange        `json:"range"`
	Allocations []models.PortAllocation `json:"allocations"`
}

// PortRegistry is the in-memory port table mirrored to one JSON document that also
// records the configured range.
type PortRegistry struct {
	path        string
	mu          sync.RWMutex
	portRange   models.PortRange
	allocations map[int]models.PortAllocation
}

// OpenPortRegistry loads the document at path. The configured range always wins over
// the one stored in the document.
func OpenPortRegistry(path string, r models.PortRange) (*PortRegistry, error) {
	var doc portDocument
	if _, err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	reg := &PortRegistry{
		path:        path,
		portRange:   r,
		allocations: make(map[int]models.PortAllocation, len(doc.Allocations)),
	}
	for _, a := range doc.Allocations {
		reg.allocations[a.Port] = a
	}
	return reg, nil
}

// Range returns the configured port range
func (p *PortRegistry) Range() models.PortRange {
	return p.portRange
}

// List returns all allocations ordered by port
func (p *PortRegistry) List() []models.PortAllocation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sortedLocked()
}

// Get returns the allocation for port
func (p *PortRegistry) Get(port int) (models.PortAllocation, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.allocations[port]
	return a, ok
}

// FindByApp returns every allocation owned by appID
func (p *PortRegistry) FindByApp(appID string) []models.PortAllocation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []models.PortAllocation
	for _, a := range p.sortedLocked() {
		if a.AppID == appID {
			out = append(out, a)
		}
	}
	return out
}

// PutIfFree records an allocation only if the port is not held yet
func (p *PortRegistry) PutIfFree(a models.PortAllocation) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.allocations[a.Port]; taken {
		return false
	}
	p.allocations[a.Port] = a
	p.flushLocked()
	return true
}

// Delete removes the allocation for port; no-op if absent
func (p *PortRegistry) Delete(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.allocations[port]; !ok {
		return
	}
	delete(p.allocations, port)
	p.flushLocked()
}

// DeleteWhere removes every allocation matching fn and returns how many were removed
func (p *PortRegistry) DeleteWhere(fn func(models.PortAllocation) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for port, a := range p.allocations {
		if fn(a) {
			delete(p.allocations, port)
			removed++
		}
	}
	if removed > 0 {
		p.flushLocked()
	}
	return removed
}

func (p *PortRegistry) sortedLocked() []models.PortAllocation {
	list := make([]models.PortAllocation, 0, len(p.allocations))
	for _, a := range p.allocations {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Port < list[j].Port })
	return list
}

func (p *PortRegistry) flushLocked() {
	doc := portDocument{Range: p.portRange, Allocations: p.sortedLocked()}
	if err := writeJSON(p.path, doc); err != nil {
		logging.Named("store").Errorf("Failed to persist port allocations: %v", err)
	}
}
