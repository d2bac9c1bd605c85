package services

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"go.uber.org/zap"
)

// ErrPortExhausted is returned when no port in the configured range is free
var ErrPortExhausted = errors.New("no free port available")

// PortChecker checks whether a TCP port can be bound on this host
type PortChecker interface {
	IsFree(port int) bool
}

// ListenChecker binds a listener on all interfaces and releases it immediately
type ListenChecker struct{}

// IsFree implements PortChecker
func (ListenChecker) IsFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// PortAllocator hands out exclusive host ports to applications.
// Bookkeeping lives in the port registry; every candidate is verified against the OS.
type PortAllocator struct {
	registry *store.PortRegistry
	checker  PortChecker
	metrics  *Metrics
	logger   *zap.SugaredLogger
	mu       sync.Mutex
}

// NewPortAllocator creates a port allocator. A nil checker uses ListenChecker.
func NewPortAllocator(registry *store.PortRegistry, checker PortChecker, metrics *Metrics) *PortAllocator {
	if checker == nil {
		checker = ListenChecker{}
	}
	a := &PortAllocator{
		registry: registry,
		checker:  checker,
		metrics:  metrics,
		logger:   logging.Named("ports"),
	}
	a.metrics.SetPortsAllocated(len(registry.List()))
	return a
}

// Allocate returns a port for appID.
// An app that already holds a port still free at the OS level gets it back unchanged.
// Otherwise preferred is used when it is in range, unallocated and free, and failing
// that the range is scanned in ascending order.
func (a *PortAllocator) Allocate(appID, appName string, preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, held := range a.registry.FindByApp(appID) {
		if a.checker.IsFree(held.Port) {
			return held.Port, nil
		}
		// Stale: something else bound the port since it was handed out
		a.logger.Warnf("Evicting stale allocation of port %d for app %s", held.Port, appName)
		a.registry.Delete(held.Port)
	}

	r := a.registry.Range()
	if preferred > 0 && r.Contains(preferred) {
		if _, taken := a.registry.Get(preferred); !taken && a.checker.IsFree(preferred) {
			if a.record(preferred, appID, appName) {
				return preferred, nil
			}
		}
	}

	for port := r.Start; port <= r.End; port++ {
		if _, taken := a.registry.Get(port); taken {
			continue
		}
		if !a.checker.IsFree(port) {
			continue
		}
		if a.record(port, appID, appName) {
			return port, nil
		}
	}

	apiErr := models.NewPortExhaustedError(r)
	apiErr.Err = ErrPortExhausted
	return 0, apiErr
}

func (a *PortAllocator) record(port int, appID, appName string) bool {
	ok := a.registry.PutIfFree(models.PortAllocation{
		Port:        port,
		AppID:       appID,
		AppName:     appName,
		AllocatedAt: time.Now().UTC(),
	})
	if ok {
		a.logger.Infof("Allocated port %d to %s", port, appName)
		a.metrics.SetPortsAllocated(len(a.registry.List()))
	}
	return ok
}

// Release removes every allocation owned by appID; no-op if none exists
func (a *PortAllocator) Release(appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := a.registry.DeleteWhere(func(p models.PortAllocation) bool {
		return p.AppID == appID
	})
	if removed > 0 {
		a.logger.Infof("Released %d port(s) for app %s", removed, appID)
		a.metrics.SetPortsAllocated(len(a.registry.List()))
	}
}

// GetAllocation returns the port held by appID
func (a *PortAllocator) GetAllocation(appID string) (int, bool) {
	held := a.registry.FindByApp(appID)
	if len(held) == 0 {
		return 0, false
	}
	return held[0].Port, true
}

// ListAvailable returns up to count free ports from the range. Nothing is reserved.
func (a *PortAllocator) ListAvailable(count int) []int {
	if count <= 0 {
		return []int{}
	}
	r := a.registry.Range()
	free := make([]int, 0, count)
	for port := r.Start; port <= r.End && len(free) < count; port++ {
		if _, taken := a.registry.Get(port); taken {
			continue
		}
		if a.checker.IsFree(port) {
			free = append(free, port)
		}
	}
	return free
}

// Reconcile drops allocations whose owning app is not in liveAppIDs and returns how many were dropped
func (a *PortAllocator) Reconcile(liveAppIDs []string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make(map[string]bool, len(liveAppIDs))
	for _, id := range liveAppIDs {
		live[id] = true
	}
	removed := a.registry.DeleteWhere(func(p models.PortAllocation) bool {
		return !live[p.AppID]
	})
	if removed > 0 {
		a.logger.Infof("Reconciled port table: dropped %d orphaned allocation(s)", removed)
		a.metrics.SetPortsAllocated(len(a.registry.List()))
	}
	return removed
}

// Range returns the configured port range
func (a *PortAllocator) Range() models.PortRange {
	return a.registry.Range()
}

// List returns every allocation ordered by port
func (a *PortAllocator) List() []models.PortAllocation {
	return a.registry.List()
}
