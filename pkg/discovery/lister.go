package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cuemby/weft/pkg/types"
)

// ErrDiscoveryUnavailable is returned when the backing discovery system
// cannot be reached. A lister never returns a partial list: callers get the
// complete service set for the requested scope or this error.
var ErrDiscoveryUnavailable = errors.New("discovery backend unavailable")

// ServiceLister enumerates the services exposed by the local cluster.
// Implementations wrap a cluster API (Kubernetes), a static configuration, or
// a test fixture; the coordinator does not care which.
type ServiceLister interface {
	// ListServices returns all services in the given namespace scope.
	// An empty namespace means all namespaces.
	ListServices(ctx context.Context, namespace string) ([]types.ServiceInfo, error)
}

// StaticLister serves a fixed service set from configuration. It backs
// standalone mode, where no cluster API is available.
type StaticLister struct {
	mu       sync.RWMutex
	services []types.ServiceInfo
}

// NewStaticLister creates a lister over a fixed service set.
func NewStaticLister(services []types.ServiceInfo) *StaticLister {
	return &StaticLister{services: append([]types.ServiceInfo(nil), services...)}
}

// ListServices returns the configured services, filtered by namespace and
// sorted for stable output.
func (l *StaticLister) ListServices(_ context.Context, namespace string) ([]types.ServiceInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.ServiceInfo, 0, len(l.services))
	for _, svc := range l.services {
		if namespace != "" && svc.Namespace != namespace {
			continue
		}
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SetServices replaces the service set. Used by tests and by operators
// reloading configuration.
func (l *StaticLister) SetServices(services []types.ServiceInfo) {
	l.mu.Lock()
	l.services = append([]types.ServiceInfo(nil), services...)
	l.mu.Unlock()
}
