package registry

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/cuemby/weft/pkg/events"
	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/metrics"
	"github.com/cuemby/weft/pkg/types"
)

// Registry is the authoritative, thread-safe map of known clusters, keyed by
// cluster identity. All values are copied on the way in and on the way out;
// no caller ever holds a reference to registry-internal state.
type Registry struct {
	localID types.ClusterID
	broker  *events.Broker

	mu       sync.RWMutex
	clusters map[types.ClusterID]types.ClusterInfo
}

// New creates an empty registry. localID marks the entry that is exempt from
// TTL eviction. broker may be nil when no event consumers exist (tests).
func New(localID types.ClusterID, broker *events.Broker) *Registry {
	return &Registry{
		localID:  localID,
		broker:   broker,
		clusters: make(map[types.ClusterID]types.ClusterInfo),
	}
}

// RegisterOrUpdate inserts or replaces the entry for info.ID. The whole value
// is replaced atomically; concurrent readers see either the previous or the
// new entry, never a mix. A zero UpdatedAt is stamped with the current time.
func (r *Registry) RegisterOrUpdate(info types.ClusterInfo) {
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now()
	}
	stored := info.Clone()

	r.mu.Lock()
	_, existed := r.clusters[stored.ID]
	r.clusters[stored.ID] = stored
	r.updateGaugesLocked()
	r.mu.Unlock()

	eventType := events.EventClusterUpdated
	if !existed {
		eventType = events.EventClusterRegistered
	}
	r.publish(eventType, stored.ID, map[string]string{
		"services": strconv.Itoa(len(stored.Services)),
	})
}

// Get returns a snapshot of the entry for id, if present.
func (r *Registry) Get(id types.ClusterID) (types.ClusterInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.clusters[id]
	if !ok {
		return types.ClusterInfo{}, false
	}
	return info.Clone(), true
}

// List returns a snapshot of all known clusters at call time. The snapshot is
// independent of subsequent writes.
func (r *Registry) List() []types.ClusterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ClusterInfo, 0, len(r.clusters))
	for _, info := range r.clusters {
		out = append(out, info.Clone())
	}
	return out
}

// FindService resolves (name, namespace) to the cluster advertising it. When
// several clusters advertise the same pair the most recently updated entry
// wins; equal timestamps break toward the lexicographically smallest cluster
// ID, so repeated calls under an unchanged registry are deterministic.
func (r *Registry) FindService(name, namespace string) (types.ClusterInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best types.ClusterInfo
	found := false
	for _, info := range r.clusters {
		if !info.HasService(name, namespace) {
			continue
		}
		if !found || newerThan(info, best) {
			best = info
			found = true
		}
	}
	if !found {
		return types.ClusterInfo{}, false
	}
	return best.Clone(), true
}

func newerThan(a, b types.ClusterInfo) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Remove deletes the entry for id. Used on explicit departure.
func (r *Registry) Remove(id types.ClusterID) {
	r.mu.Lock()
	_, existed := r.clusters[id]
	delete(r.clusters, id)
	r.updateGaugesLocked()
	r.mu.Unlock()

	if existed {
		r.publish(events.EventClusterRemoved, id, nil)
	}
}

// Len returns the number of known clusters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clusters)
}

// LocalID returns the identity of the local cluster.
func (r *Registry) LocalID() types.ClusterID {
	return r.localID
}

// Local returns the local cluster's entry, if registered yet.
func (r *Registry) Local() (types.ClusterInfo, bool) {
	return r.Get(r.localID)
}

// PeerIDs returns the identities of all known clusters except the local one,
// sorted for stable output.
func (r *Registry) PeerIDs() []types.ClusterID {
	ids := lo.FilterMap(r.List(), func(info types.ClusterInfo, _ int) (types.ClusterID, bool) {
		return info.ID, info.ID != r.localID
	})
	slices.Sort(ids)
	return ids
}

// EvictStale removes peer entries whose UpdatedAt is older than ttl. The
// local entry is never evicted: its freshness is governed by the discovery
// coordinator, not by peer liveness. Returns the evicted identities.
func (r *Registry) EvictStale(ttl time.Duration) []types.ClusterID {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var evicted []types.ClusterID
	for id, info := range r.clusters {
		if id == r.localID {
			continue
		}
		if info.UpdatedAt.Before(cutoff) {
			delete(r.clusters, id)
			evicted = append(evicted, id)
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	for _, id := range evicted {
		metrics.ClustersEvicted.Inc()
		r.publish(events.EventClusterEvicted, id, nil)
	}
	return evicted
}

func (r *Registry) updateGaugesLocked() {
	services := 0
	for _, info := range r.clusters {
		services += len(info.Services)
	}
	metrics.ClustersKnown.Set(float64(len(r.clusters)))
	metrics.ServicesKnown.Set(float64(services))
}

func (r *Registry) publish(eventType events.EventType, id types.ClusterID, metadata map[string]string) {
	if r.broker == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["cluster_id"] = id.String()
	r.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  string(eventType) + ": " + id.String(),
		Metadata: metadata,
	})
	logger := log.WithComponent("registry")
	logger.Debug().
		Str("event", string(eventType)).
		Str("cluster_id", id.String()).
		Msg("registry event")
}
