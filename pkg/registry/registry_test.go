package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/weft/pkg/events"
	"github.com/cuemby/weft/pkg/types"
)

func testInfo(id string, updatedAt time.Time, services ...types.ServiceInfo) types.ClusterInfo {
	return types.ClusterInfo{
		ID:        types.ClusterID(id),
		NodeAddr:  types.NodeAddr{ID: types.NodeID("node-" + id), DirectAddrs: []string{"127.0.0.1:7411"}},
		Services:  services,
		UpdatedAt: updatedAt,
	}
}

func TestRegisterOrUpdateLastWriteWins(t *testing.T) {
	r := New("local", nil)

	first := testInfo("alpha", time.Now(), types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080})
	second := testInfo("alpha", time.Now(), types.ServiceInfo{Name: "web", Namespace: "default", Port: 80})

	r.RegisterOrUpdate(first)
	r.RegisterOrUpdate(second)

	got, ok := r.Get("alpha")
	require.True(t, ok)
	require.Len(t, got.Services, 1)
	assert.Equal(t, "web", got.Services[0].Name)
	assert.Equal(t, 1, r.Len())
}

func TestGetMissing(t *testing.T) {
	r := New("local", nil)

	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New("local", nil)
	r.RegisterOrUpdate(testInfo("alpha", time.Now(), types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}))

	got, ok := r.Get("alpha")
	require.True(t, ok)

	// Mutating the snapshot must not leak into the registry.
	got.Services[0].Name = "mutated"
	got.NodeAddr.DirectAddrs[0] = "0.0.0.0:1"

	again, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "api", again.Services[0].Name)
	assert.Equal(t, "127.0.0.1:7411", again.NodeAddr.DirectAddrs[0])
}

func TestFindService(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Minute)

	tests := []struct {
		name        string
		clusters    []types.ClusterInfo
		service     string
		namespace   string
		wantCluster types.ClusterID
		wantFound   bool
	}{
		{
			name:      "no clusters",
			service:   "api",
			namespace: "default",
			wantFound: false,
		},
		{
			name: "no matching service",
			clusters: []types.ClusterInfo{
				testInfo("alpha", now, types.ServiceInfo{Name: "web", Namespace: "default", Port: 80}),
			},
			service:   "api",
			namespace: "default",
			wantFound: false,
		},
		{
			name: "namespace mismatch",
			clusters: []types.ClusterInfo{
				testInfo("alpha", now, types.ServiceInfo{Name: "api", Namespace: "prod", Port: 8080}),
			},
			service:   "api",
			namespace: "default",
			wantFound: false,
		},
		{
			name: "single match",
			clusters: []types.ClusterInfo{
				testInfo("alpha", now, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}),
				testInfo("beta", now, types.ServiceInfo{Name: "web", Namespace: "default", Port: 80}),
			},
			service:     "api",
			namespace:   "default",
			wantCluster: "alpha",
			wantFound:   true,
		},
		{
			name: "tie-break prefers most recent update",
			clusters: []types.ClusterInfo{
				testInfo("alpha", older, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}),
				testInfo("beta", now, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}),
			},
			service:     "api",
			namespace:   "default",
			wantCluster: "beta",
			wantFound:   true,
		},
		{
			name: "equal timestamps break toward smallest id",
			clusters: []types.ClusterInfo{
				testInfo("gamma", now, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}),
				testInfo("beta", now, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}),
			},
			service:     "api",
			namespace:   "default",
			wantCluster: "beta",
			wantFound:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("local", nil)
			for _, info := range tt.clusters {
				r.RegisterOrUpdate(info)
			}

			got, found := r.FindService(tt.service, tt.namespace)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantCluster, got.ID)
			}
		})
	}
}

func TestFindServiceDeterministic(t *testing.T) {
	now := time.Now()
	r := New("local", nil)
	r.RegisterOrUpdate(testInfo("beta", now, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}))
	r.RegisterOrUpdate(testInfo("gamma", now, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080}))

	first, found := r.FindService("api", "default")
	require.True(t, found)
	for i := 0; i < 50; i++ {
		got, ok := r.FindService("api", "default")
		require.True(t, ok)
		assert.Equal(t, first.ID, got.ID)
	}
}

func TestConcurrentRegisterAndList(t *testing.T) {
	r := New("local", nil)

	// Every registered value carries a matched (port, protocol) pair; a torn
	// read would surface as a mismatch in a snapshot.
	mkInfo := func(id string, n int) types.ClusterInfo {
		return testInfo(id, time.Now(), types.ServiceInfo{
			Name:      "api",
			Namespace: "default",
			Port:      uint16(n),
			Protocol:  fmt.Sprintf("proto-%d", n),
		})
	}

	var writers sync.WaitGroup
	stop := make(chan struct{})
	readerDone := make(chan struct{})

	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			id := fmt.Sprintf("cluster-%d", w)
			for n := 1; n <= 200; n++ {
				r.RegisterOrUpdate(mkInfo(id, n))
			}
		}(w)
	}

	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, info := range r.List() {
				for _, svc := range info.Services {
					assert.Equal(t, fmt.Sprintf("proto-%d", svc.Port), svc.Protocol,
						"observed a torn cluster info")
				}
			}
		}
	}()

	writers.Wait()
	close(stop)
	<-readerDone

	// Last write wins per writer identity.
	for w := 0; w < 4; w++ {
		info, ok := r.Get(types.ClusterID(fmt.Sprintf("cluster-%d", w)))
		require.True(t, ok)
		assert.Equal(t, uint16(200), info.Services[0].Port)
	}
}

func TestRemove(t *testing.T) {
	r := New("local", nil)
	r.RegisterOrUpdate(testInfo("alpha", time.Now()))

	r.Remove("alpha")
	_, ok := r.Get("alpha")
	assert.False(t, ok)

	// Removing an absent entry is a no-op.
	r.Remove("alpha")
	assert.Equal(t, 0, r.Len())
}

func TestEvictStale(t *testing.T) {
	r := New("local", nil)
	now := time.Now()

	r.RegisterOrUpdate(testInfo("local", now.Add(-time.Hour)))
	r.RegisterOrUpdate(testInfo("fresh", now))
	r.RegisterOrUpdate(testInfo("stale", now.Add(-time.Hour)))

	evicted := r.EvictStale(10 * time.Minute)
	require.Len(t, evicted, 1)
	assert.Equal(t, types.ClusterID("stale"), evicted[0])

	// The local entry is never evicted regardless of age.
	_, ok := r.Get("local")
	assert.True(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestPeerIDs(t *testing.T) {
	r := New("local", nil)
	r.RegisterOrUpdate(testInfo("local", time.Now()))
	r.RegisterOrUpdate(testInfo("zeta", time.Now()))
	r.RegisterOrUpdate(testInfo("alpha", time.Now()))

	assert.Equal(t, []types.ClusterID{"alpha", "zeta"}, r.PeerIDs())
}

func TestRegisterPublishesEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	r := New("local", broker)
	r.RegisterOrUpdate(testInfo("alpha", time.Now()))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventClusterRegistered, ev.Type)
		assert.Equal(t, "alpha", ev.Metadata["cluster_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event after first register")
	}

	r.RegisterOrUpdate(testInfo("alpha", time.Now()))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventClusterUpdated, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after re-register")
	}
}
