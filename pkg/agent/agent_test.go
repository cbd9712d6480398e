package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/weft/pkg/config"
	"github.com/cuemby/weft/pkg/storage"
	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

func testOptions(t *testing.T, network *transport.MemNetwork, id types.ClusterID, services []types.ServiceInfo, seeds ...types.NodeAddr) Options {
	t.Helper()

	endpoint := network.Bind(string(id))
	t.Cleanup(func() { endpoint.Close() })

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return Options{
		ClusterID: id,
		Discovery: config.DiscoveryConfig{
			RefreshInterval:  config.Duration(50 * time.Millisecond),
			RegisterInterval: config.Duration(100 * time.Millisecond),
			StaticServices:   services,
		},
		Gossip: config.GossipConfig{
			Interval: config.Duration(50 * time.Millisecond),
			Seeds:    seeds,
		},
		Endpoint: endpoint,
		Store:    store,
	}
}

func TestNewRejectsInvalidClusterID(t *testing.T) {
	_, err := New(Options{ClusterID: ""})
	assert.Error(t, err)
}

func TestTwoAgentsConverge(t *testing.T) {
	network := transport.NewMemNetwork()

	westOpts := testOptions(t, network, "west",
		[]types.ServiceInfo{{Name: "api", Namespace: "default", Port: 8080, Protocol: "tcp"}})
	west, err := New(westOpts)
	require.NoError(t, err)

	eastOpts := testOptions(t, network, "east",
		[]types.ServiceInfo{{Name: "web", Namespace: "default", Port: 3000, Protocol: "tcp"}},
		west.Endpoint().Addr())
	east, err := New(eastOpts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go west.Run(ctx)
	go east.Run(ctx)

	// Gossip carries each cluster's advertisement to the other side.
	require.Eventually(t, func() bool {
		info, ok := east.Registry().Get("west")
		return ok && info.HasService("api", "default")
	}, 5*time.Second, 20*time.Millisecond, "east never learned west's services")

	require.Eventually(t, func() bool {
		info, ok := west.Registry().Get("east")
		return ok && info.HasService("web", "default")
	}, 5*time.Second, 20*time.Millisecond, "west never learned east's services")

	status := east.Status()
	assert.Equal(t, types.ClusterID("east"), status.ClusterID)
	assert.Contains(t, status.PeerClusters, types.ClusterID("west"))
	assert.False(t, status.DiscoveryStale)
}

func TestRunStopsOnCancel(t *testing.T) {
	network := transport.NewMemNetwork()
	a, err := New(testOptions(t, network, "solo", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRunLeavesInjectedStoreOpen(t *testing.T) {
	network := transport.NewMemNetwork()
	opts := testOptions(t, network, "solo", nil)

	a, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}

	// The caller handed the store in, so the caller still owns it.
	err = opts.Store.SaveRegistration(types.ClusterRegistration{
		ClusterID: "west",
		NodeAddr:  types.NodeAddr{ID: "mem-west"},
		UpdatedAt: time.Now(),
	})
	assert.NoError(t, err, "agent shutdown must not close an injected store")
}

func TestRehydrateSkipsStaleAndSelf(t *testing.T) {
	network := transport.NewMemNetwork()
	opts := testOptions(t, network, "east", nil)

	fresh := types.ClusterRegistration{
		ClusterID: "west",
		NodeAddr:  types.NodeAddr{ID: "mem-west"},
		UpdatedAt: time.Now(),
	}
	stale := types.ClusterRegistration{
		ClusterID: "old",
		NodeAddr:  types.NodeAddr{ID: "mem-old"},
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	self := types.ClusterRegistration{
		ClusterID: "east",
		NodeAddr:  types.NodeAddr{ID: "mem-east"},
		UpdatedAt: time.Now(),
	}
	require.NoError(t, opts.Store.SaveRegistration(fresh))
	require.NoError(t, opts.Store.SaveRegistration(stale))
	require.NoError(t, opts.Store.SaveRegistration(self))

	a, err := New(opts)
	require.NoError(t, err)
	a.rehydrate()

	_, ok := a.Registry().Get("west")
	assert.True(t, ok, "fresh record should be loaded")

	_, ok = a.Registry().Get("old")
	assert.False(t, ok, "stale record should be skipped")

	_, ok = a.Registry().Get("east")
	assert.False(t, ok, "own record is owned by the coordinator, not the store")

	// The stale record is also dropped from disk.
	_, err = opts.Store.GetRegistration("old")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStatusAPI(t *testing.T) {
	network := transport.NewMemNetwork()
	a, err := New(testOptions(t, network, "east",
		[]types.ServiceInfo{{Name: "api", Namespace: "default", Port: 8080, Protocol: "tcp"}}))
	require.NoError(t, err)

	a.Registry().RegisterOrUpdate(types.ClusterInfo{
		ID:       "west",
		NodeAddr: types.NodeAddr{ID: "mem-west"},
	})

	server := httptest.NewServer(a.statusRoutes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status types.ClusterStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, types.ClusterID("east"), status.ClusterID)
	assert.Contains(t, status.PeerClusters, types.ClusterID("west"))

	resp, err = http.Get(server.URL + "/v1/clusters")
	require.NoError(t, err)
	defer resp.Body.Close()

	var clusters []types.ClusterInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clusters))
	assert.Len(t, clusters, 1)

	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
