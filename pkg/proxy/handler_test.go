package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/weft/pkg/registry"
	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

func TestBackendResolverResolve(t *testing.T) {
	tests := []struct {
		name     string
		resolver BackendResolver
		pre      Preamble
		want     string
	}{
		{
			name: "default DNS form",
			pre:  Preamble{Service: "api", Namespace: "prod", Port: 8080},
			want: "api.prod:8080",
		},
		{
			name:     "domain suffix appended",
			resolver: BackendResolver{DomainSuffix: "svc.cluster.local"},
			pre:      Preamble{Service: "api", Namespace: "prod", Port: 443},
			want:     "api.prod.svc.cluster.local:443",
		},
		{
			name:     "override wins",
			resolver: BackendResolver{Overrides: map[string]string{"prod/api": "127.0.0.1:9000"}},
			pre:      Preamble{Service: "api", Namespace: "prod", Port: 8080},
			want:     "127.0.0.1:9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resolver.Resolve(tt.pre))
		})
	}
}

// startEchoBackend runs a TCP server that echoes everything it reads.
func startEchoBackend(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return listener.Addr().String()
}

func localRegistry(t *testing.T, services ...types.ServiceInfo) *registry.Registry {
	t.Helper()

	reg := registry.New("east", nil)
	reg.RegisterOrUpdate(types.ClusterInfo{
		ID:       "east",
		NodeAddr: types.NodeAddr{ID: "mem-east"},
		Services: services,
	})
	return reg
}

// dialHandler connects a mem-network stream to a running Handler and returns
// the dialing side.
func dialHandler(t *testing.T, h *Handler) transport.Stream {
	t.Helper()

	network := transport.NewMemNetwork()
	server := network.Bind("east")
	client := network.Bind("remote")
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			return
		}
		h.HandleConn(ctx, conn)
	}()

	stream, err := client.Dial(ctx, server.Addr(), types.MeshALPN)
	require.NoError(t, err)
	t.Cleanup(func() { stream.Close() })
	return stream
}

func TestHandlerRelaysToBackend(t *testing.T) {
	backendAddr := startEchoBackend(t)
	reg := localRegistry(t, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080})

	h := NewHandler(HandlerConfig{
		Registry:    reg,
		Resolver:    BackendResolver{Overrides: map[string]string{"default/api": backendAddr}},
		DialTimeout: 5 * time.Second,
		IdleTimeout: 30 * time.Second,
	})

	stream := dialHandler(t, h)

	reply, err := writePreamble(stream, Preamble{Service: "api", Namespace: "default", Port: 8080, SourceCluster: "west"})
	require.NoError(t, err)
	require.True(t, reply.OK, "handler rejected tunnel: %s", reply.Error)

	_, err = stream.Write([]byte("hello backend"))
	require.NoError(t, err)

	buf := make([]byte, 13)
	stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello backend", string(buf))
}

func TestHandlerZeroPortUsesAdvertisedPort(t *testing.T) {
	reg := localRegistry(t, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080})
	h := NewHandler(HandlerConfig{Registry: reg})

	// SNI routing and portless Host headers produce a zero preamble port;
	// the advertised service port fills it in.
	addr, ok := h.dialAddress(Preamble{Service: "api", Namespace: "default"})
	require.True(t, ok)
	assert.Equal(t, "api.default:8080", addr)

	// An explicit client port still wins.
	addr, ok = h.dialAddress(Preamble{Service: "api", Namespace: "default", Port: 9000})
	require.True(t, ok)
	assert.Equal(t, "api.default:9000", addr)

	_, ok = h.dialAddress(Preamble{Service: "billing", Namespace: "default"})
	assert.False(t, ok)
}

func TestHandlerZeroPortTunnelRelays(t *testing.T) {
	backendAddr := startEchoBackend(t)
	reg := localRegistry(t, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080})

	h := NewHandler(HandlerConfig{
		Registry:    reg,
		Resolver:    BackendResolver{Overrides: map[string]string{"default/api": backendAddr}},
		DialTimeout: 5 * time.Second,
		IdleTimeout: 30 * time.Second,
	})

	stream := dialHandler(t, h)

	reply, err := writePreamble(stream, Preamble{Service: "api", Namespace: "default", SourceCluster: "west"})
	require.NoError(t, err)
	require.True(t, reply.OK, "handler rejected portless tunnel: %s", reply.Error)

	_, err = stream.Write([]byte("sni path"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "sni path", string(buf))
}

func TestHandlerRejectsUnknownService(t *testing.T) {
	reg := localRegistry(t, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080})

	h := NewHandler(HandlerConfig{
		Registry:    reg,
		DialTimeout: time.Second,
		IdleTimeout: time.Second,
	})

	stream := dialHandler(t, h)

	reply, err := writePreamble(stream, Preamble{Service: "billing", Namespace: "default", SourceCluster: "west"})
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "not served")
}

func TestHandlerRejectsUnreachableBackend(t *testing.T) {
	// Bind and immediately close to get an address nothing listens on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := listener.Addr().String()
	listener.Close()

	reg := localRegistry(t, types.ServiceInfo{Name: "api", Namespace: "default", Port: 8080})

	h := NewHandler(HandlerConfig{
		Registry:    reg,
		Resolver:    BackendResolver{Overrides: map[string]string{"default/api": deadAddr}},
		DialTimeout: time.Second,
		IdleTimeout: time.Second,
	})

	stream := dialHandler(t, h)

	reply, err := writePreamble(stream, Preamble{Service: "api", Namespace: "default", SourceCluster: "west"})
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "backend unreachable")
}

func TestHandlerRejectsEmptyRegistry(t *testing.T) {
	reg := registry.New("east", nil)

	h := NewHandler(HandlerConfig{
		Registry:    reg,
		DialTimeout: time.Second,
		IdleTimeout: time.Second,
	})

	stream := dialHandler(t, h)

	reply, err := writePreamble(stream, Preamble{Service: "api", Namespace: "default", SourceCluster: "west"})
	require.NoError(t, err)
	assert.False(t, reply.OK)
}
