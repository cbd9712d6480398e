package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/weft/pkg/types"
)

func TestIdentityLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	created, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	require.NotEmpty(t, created.NodeID())

	// A second load returns the same identity.
	loaded, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, created.NodeID(), loaded.NodeID())
}

func TestIdentityRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := LoadOrCreateIdentity(path)
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	client, server := pipeStreams(t)

	go func() {
		_ = WriteFrame(client, payload{Name: "api", Count: 3})
	}()

	var got payload
	require.NoError(t, ReadFrame(server, &got))
	assert.Equal(t, payload{Name: "api", Count: 3}, got)
}

func TestFrameSizeLimit(t *testing.T) {
	client, server := pipeStreams(t)

	big := make([]byte, MaxFrameSize+1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteFrame(client, big)
	}()
	go func() {
		var discard interface{}
		_ = ReadFrame(server, &discard)
	}()
	assert.Error(t, <-errCh)
}

func TestTLSEndpointRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverID, err := GenerateIdentity()
	require.NoError(t, err)
	clientID, err := GenerateIdentity()
	require.NoError(t, err)

	server, err := BindTLS(serverID, "127.0.0.1:0", TLSOptions{ALPNs: []string{types.MeshALPN}})
	require.NoError(t, err)
	defer server.Close()

	client, err := BindTLS(clientID, "127.0.0.1:0", TLSOptions{ALPNs: []string{types.MeshALPN}})
	require.NoError(t, err)
	defer client.Close()

	acceptCh := make(chan Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			acceptErr <- err
			return
		}
		acceptCh <- conn
	}()

	stream, err := client.Dial(ctx, server.Addr(), types.MeshALPN)
	require.NoError(t, err)
	defer stream.Close()

	var conn Conn
	select {
	case conn = <-acceptCh:
	case err := <-acceptErr:
		t.Fatalf("accept failed: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}
	defer conn.Close()

	// Peer identity is authenticated, not asserted.
	assert.Equal(t, client.NodeID(), conn.PeerID())
	assert.Equal(t, types.MeshALPN, conn.ALPN())

	_, err = stream.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestTLSDialRejectsWrongIdentity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverID, err := GenerateIdentity()
	require.NoError(t, err)
	clientID, err := GenerateIdentity()
	require.NoError(t, err)
	impostorID, err := GenerateIdentity()
	require.NoError(t, err)

	server, err := BindTLS(serverID, "127.0.0.1:0", TLSOptions{ALPNs: []string{types.MeshALPN}})
	require.NoError(t, err)
	defer server.Close()

	client, err := BindTLS(clientID, "127.0.0.1:0", TLSOptions{ALPNs: []string{types.MeshALPN}})
	require.NoError(t, err)
	defer client.Close()

	go func() {
		// Server side fails handshake; accept error is expected.
		_, _ = server.Accept(ctx)
	}()

	// Pin a different identity than the server presents.
	addr := server.Addr()
	addr.ID = impostorID.NodeID()

	_, err = client.Dial(ctx, addr, types.MeshALPN)
	assert.Error(t, err)
}

func TestMemEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	network := NewMemNetwork()
	a := network.Bind("a")
	b := network.Bind("b")
	defer a.Close()
	defer b.Close()

	go func() {
		stream, err := a.Dial(ctx, b.Addr(), types.GossipALPN)
		if err != nil {
			return
		}
		stream.Write([]byte("hello"))
		stream.Close()
	}()

	conn, err := b.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, a.NodeID(), conn.PeerID())
	assert.Equal(t, types.GossipALPN, conn.ALPN())

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMemDialUnknownPeer(t *testing.T) {
	network := NewMemNetwork()
	a := network.Bind("a")
	defer a.Close()

	_, err := a.Dial(context.Background(), types.NodeAddr{ID: "mem-ghost"}, types.MeshALPN)
	assert.Error(t, err)
}

func pipeStreams(t *testing.T) (Stream, Stream) {
	t.Helper()
	network := NewMemNetwork()
	a := network.Bind("pipe-a")
	b := network.Bind("pipe-b")
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	streamCh := make(chan Stream, 1)
	go func() {
		s, err := a.Dial(ctx, b.Addr(), types.MeshALPN)
		if err != nil {
			return
		}
		streamCh <- s
	}()
	conn, err := b.Accept(ctx)
	require.NoError(t, err)
	client := <-streamCh
	return client, conn
}

func TestRouterDispatchesByALPN(t *testing.T) {
	network := NewMemNetwork()
	server := network.Bind("router-srv")
	client := network.Bind("router-cli")
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	got := make(chan string, 1)
	router := NewRouter(server)
	router.Handle(types.GossipALPN, HandlerFunc(func(_ context.Context, conn Conn) {
		defer conn.Close()
		got <- conn.ALPN()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- router.Serve(ctx) }()

	stream, err := client.Dial(ctx, server.Addr(), types.GossipALPN)
	require.NoError(t, err)
	defer stream.Close()

	select {
	case alpn := <-got:
		assert.Equal(t, types.GossipALPN, alpn)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never saw the connection")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}

func TestRouterServeLeavesNoWatcher(t *testing.T) {
	network := NewMemNetwork()
	endpoint := network.Bind("router-leak")

	router := NewRouter(endpoint)

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- router.Serve(ctx) }()

	// Serve ends here through the endpoint, not through a cancel.
	endpoint.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after endpoint close")
	}

	// The cancellation watcher must not outlive Serve.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}
