package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/weft/pkg/types"
)

// MemNetwork is an in-process transport for tests: endpoints are looked up by
// node ID and streams are net.Pipe pairs, so deadline and close semantics
// match the TLS transport.
type MemNetwork struct {
	mu        sync.Mutex
	endpoints map[types.NodeID]*MemEndpoint
}

// NewMemNetwork creates an empty in-process network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{endpoints: make(map[types.NodeID]*MemEndpoint)}
}

// Bind creates an endpoint reachable under the given name.
func (n *MemNetwork) Bind(name string) *MemEndpoint {
	e := &MemEndpoint{
		network:  n,
		id:       types.NodeID("mem-" + name),
		acceptCh: make(chan Conn, 16),
		closed:   make(chan struct{}),
	}

	n.mu.Lock()
	n.endpoints[e.id] = e
	n.mu.Unlock()
	return e
}

func (n *MemNetwork) lookup(id types.NodeID) (*MemEndpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.endpoints[id]
	return e, ok
}

func (n *MemNetwork) remove(id types.NodeID) {
	n.mu.Lock()
	delete(n.endpoints, id)
	n.mu.Unlock()
}

// MemEndpoint implements Endpoint within a MemNetwork.
type MemEndpoint struct {
	network  *MemNetwork
	id       types.NodeID
	acceptCh chan Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func (e *MemEndpoint) NodeID() types.NodeID {
	return e.id
}

func (e *MemEndpoint) Addr() types.NodeAddr {
	return types.NodeAddr{ID: e.id, DirectAddrs: []string{"mem"}}
}

func (e *MemEndpoint) Dial(ctx context.Context, addr types.NodeAddr, alpn string) (Stream, error) {
	target, ok := e.network.lookup(addr.ID)
	if !ok {
		return nil, fmt.Errorf("no such peer: %s", addr.ID)
	}

	local, remote := net.Pipe()
	inbound := &memConn{Conn: remote, peerID: e.id, alpn: alpn}

	select {
	case target.acceptCh <- inbound:
		return local, nil
	case <-target.closed:
		local.Close()
		return nil, fmt.Errorf("peer %s is closed", addr.ID)
	case <-ctx.Done():
		local.Close()
		return nil, ctx.Err()
	}
}

func (e *MemEndpoint) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-e.acceptCh:
		return conn, nil
	case <-e.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *MemEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.network.remove(e.id)
	})
	return nil
}

type memConn struct {
	net.Conn
	peerID types.NodeID
	alpn   string
}

func (c *memConn) PeerID() types.NodeID { return c.peerID }
func (c *memConn) ALPN() string         { return c.alpn }
