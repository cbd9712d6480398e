package transport

import (
	"context"
	"io"
	"time"

	"github.com/cuemby/weft/pkg/types"
)

// Stream is a single bidirectional byte stream to a peer. Deadlines apply to
// the underlying connection, so relay code can enforce idle timeouts.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Conn is an accepted inbound connection. The transport has already
// authenticated the remote peer and negotiated the protocol identifier.
type Conn interface {
	Stream

	// PeerID is the authenticated identity of the remote endpoint.
	PeerID() types.NodeID

	// ALPN is the negotiated protocol identifier.
	ALPN() string
}

// Endpoint is a bound secure-transport endpoint. One endpoint multiplexes all
// mesh protocols for a process; traffic is distinguished by ALPN.
type Endpoint interface {
	// NodeID is this endpoint's identity.
	NodeID() types.NodeID

	// Addr is the reachability information advertised to peers.
	Addr() types.NodeAddr

	// Dial opens a stream to the peer described by addr, negotiating the
	// given protocol identifier. When addr pins a node ID, a peer
	// presenting a different identity fails the dial.
	Dial(ctx context.Context, addr types.NodeAddr, alpn string) (Stream, error)

	// Accept blocks for the next inbound connection. It unblocks with an
	// error once the endpoint is closed.
	Accept(ctx context.Context) (Conn, error)

	// Close shuts the endpoint down and unblocks Accept.
	Close() error
}
