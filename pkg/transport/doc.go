/*
Package transport provides the secure peer-to-peer transport capability used
by the mesh: authenticated, encrypted, protocol-multiplexed connections
between cluster endpoints.

The rest of the codebase consumes only the Endpoint, Conn and Stream
interfaces, injected at construction. Two implementations exist:

  - TLSEndpoint: TLS 1.3 over TCP. Identity is an ed25519 keypair; each side
    presents a self-signed certificate carrying its key, and authentication is
    raw public-key pinning against the expected node ID. The mesh protocol
    identifier travels as the TLS ALPN, so one endpoint multiplexes data-plane
    tunnels and gossip.
  - MemEndpoint: an in-process network for tests, with net.Pipe streams so
    deadline and close behavior match production.

# Accept loop

Router owns an endpoint's accept loop and dispatches each accepted connection
to the Handler registered for its negotiated ALPN. Per-connection failures
(handshake errors, unknown protocols) are logged and survived; a listener
failure is returned to the caller and treated as process-fatal, since the
process has silently lost a capability otherwise.

# Control frames

WriteFrame/ReadFrame implement the length-prefixed JSON framing shared by the
tunnel preamble and the gossip exchange. Data-plane bytes are never framed;
after the preamble a tunnel stream is a raw byte pipe.
*/
package transport
