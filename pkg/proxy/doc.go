// Package proxy implements the Weft data plane: the outbound mesh proxy and
// the inbound mesh protocol handler.
//
// Outbound, the Proxy listens on a local TCP port, sniffs routing metadata
// from the first bytes of each connection (an HTTP Host header or a TLS SNI),
// resolves the owning cluster through the registry, opens a secure tunnel to
// that cluster's endpoint, and relays bytes in both directions.
//
// Inbound, the Handler accepts tunnel streams from peer clusters, validates
// the requested service against the local cluster's own advertisement, dials
// the backend, and relays.
//
//	client ──(Host/SNI)──▶ Proxy ──(tunnel + preamble)──▶ Handler ──▶ backend
//
// Metadata extraction never consumes bytes: sniffed data is replayed into the
// tunnel, so the backend sees the original byte stream. Every tunnel carries
// a JSON preamble frame naming the service, namespace, port, and source
// cluster, answered by a reply frame before relaying begins.
package proxy
