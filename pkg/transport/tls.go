package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/types"
)

const handshakeTimeout = 10 * time.Second

// TLSEndpoint implements Endpoint over TLS 1.3 on TCP. Peer authentication is
// key-pinning: each endpoint presents a self-signed certificate carrying its
// ed25519 identity key, and the dialer verifies the raw public key against the
// node ID it expects. No certificate authority is involved.
type TLSEndpoint struct {
	identity  Identity
	cert      tls.Certificate
	listener  net.Listener
	alpns     []string
	relayURL  string
	advertise []string
	logger    zerolog.Logger
}

// TLSOptions configures BindTLS beyond the identity and listen address.
type TLSOptions struct {
	// ALPNs are the protocol identifiers accepted inbound.
	ALPNs []string

	// RelayURL is advertised to peers as a reachability hint.
	RelayURL string

	// AdvertiseAddrs overrides the advertised direct addresses. Empty
	// advertises the bound listener address.
	AdvertiseAddrs []string
}

// BindTLS binds a TLS endpoint on listenAddr with the given identity.
func BindTLS(identity Identity, listenAddr string, opts TLSOptions) (*TLSEndpoint, error) {
	cert, err := selfSignedCert(identity)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind endpoint on %s: %w", listenAddr, err)
	}

	e := &TLSEndpoint{
		identity:  identity,
		cert:      cert,
		listener:  listener,
		alpns:     append([]string(nil), opts.ALPNs...),
		relayURL:  opts.RelayURL,
		advertise: append([]string(nil), opts.AdvertiseAddrs...),
		logger:    log.WithComponent("transport"),
	}
	e.logger.Info().
		Str("node_id", e.NodeID().Short()).
		Str("listen", listener.Addr().String()).
		Strs("alpns", e.alpns).
		Msg("endpoint bound")
	return e, nil
}

// NodeID returns this endpoint's identity.
func (e *TLSEndpoint) NodeID() types.NodeID {
	return e.identity.NodeID()
}

// Addr returns the reachability information advertised to peers.
func (e *TLSEndpoint) Addr() types.NodeAddr {
	addrs := e.advertise
	if len(addrs) == 0 {
		addrs = []string{e.listener.Addr().String()}
	}
	return types.NodeAddr{
		ID:          e.NodeID(),
		RelayURL:    e.relayURL,
		DirectAddrs: append([]string(nil), addrs...),
	}
}

// Dial opens a stream to addr, trying each direct address candidate in order.
func (e *TLSEndpoint) Dial(ctx context.Context, addr types.NodeAddr, alpn string) (Stream, error) {
	if len(addr.DirectAddrs) == 0 {
		return nil, fmt.Errorf("no direct addresses for peer %s", addr.ID.Short())
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{e.cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
		// Verification is key pinning, not chain validation.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: pinVerifier(addr.ID),
	}

	var lastErr error
	for _, candidate := range addr.DirectAddrs {
		stream, err := e.dialOne(ctx, candidate, cfg, alpn)
		if err != nil {
			lastErr = err
			e.logger.Debug().
				Err(err).
				Str("addr", candidate).
				Str("peer", addr.ID.Short()).
				Msg("dial candidate failed")
			continue
		}
		return stream, nil
	}
	return nil, fmt.Errorf("failed to dial peer %s: %w", addr.ID.Short(), lastErr)
}

func (e *TLSEndpoint) dialOne(ctx context.Context, addr string, cfg *tls.Config, alpn string) (Stream, error) {
	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, cfg)
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if got := conn.ConnectionState().NegotiatedProtocol; got != alpn {
		conn.Close()
		return nil, fmt.Errorf("peer did not negotiate %q (got %q)", alpn, got)
	}
	return conn, nil
}

// Accept blocks for the next inbound connection and completes its handshake.
func (e *TLSEndpoint) Accept(ctx context.Context) (Conn, error) {
	raw, err := e.listener.Accept()
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{e.cert},
		NextProtos:   append([]string(nil), e.alpns...),
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.RequireAnyClientCert,
	}
	conn := tls.Server(raw, cfg)

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		raw.Close()
		return nil, &acceptError{fmt.Errorf("handshake from %s: %w", raw.RemoteAddr(), err)}
	}

	state := conn.ConnectionState()
	peerID, err := peerNodeID(state)
	if err != nil {
		conn.Close()
		return nil, &acceptError{fmt.Errorf("peer identity from %s: %w", raw.RemoteAddr(), err)}
	}

	return &tlsConn{Conn: conn, peerID: peerID, alpn: state.NegotiatedProtocol}, nil
}

// Close shuts down the listener, unblocking Accept.
func (e *TLSEndpoint) Close() error {
	return e.listener.Close()
}

// acceptError marks per-connection accept failures that the accept loop should
// log and survive, as opposed to listener failures which are fatal.
type acceptError struct {
	err error
}

func (e *acceptError) Error() string { return e.err.Error() }
func (e *acceptError) Unwrap() error { return e.err }

// IsTransient reports whether an Accept error is scoped to one connection.
func IsTransient(err error) bool {
	var ae *acceptError
	return errors.As(err, &ae)
}

type tlsConn struct {
	*tls.Conn
	peerID types.NodeID
	alpn   string
}

func (c *tlsConn) PeerID() types.NodeID { return c.peerID }
func (c *tlsConn) ALPN() string         { return c.alpn }

func peerNodeID(state tls.ConnectionState) (types.NodeID, error) {
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("no peer certificate presented")
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("peer key is not ed25519")
	}
	return NodeIDFromPublicKey(pub), nil
}

// pinVerifier checks the presented certificate's raw public key against the
// expected node ID. An empty expectation accepts any authenticated identity.
func pinVerifier(expected types.NodeID) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no peer certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("invalid peer certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("peer key is not ed25519")
		}
		if expected != "" && NodeIDFromPublicKey(pub) != expected {
			return fmt.Errorf("peer identity mismatch: expected %s, got %s",
				expected.Short(), NodeIDFromPublicKey(pub).Short())
		}
		return nil
	}
}

func selfSignedCert(identity Identity) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: identity.NodeID().Short()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	priv := identity.PrivateKey()
	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create identity certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}
