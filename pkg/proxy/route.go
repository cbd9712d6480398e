package proxy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind distinguishes the framing a client connection presented, which decides
// both the metadata extractor and the shape of error responses.
type Kind int

const (
	// KindHTTP is text framing with a Host header.
	KindHTTP Kind = iota
	// KindTLS is an opaque TLS stream routed by SNI.
	KindTLS
)

// Route is the routing metadata extracted from the first bytes of a client
// connection. Port zero means "use the advertised service port".
type Route struct {
	Service   string
	Namespace string
	Port      uint16
	Kind      Kind
}

// sniffBufferSize bounds how much of a connection may be buffered while
// extracting routing metadata. A ClientHello or HTTP header block larger than
// this is rejected.
const sniffBufferSize = 16 * 1024

// extractRoute sniffs the first bytes of a client connection and extracts the
// destination service without consuming anything: all peeked bytes remain
// buffered in br and are relayed to the backend verbatim.
func extractRoute(br *bufio.Reader) (Route, error) {
	first, err := br.Peek(1)
	if err != nil {
		return Route{}, fmt.Errorf("connection closed before routing metadata: %w", err)
	}

	// 0x16 is a TLS handshake record; everything else is treated as text.
	if first[0] == 0x16 {
		return extractSNIRoute(br)
	}
	return extractHostRoute(br)
}

// extractHostRoute parses HTTP-style text framing for a Host header.
func extractHostRoute(br *bufio.Reader) (Route, error) {
	header, err := peekUntilHeaderEnd(br)
	if err != nil {
		return Route{}, err
	}

	for _, line := range strings.Split(string(header), "\r\n")[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "host") {
			continue
		}
		route, err := routeFromHost(strings.TrimSpace(value))
		if err != nil {
			return Route{}, err
		}
		route.Kind = KindHTTP
		return route, nil
	}
	return Route{}, fmt.Errorf("no Host header in request")
}

// peekUntilHeaderEnd peeks a growing window until the end of the header block
// is visible, without consuming from the reader. Each iteration waits for at
// most one more byte, so a complete short request is parsed immediately.
func peekUntilHeaderEnd(br *bufio.Reader) ([]byte, error) {
	for want := 4; ; {
		data, err := br.Peek(want)
		if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
			return data[:idx], nil
		}
		if err != nil {
			return nil, fmt.Errorf("connection ended before header block: %w", err)
		}
		want = br.Buffered() + 1
		if want > sniffBufferSize {
			return nil, fmt.Errorf("header block exceeds %d bytes", sniffBufferSize)
		}
	}
}

// extractSNIRoute parses the SNI extension out of a TLS ClientHello.
func extractSNIRoute(br *bufio.Reader) (Route, error) {
	// TLS record header: type(1) version(2) length(2).
	header, err := br.Peek(5)
	if err != nil {
		return Route{}, fmt.Errorf("short TLS record header: %w", err)
	}
	recordLen := int(binary.BigEndian.Uint16(header[3:5]))
	if 5+recordLen > sniffBufferSize {
		return Route{}, fmt.Errorf("TLS ClientHello of %d bytes exceeds sniff buffer", recordLen)
	}

	record, err := br.Peek(5 + recordLen)
	if err != nil {
		return Route{}, fmt.Errorf("short TLS ClientHello: %w", err)
	}

	serverName, err := parseClientHelloSNI(record[5:])
	if err != nil {
		return Route{}, err
	}
	route, err := routeFromHost(serverName)
	if err != nil {
		return Route{}, err
	}
	route.Kind = KindTLS
	return route, nil
}

// parseClientHelloSNI walks a ClientHello handshake message and returns the
// server_name extension value.
func parseClientHelloSNI(msg []byte) (string, error) {
	s := cryptoReader{data: msg}

	// Handshake header: msg_type(1) length(3).
	msgType, ok := s.u8()
	if !ok || msgType != 0x01 {
		return "", fmt.Errorf("not a ClientHello")
	}
	s.skip(3)

	// client_version(2) random(32).
	s.skip(2 + 32)

	// session_id, cipher_suites, compression_methods.
	if !s.skipVec(1) || !s.skipVec(2) || !s.skipVec(1) {
		return "", fmt.Errorf("malformed ClientHello")
	}

	extLen, ok := s.u16()
	if !ok {
		return "", fmt.Errorf("ClientHello has no extensions")
	}
	exts := cryptoReader{data: s.take(int(extLen))}

	for len(exts.data) > exts.off {
		extType, ok1 := exts.u16()
		extSize, ok2 := exts.u16()
		if !ok1 || !ok2 {
			return "", fmt.Errorf("malformed extensions")
		}
		body := exts.take(int(extSize))
		if extType != 0x00 {
			continue
		}

		// server_name extension: list length(2), then entries of
		// type(1) + name length(2) + name.
		sni := cryptoReader{data: body}
		sni.skip(2)
		nameType, ok := sni.u8()
		if !ok || nameType != 0x00 {
			return "", fmt.Errorf("malformed server_name extension")
		}
		nameLen, ok := sni.u16()
		if !ok {
			return "", fmt.Errorf("malformed server_name extension")
		}
		name := sni.take(int(nameLen))
		if len(name) != int(nameLen) {
			return "", fmt.Errorf("malformed server_name extension")
		}
		return string(name), nil
	}
	return "", fmt.Errorf("ClientHello carries no SNI")
}

// cryptoReader is a bounds-checked cursor over TLS vector encoding.
type cryptoReader struct {
	data []byte
	off  int
}

func (r *cryptoReader) u8() (byte, bool) {
	if r.off+1 > len(r.data) {
		return 0, false
	}
	b := r.data[r.off]
	r.off++
	return b, true
}

func (r *cryptoReader) u16() (uint16, bool) {
	if r.off+2 > len(r.data) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, true
}

func (r *cryptoReader) skip(n int) {
	r.off += n
	if r.off > len(r.data) {
		r.off = len(r.data)
	}
}

// skipVec skips a length-prefixed vector with the given length width.
func (r *cryptoReader) skipVec(width int) bool {
	var n int
	switch width {
	case 1:
		v, ok := r.u8()
		if !ok {
			return false
		}
		n = int(v)
	case 2:
		v, ok := r.u16()
		if !ok {
			return false
		}
		n = int(v)
	}
	if r.off+n > len(r.data) {
		return false
	}
	r.off += n
	return true
}

func (r *cryptoReader) take(n int) []byte {
	if r.off+n > len(r.data) {
		n = len(r.data) - r.off
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

// routeFromHost maps a host-style destination ("api.default:8080",
// "api.prod.svc.cluster.local") to a service route. The first label is the
// service name, the second the namespace; a bare name defaults to the
// "default" namespace.
func routeFromHost(host string) (Route, error) {
	if host == "" {
		return Route{}, fmt.Errorf("empty destination host")
	}

	var port uint16
	if h, p, err := net.SplitHostPort(host); err == nil {
		parsed, perr := strconv.ParseUint(p, 10, 16)
		if perr != nil {
			return Route{}, fmt.Errorf("invalid destination port %q", p)
		}
		host = h
		port = uint16(parsed)
	}

	labels := strings.Split(host, ".")
	route := Route{Service: labels[0], Namespace: "default", Port: port}
	if route.Service == "" {
		return Route{}, fmt.Errorf("empty service name in host %q", host)
	}
	if len(labels) > 1 && labels[1] != "" {
		route.Namespace = labels[1]
	}
	return route, nil
}
