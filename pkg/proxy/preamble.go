package proxy

import (
	"fmt"
	"time"

	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

// preambleTimeout bounds the preamble exchange on a fresh tunnel so neither
// side blocks indefinitely on a peer that never speaks.
const preambleTimeout = 10 * time.Second

// Preamble is the first frame on every tunnel stream. It names the backend
// the dialing proxy resolved, so the receiving handler can dispatch without
// re-parsing application bytes.
type Preamble struct {
	Service       string          `json:"service"`
	Namespace     string          `json:"namespace"`
	Port          uint16          `json:"port,omitempty"`
	SourceCluster types.ClusterID `json:"source_cluster"`
}

// PreambleReply is the handler's verdict before raw bytes flow.
type PreambleReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// writePreamble sends the preamble and waits for the handler's reply.
func writePreamble(stream transport.Stream, p Preamble) (PreambleReply, error) {
	deadline := time.Now().Add(preambleTimeout)
	if err := stream.SetDeadline(deadline); err != nil {
		return PreambleReply{}, err
	}
	defer stream.SetDeadline(time.Time{})

	if err := transport.WriteFrame(stream, p); err != nil {
		return PreambleReply{}, fmt.Errorf("failed to send preamble: %w", err)
	}
	var reply PreambleReply
	if err := transport.ReadFrame(stream, &reply); err != nil {
		return PreambleReply{}, fmt.Errorf("failed to read preamble reply: %w", err)
	}
	return reply, nil
}

// readPreamble reads the dialing side's preamble with a bounded deadline.
func readPreamble(stream transport.Stream) (Preamble, error) {
	if err := stream.SetReadDeadline(time.Now().Add(preambleTimeout)); err != nil {
		return Preamble{}, err
	}
	defer stream.SetReadDeadline(time.Time{})

	var p Preamble
	if err := transport.ReadFrame(stream, &p); err != nil {
		return Preamble{}, fmt.Errorf("failed to read preamble: %w", err)
	}
	if p.Service == "" {
		return Preamble{}, fmt.Errorf("preamble names no service")
	}
	if p.Namespace == "" {
		p.Namespace = "default"
	}
	return p, nil
}

// writeReply sends the handler's verdict.
func writeReply(stream transport.Stream, reply PreambleReply) error {
	if err := stream.SetWriteDeadline(time.Now().Add(preambleTimeout)); err != nil {
		return err
	}
	defer stream.SetWriteDeadline(time.Time{})
	return transport.WriteFrame(stream, reply)
}
