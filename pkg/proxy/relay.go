package proxy

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// relayEnd is one side of a relay: the reader may be buffered (the client
// side keeps its sniffed bytes), while deadlines and closes go to the
// underlying connection.
type relayEnd struct {
	name            string
	reader          io.Reader
	writer          io.Writer
	closer          io.Closer
	setReadDeadline func(time.Time) error
}

type copyResult struct {
	n   int64
	err error
}

// relay copies bytes in both directions until either side closes, errors, or
// the idle timeout elapses. Both connections are closed before relay returns;
// a half-open stream never outlives its sibling.
func relay(a, b relayEnd, idle time.Duration) (aToB, bToA int64, err error) {
	upCh := make(chan copyResult, 1)
	downCh := make(chan copyResult, 1)

	// Idle is defined over the whole relay: bytes moving in either direction
	// keep both alive. Each copier refreshes this shared timestamp.
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	go copyOneWay(b, a, idle, &lastActivity, upCh)
	go copyOneWay(a, b, idle, &lastActivity, downCh)

	// The first direction to finish decides the outcome; closing both ends
	// unblocks the other direction.
	var first copyResult
	var firstUp bool
	select {
	case first = <-upCh:
		firstUp = true
	case first = <-downCh:
	}
	a.closer.Close()
	b.closer.Close()

	var second copyResult
	if firstUp {
		second = <-downCh
		aToB, bToA = first.n, second.n
	} else {
		second = <-upCh
		aToB, bToA = second.n, first.n
	}

	if relayErr := classifyRelayError(first.err); relayErr != nil {
		return aToB, bToA, relayErr
	}
	return aToB, bToA, nil
}

// copyOneWay copies src to dst under a shared idle window. The read deadline
// only arms the wakeup: when it expires while the opposite direction was
// recently active, the read is re-armed instead of failing, so a one-way
// stream (silent request, long response) is not torn down as idle.
func copyOneWay(dst, src relayEnd, idle time.Duration, lastActivity *atomic.Int64, out chan<- copyResult) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		if idle > 0 {
			if err := src.setReadDeadline(time.Now().Add(idle)); err != nil {
				out <- copyResult{total, err}
				return
			}
		}
		n, rerr := src.reader.Read(buf)
		if n > 0 {
			lastActivity.Store(time.Now().UnixNano())
			total += int64(n)
			if _, werr := dst.writer.Write(buf[:n]); werr != nil {
				out <- copyResult{total, werr}
				return
			}
		}
		if rerr != nil {
			if idle > 0 && isTimeout(rerr) &&
				time.Since(time.Unix(0, lastActivity.Load())) < idle {
				continue
			}
			out <- copyResult{total, rerr}
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errRelayIdle reports an idle-timeout teardown.
var errRelayIdle = errors.New("relay idle timeout")

// classifyRelayError separates expected stream endings from real relay
// failures. EOF and closes caused by our own teardown are clean; an expired
// read deadline means the idle timeout fired.
func classifyRelayError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	if isTimeout(err) {
		return errRelayIdle
	}
	// TLS wraps the underlying close in its own error string.
	if strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}
