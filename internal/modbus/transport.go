package modbus

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/goburrow/serial"
)

// Transport delivers and awaits PDUs over one framing strategy.
// The slave engine and the master client depend only on this interface.
type Transport interface {
	Send(ctx context.Context, unit byte, pdu PDU) error
	Receive(ctx context.Context) (byte, PDU, error)
	Close() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// deadline picks the context deadline, falling back to now+fallback.
// A zero fallback with no context deadline means no deadline.
func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if fallback > 0 {
		return time.Now().Add(fallback)
	}
	return time.Time{}
}

// isTimeout matches net, os and serial timeouts.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, ErrTimeout) || errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// contextError reports a finished context, an expired deadline as ErrTimeout.
func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Err: ErrTimeout}
	}
	return &TransportError{Op: op, Err: err}
}

// wrapIOError classifies an I/O error as a transport failure.
func wrapIOError(op string, err error) error {
	switch {
	case isTimeout(err):
		return &TransportError{Op: op, Err: ErrTimeout}
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return &TransportError{Op: op, Err: ErrClosed}
	default:
		return &TransportError{Op: op, Err: err}
	}
}
