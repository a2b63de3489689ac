package modbus

import (
	"errors"
	"fmt"
)

// ExceptionCode is the one-byte Modbus exception code.
type ExceptionCode byte

const (
	ExceptionIllegalFunction    ExceptionCode = 0x01
	ExceptionIllegalDataAddress ExceptionCode = 0x02
	ExceptionIllegalDataValue   ExceptionCode = 0x03
)

func (c ExceptionCode) String() string {
	switch c {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	default:
		return fmt.Sprintf("exception 0x%02X", byte(c))
	}
}

// ExceptionError is a protocol-level fault: either one the slave sends to a
// peer or one the master received from a device.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode ExceptionCode
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception: function 0x%02X: %s", e.FunctionCode, e.ExceptionCode)
}

var (
	// ErrTimeout means no complete response arrived in time.
	ErrTimeout = errors.New("response timeout")
	// ErrCRC means an RTU frame failed checksum validation.
	ErrCRC = errors.New("crc mismatch")
	// ErrFrame means bytes on the wire could not be framed.
	ErrFrame = errors.New("malformed frame")
	// ErrClosed means the transport was closed.
	ErrClosed = errors.New("transport closed")
)

// TransportError reports a failure below the protocol layer: timeouts,
// dropped connections and checksum errors. It never carries an exception.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is a transport-level failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsException returns the exception carried by err, if any.
func IsException(err error) (*ExceptionError, bool) {
	var ee *ExceptionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
