package modbus

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/sigurn/crc16"
)

const (
	maxRTUFrameLength = 256
	// serial reads return at least this often so deadlines are honoured
	serialReadTimeout = 50 * time.Millisecond
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 computes the Modbus checksum (poly 0xA001 reflected, init 0xFFFF).
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// EncodeRTU builds address + PDU + CRC, CRC low byte first.
func EncodeRTU(unit byte, pdu PDU) []byte {
	frame := make([]byte, 0, 4+len(pdu.Data))
	frame = append(frame, unit, pdu.FunctionCode)
	frame = append(frame, pdu.Data...)
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// DecodeRTU validates the checksum and splits the frame.
func DecodeRTU(frame []byte) (byte, PDU, error) {
	if len(frame) < 4 {
		return 0, PDU{}, fmt.Errorf("rtu frame too short: %d bytes: %w", len(frame), ErrFrame)
	}
	n := len(frame)
	want := CRC16(frame[:n-2])
	got := uint16(frame[n-2]) | uint16(frame[n-1])<<8
	if want != got {
		return 0, PDU{}, fmt.Errorf("expected 0x%04X, got 0x%04X: %w", want, got, ErrCRC)
	}
	pdu, err := ParsePDU(frame[1 : n-2])
	if err != nil {
		return 0, PDU{}, err
	}
	return frame[0], pdu, nil
}

// FrameSilence is the 3.5 character inter-frame gap for a baud rate,
// fixed at 1.75ms above 19200 baud. One character is 11 bits.
func FrameSilence(baud int) time.Duration {
	if baud <= 0 || baud > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(35*11) * time.Second / time.Duration(10*baud)
}

// RTUConfig tunes the RTU transport.
type RTUConfig struct {
	BaudRate int
	// Timeout bounds a Receive when the context has no deadline.
	Timeout time.Duration
	// FrameSilence overrides the gap derived from BaudRate.
	FrameSilence time.Duration
}

// RTUTransport frames PDUs for a serial line. A master-role transport sizes
// inbound frames as responses, a slave-role one as requests.
type RTUTransport struct {
	port    io.ReadWriteCloser
	timeout time.Duration
	silence time.Duration
	slave   bool

	mu     sync.Mutex
	lastIO time.Time
}

// NewRTUTransport wraps port for the master role.
func NewRTUTransport(port io.ReadWriteCloser, cfg RTUConfig) *RTUTransport {
	return newRTUTransport(port, cfg, false)
}

// NewRTUSlaveTransport wraps port for the slave role.
func NewRTUSlaveTransport(port io.ReadWriteCloser, cfg RTUConfig) *RTUTransport {
	return newRTUTransport(port, cfg, true)
}

func newRTUTransport(port io.ReadWriteCloser, cfg RTUConfig, slave bool) *RTUTransport {
	silence := cfg.FrameSilence
	if silence == 0 {
		silence = FrameSilence(cfg.BaudRate)
	}
	return &RTUTransport{
		port:    port,
		timeout: cfg.Timeout,
		silence: silence,
		slave:   slave,
	}
}

func (t *RTUTransport) Send(ctx context.Context, unit byte, pdu PDU) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if wait := t.silence - time.Since(t.lastIO); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return contextError("send", ctx.Err())
		case <-timer.C:
		}
	}

	if wd, ok := t.port.(writeDeadliner); ok {
		if err := wd.SetWriteDeadline(deadline(ctx, t.timeout)); err != nil {
			return wrapIOError("send", err)
		}
	}
	if _, err := t.port.Write(EncodeRTU(unit, pdu)); err != nil {
		return wrapIOError("send", err)
	}
	t.lastIO = time.Now()
	return nil
}

// Receive collects bytes until the line stays quiet for the inter-frame
// silence, then checks the CRC. The length implied by the function code is
// only a consistency check on a frame that already passed the CRC.
func (t *RTUTransport) Receive(ctx context.Context) (byte, PDU, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame, err := t.readFrame(ctx, deadline(ctx, t.timeout))
	if err != nil {
		return 0, PDU{}, err
	}
	t.lastIO = time.Now()

	unit, pdu, err := DecodeRTU(frame)
	if err != nil {
		return 0, PDU{}, &TransportError{Op: "receive", Err: err}
	}
	size, err := t.frameSize(frame)
	if err != nil {
		return 0, PDU{}, &TransportError{Op: "receive", Err: err}
	}
	if size > 0 && size != len(frame) {
		return 0, PDU{}, &TransportError{Op: "receive",
			Err: fmt.Errorf("fc 0x%02X frame has %d bytes, expected %d: %w", frame[1], len(frame), size, ErrFrame)}
	}
	return unit, pdu, nil
}

// readFrame returns everything received up to the first gap of at least
// t.silence. dl bounds the wait for the first byte; once bytes arrive, a
// passed deadline also ends the frame.
func (t *RTUTransport) readFrame(ctx context.Context, dl time.Time) ([]byte, error) {
	var (
		buf      []byte
		lastByte time.Time
		chunk    = make([]byte, maxRTUFrameLength)
	)
	rd, canDeadline := t.port.(readDeadliner)

	for {
		if err := ctx.Err(); err != nil {
			return nil, contextError("receive", err)
		}
		now := time.Now()
		if len(buf) > 0 && now.Sub(lastByte) >= t.silence {
			return buf, nil
		}
		if !dl.IsZero() && !now.Before(dl) {
			if len(buf) == 0 {
				return nil, &TransportError{Op: "receive", Err: ErrTimeout}
			}
			return buf, nil
		}

		readBy := dl
		if len(buf) > 0 {
			if gap := lastByte.Add(t.silence); readBy.IsZero() || gap.Before(readBy) {
				readBy = gap
			}
		}
		if canDeadline {
			if err := rd.SetReadDeadline(readBy); err != nil {
				return nil, wrapIOError("receive", err)
			}
		}

		n, err := t.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			lastByte = time.Now()
			if len(buf) > maxRTUFrameLength {
				return nil, &TransportError{Op: "receive", Err: fmt.Errorf("frame exceeds %d bytes: %w", maxRTUFrameLength, ErrFrame)}
			}
		}
		if err != nil && !isTimeout(err) {
			return nil, wrapIOError("receive", err)
		}
	}
}

// frameSize is the length implied by the function code and byte count.
// Zero means the length is not known for that function code.
func (t *RTUTransport) frameSize(frame []byte) (int, error) {
	if len(frame) < 2 {
		return 0, nil
	}
	fc := frame[1]

	if t.slave {
		switch fc {
		case FuncCodeWriteMultipleRegisters:
			if len(frame) < 7 {
				return 0, nil
			}
			return 9 + int(frame[6]), nil
		case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters, FuncCodeWriteSingleRegister:
			return 8, nil
		default:
			// unsupported functions are answered with an exception
			return 0, nil
		}
	}

	if fc&exceptionFlag != 0 {
		return 5, nil
	}
	switch fc {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return 5 + int(frame[2]), nil
	case FuncCodeWriteSingleRegister, FuncCodeWriteMultipleRegisters:
		return 8, nil
	default:
		return 0, fmt.Errorf("unexpected function code 0x%02X: %w", fc, ErrFrame)
	}
}

func (t *RTUTransport) Close() error {
	return t.port.Close()
}

// SerialConfig describes the RTU line.
type SerialConfig struct {
	// Device is a serial device path, or tcp://host:port for an RTU-over-TCP converter.
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	// RS485 drives RTS as the transceiver direction line.
	RS485 bool
}

// OpenRTUPort opens the serial device or dials the converter.
func OpenRTUPort(ctx context.Context, cfg SerialConfig) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(cfg.Device, "tcp://"); ok {
		d := net.Dialer{Timeout: 5 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial rtu converter %s: %w", addr, err)
		}
		return conn, nil
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  serialReadTimeout,
		RS485: serial.RS485Config{
			Enabled:           cfg.RS485,
			RtsHighDuringSend: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}
