package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	mbapHeaderLength  = 7
	maxTCPFrameLength = 260
	// unit id + largest PDU
	maxMBAPLength = maxTCPFrameLength - mbapHeaderLength + 1
)

// MBAPHeader is the 7-byte Modbus TCP header.
type MBAPHeader struct {
	TransactionID uint16 // request/response correlation
	ProtocolID    uint16 // always 0x0000
	Length        uint16 // unit id + PDU
	UnitID        uint8
}

// EncodeMBAP builds a complete TCP frame.
func EncodeMBAP(transactionID uint16, unit byte, pdu PDU) []byte {
	frame := make([]byte, mbapHeaderLength+1+len(pdu.Data))

	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], 0x0000)
	binary.BigEndian.PutUint16(frame[4:6], uint16(2+len(pdu.Data)))
	frame[6] = unit

	frame[7] = pdu.FunctionCode
	copy(frame[8:], pdu.Data)

	return frame
}

// DecodeMBAPHeader parses and validates the header.
func DecodeMBAPHeader(b []byte) (MBAPHeader, error) {
	if len(b) < mbapHeaderLength {
		return MBAPHeader{}, fmt.Errorf("mbap header too short: %d bytes: %w", len(b), ErrFrame)
	}

	h := MBAPHeader{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(b[2:4]),
		Length:        binary.BigEndian.Uint16(b[4:6]),
		UnitID:        b[6],
	}

	if h.ProtocolID != 0x0000 {
		return MBAPHeader{}, fmt.Errorf("invalid protocol ID 0x%04X: %w", h.ProtocolID, ErrFrame)
	}
	if h.Length < 2 || h.Length > maxMBAPLength {
		return MBAPHeader{}, fmt.Errorf("invalid mbap length %d: %w", h.Length, ErrFrame)
	}

	return h, nil
}

// DecodeMBAP splits a complete TCP frame.
func DecodeMBAP(frame []byte) (MBAPHeader, PDU, error) {
	h, err := DecodeMBAPHeader(frame)
	if err != nil {
		return MBAPHeader{}, PDU{}, err
	}
	if len(frame) != mbapHeaderLength-1+int(h.Length) {
		return MBAPHeader{}, PDU{}, fmt.Errorf("frame length %d does not match header length %d: %w", len(frame), h.Length, ErrFrame)
	}
	pdu, err := ParsePDU(frame[mbapHeaderLength:])
	if err != nil {
		return MBAPHeader{}, PDU{}, err
	}
	return h, pdu, nil
}

func readMBAP(r io.Reader) (MBAPHeader, PDU, error) {
	header := make([]byte, mbapHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return MBAPHeader{}, PDU{}, err
	}
	h, err := DecodeMBAPHeader(header)
	if err != nil {
		return MBAPHeader{}, PDU{}, err
	}
	body := make([]byte, int(h.Length)-1)
	if _, err := io.ReadFull(r, body); err != nil {
		return MBAPHeader{}, PDU{}, err
	}
	pdu, err := ParsePDU(body)
	if err != nil {
		return MBAPHeader{}, PDU{}, err
	}
	return h, pdu, nil
}

// TCPTransport frames PDUs with MBAP over a stream connection.
// In client role every Send allocates a new transaction id and Receive
// rejects a mismatch. In server role Send echoes the last received id.
type TCPTransport struct {
	conn    net.Conn
	client  bool
	timeout time.Duration

	mu            sync.Mutex
	transactionID uint16
}

// NewTCPClientTransport wraps conn for the master role.
func NewTCPClientTransport(conn net.Conn, timeout time.Duration) *TCPTransport {
	return &TCPTransport{conn: conn, client: true, timeout: timeout}
}

// NewTCPServerTransport wraps an accepted connection for the slave role.
// idle bounds the wait for the next request; zero waits forever.
func NewTCPServerTransport(conn net.Conn, idle time.Duration) *TCPTransport {
	return &TCPTransport{conn: conn, timeout: idle}
}

// DialTCP connects a client transport.
func DialTCP(ctx context.Context, address string, timeout time.Duration) (*TCPTransport, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return NewTCPClientTransport(conn, timeout), nil
}

func (t *TCPTransport) Send(ctx context.Context, unit byte, pdu PDU) error {
	t.mu.Lock()
	if t.client {
		t.transactionID++
	}
	txid := t.transactionID
	t.mu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline(ctx, t.timeout)); err != nil {
		return wrapIOError("send", err)
	}
	if _, err := t.conn.Write(EncodeMBAP(txid, unit, pdu)); err != nil {
		return wrapIOError("send", err)
	}
	return nil
}

func (t *TCPTransport) Receive(ctx context.Context) (byte, PDU, error) {
	if err := t.conn.SetReadDeadline(deadline(ctx, t.timeout)); err != nil {
		return 0, PDU{}, wrapIOError("receive", err)
	}

	h, pdu, err := readMBAP(t.conn)
	if err != nil {
		return 0, PDU{}, wrapIOError("receive", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client {
		if h.TransactionID != t.transactionID {
			return 0, PDU{}, &TransportError{
				Op:  "receive",
				Err: fmt.Errorf("transaction ID mismatch: expected %d, got %d: %w", t.transactionID, h.TransactionID, ErrFrame),
			}
		}
	} else {
		t.transactionID = h.TransactionID
	}

	return h.UnitID, pdu, nil
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the peer address.
func (t *TCPTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
