package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Master performs one request/response round trip per call over a transport.
// It never retries; callers own retry and fallback policy.
type Master struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
	mu        sync.Mutex
}

func NewMaster(transport Transport, timeout time.Duration, logger *zap.Logger) *Master {
	return &Master{
		transport: transport,
		timeout:   timeout,
		logger:    logger,
	}
}

// Close closes the underlying transport.
func (m *Master) Close() error {
	return m.transport.Close()
}

func (m *Master) roundTrip(ctx context.Context, unit byte, req PDU) (PDU, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.transport.Send(ctx, unit, req); err != nil {
		return PDU{}, err
	}

	respUnit, resp, err := m.transport.Receive(ctx)
	if err != nil {
		return PDU{}, err
	}
	if respUnit != unit {
		return PDU{}, &TransportError{
			Op:  "receive",
			Err: fmt.Errorf("unit mismatch: sent %d, got %d: %w", unit, respUnit, ErrFrame),
		}
	}

	m.logger.Debug("Modbus round trip",
		zap.Uint8("unit", unit),
		zap.Uint8("function_code", req.FunctionCode),
		zap.Bool("exception", resp.IsException()))

	return resp, nil
}

// ReadHoldingRegisters reads quantity holding registers from start.
func (m *Master) ReadHoldingRegisters(ctx context.Context, unit byte, start, quantity uint16, signed bool) ([]int, error) {
	return m.read(ctx, FuncCodeReadHoldingRegisters, unit, start, quantity, signed)
}

// ReadInputRegisters reads quantity input registers from start.
func (m *Master) ReadInputRegisters(ctx context.Context, unit byte, start, quantity uint16, signed bool) ([]int, error) {
	return m.read(ctx, FuncCodeReadInputRegisters, unit, start, quantity, signed)
}

func (m *Master) read(ctx context.Context, fc byte, unit byte, start, quantity uint16, signed bool) ([]int, error) {
	req, err := ReadRequest(fc, start, quantity)
	if err != nil {
		return nil, err
	}

	resp, err := m.roundTrip(ctx, unit, req)
	if err != nil {
		return nil, err
	}

	words, err := DecodeReadResponse(fc, quantity, resp)
	if err != nil {
		return nil, err
	}
	return decodeWords(words, signed), nil
}

// WriteSingleRegister writes one register and reports whether the echo matched.
func (m *Master) WriteSingleRegister(ctx context.Context, unit byte, address uint16, value int, signed bool) (bool, error) {
	word, err := encodeWord(value, signed)
	if err != nil {
		return false, err
	}

	resp, err := m.roundTrip(ctx, unit, WriteSingleRequest(address, word))
	if err != nil {
		return false, err
	}

	gotAddr, gotValue, err := DecodeWriteResponse(FuncCodeWriteSingleRegister, resp)
	if err != nil {
		if _, ok := IsException(err); ok {
			return false, err
		}
		return false, nil
	}
	return gotAddr == address && gotValue == word, nil
}

// WriteMultipleRegisters writes consecutive registers and reports whether the
// echoed start and quantity matched.
func (m *Master) WriteMultipleRegisters(ctx context.Context, unit byte, start uint16, values []int, signed bool) (bool, error) {
	words := make([]uint16, len(values))
	for i, v := range values {
		w, err := encodeWord(v, signed)
		if err != nil {
			return false, err
		}
		words[i] = w
	}

	req, err := WriteMultipleRequest(start, words)
	if err != nil {
		return false, err
	}

	resp, err := m.roundTrip(ctx, unit, req)
	if err != nil {
		return false, err
	}

	gotStart, gotQty, err := DecodeWriteResponse(FuncCodeWriteMultipleRegisters, resp)
	if err != nil {
		if _, ok := IsException(err); ok {
			return false, err
		}
		return false, nil
	}
	return gotStart == start && int(gotQty) == len(words), nil
}

func decodeWords(words []uint16, signed bool) []int {
	out := make([]int, len(words))
	for i, w := range words {
		if signed {
			out[i] = int(int16(w))
		} else {
			out[i] = int(w)
		}
	}
	return out
}

func encodeWord(v int, signed bool) (uint16, error) {
	if signed {
		if v < -32768 || v > 32767 {
			return 0, fmt.Errorf("value %d out of int16 range", v)
		}
		return uint16(int16(v)), nil
	}
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("value %d out of uint16 range", v)
	}
	return uint16(v), nil
}
