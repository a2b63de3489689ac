package modbus

import (
	"encoding/binary"
	"fmt"
)

// Modbus function codes handled by the codec
const (
	FuncCodeReadHoldingRegisters   byte = 0x03
	FuncCodeReadInputRegisters     byte = 0x04
	FuncCodeWriteSingleRegister    byte = 0x06
	FuncCodeWriteMultipleRegisters byte = 0x10

	exceptionFlag byte = 0x80
)

// Quantity limits
const (
	MaxReadQuantity  = 125
	MaxWriteQuantity = 123
)

// PDU is the function code plus payload, independent of framing.
type PDU struct {
	FunctionCode byte
	Data         []byte
}

// Bytes returns the PDU in wire order.
func (p PDU) Bytes() []byte {
	b := make([]byte, 1+len(p.Data))
	b[0] = p.FunctionCode
	copy(b[1:], p.Data)
	return b
}

// IsException reports whether the exception flag is set.
func (p PDU) IsException() bool {
	return p.FunctionCode&exceptionFlag != 0
}

// ParsePDU splits raw PDU bytes.
func ParsePDU(b []byte) (PDU, error) {
	if len(b) < 1 {
		return PDU{}, fmt.Errorf("empty pdu: %w", ErrFrame)
	}
	data := make([]byte, len(b)-1)
	copy(data, b[1:])
	return PDU{FunctionCode: b[0], Data: data}, nil
}

// Request is an inbound request decoded on the slave side.
type Request struct {
	FunctionCode byte
	Address      uint16
	Quantity     uint16
	// Payload holds the register bytes of a write, two per register.
	Payload []byte
}

// IsRead reports whether the request reads registers.
func (r *Request) IsRead() bool {
	return r.FunctionCode == FuncCodeReadHoldingRegisters || r.FunctionCode == FuncCodeReadInputRegisters
}

// Words converts the write payload into register values.
func (r *Request) Words() []uint16 {
	return BytesToWords(r.Payload)
}

// DecodeRequest parses and validates a request PDU. Validation failures are
// returned as *ExceptionError so the caller can answer the peer.
func DecodeRequest(p PDU) (*Request, error) {
	req := &Request{FunctionCode: p.FunctionCode}

	switch p.FunctionCode {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		if len(p.Data) != 4 {
			return nil, exception(p.FunctionCode, ExceptionIllegalDataValue)
		}
		req.Address = binary.BigEndian.Uint16(p.Data[0:2])
		req.Quantity = binary.BigEndian.Uint16(p.Data[2:4])
		if req.Quantity < 1 || req.Quantity > MaxReadQuantity {
			return nil, exception(p.FunctionCode, ExceptionIllegalDataValue)
		}

	case FuncCodeWriteSingleRegister:
		if len(p.Data) != 4 {
			return nil, exception(p.FunctionCode, ExceptionIllegalDataValue)
		}
		req.Address = binary.BigEndian.Uint16(p.Data[0:2])
		req.Quantity = 1
		req.Payload = append([]byte(nil), p.Data[2:4]...)

	case FuncCodeWriteMultipleRegisters:
		if len(p.Data) < 5 {
			return nil, exception(p.FunctionCode, ExceptionIllegalDataValue)
		}
		req.Address = binary.BigEndian.Uint16(p.Data[0:2])
		req.Quantity = binary.BigEndian.Uint16(p.Data[2:4])
		byteCount := int(p.Data[4])
		if req.Quantity < 1 || req.Quantity > MaxWriteQuantity {
			return nil, exception(p.FunctionCode, ExceptionIllegalDataValue)
		}
		if byteCount != int(req.Quantity)*2 || len(p.Data)-5 != byteCount {
			return nil, exception(p.FunctionCode, ExceptionIllegalDataValue)
		}
		req.Payload = append([]byte(nil), p.Data[5:]...)

	default:
		return nil, exception(p.FunctionCode, ExceptionIllegalFunction)
	}

	return req, nil
}

func exception(fc byte, code ExceptionCode) *ExceptionError {
	return &ExceptionError{FunctionCode: fc, ExceptionCode: code}
}

// ReadRequest builds a 0x03 or 0x04 request.
func ReadRequest(fc byte, start, quantity uint16) (PDU, error) {
	if fc != FuncCodeReadHoldingRegisters && fc != FuncCodeReadInputRegisters {
		return PDU{}, fmt.Errorf("not a read function code: 0x%02X", fc)
	}
	if quantity < 1 || quantity > MaxReadQuantity {
		return PDU{}, fmt.Errorf("read quantity %d out of range 1..%d", quantity, MaxReadQuantity)
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], start)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return PDU{FunctionCode: fc, Data: data}, nil
}

// WriteSingleRequest builds a 0x06 request. The response echoes it verbatim.
func WriteSingleRequest(address, value uint16) PDU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return PDU{FunctionCode: FuncCodeWriteSingleRegister, Data: data}
}

// WriteMultipleRequest builds a 0x10 request.
func WriteMultipleRequest(start uint16, values []uint16) (PDU, error) {
	if len(values) < 1 || len(values) > MaxWriteQuantity {
		return PDU{}, fmt.Errorf("write quantity %d out of range 1..%d", len(values), MaxWriteQuantity)
	}
	data := make([]byte, 5, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:2], start)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(2 * len(values))
	data = append(data, WordsToBytes(values)...)
	return PDU{FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}, nil
}

// ReadResponse builds the answer to a read request.
func ReadResponse(fc byte, words []uint16) PDU {
	data := make([]byte, 1, 1+2*len(words))
	data[0] = byte(2 * len(words))
	data = append(data, WordsToBytes(words)...)
	return PDU{FunctionCode: fc, Data: data}
}

// WriteMultipleResponse echoes start address and quantity.
func WriteMultipleResponse(start, quantity uint16) PDU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], start)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return PDU{FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}
}

// ExceptionResponse builds an exception frame for fc.
func ExceptionResponse(fc byte, code ExceptionCode) PDU {
	return PDU{FunctionCode: fc | exceptionFlag, Data: []byte{byte(code)}}
}

// checkResponse turns an exception frame into *ExceptionError and rejects a
// response for another function.
func checkResponse(fc byte, resp PDU) error {
	if resp.FunctionCode == fc|exceptionFlag {
		if len(resp.Data) != 1 {
			return fmt.Errorf("exception response length %d: %w", len(resp.Data), ErrFrame)
		}
		return exception(fc, ExceptionCode(resp.Data[0]))
	}
	if resp.FunctionCode != fc {
		return fmt.Errorf("function code mismatch: sent 0x%02X, got 0x%02X: %w", fc, resp.FunctionCode, ErrFrame)
	}
	return nil
}

// DecodeReadResponse validates a read response against the requested quantity.
func DecodeReadResponse(fc byte, quantity uint16, resp PDU) ([]uint16, error) {
	if err := checkResponse(fc, resp); err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("read response too short: %w", ErrFrame)
	}
	byteCount := int(resp.Data[0])
	if byteCount != int(quantity)*2 || len(resp.Data)-1 != byteCount {
		return nil, fmt.Errorf("read response byte count %d, want %d: %w", byteCount, quantity*2, ErrFrame)
	}
	return BytesToWords(resp.Data[1:]), nil
}

// DecodeWriteResponse returns the two echoed words of a 0x06 or 0x10 response:
// address+value or start+quantity.
func DecodeWriteResponse(fc byte, resp PDU) (uint16, uint16, error) {
	if err := checkResponse(fc, resp); err != nil {
		return 0, 0, err
	}
	if len(resp.Data) != 4 {
		return 0, 0, fmt.Errorf("write response length %d: %w", len(resp.Data), ErrFrame)
	}
	return binary.BigEndian.Uint16(resp.Data[0:2]), binary.BigEndian.Uint16(resp.Data[2:4]), nil
}

// BytesToWords decodes big-endian register bytes. A trailing odd byte is ignored.
func BytesToWords(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return words
}

// WordsToBytes encodes registers big-endian.
func WordsToBytes(words []uint16) []byte {
	b := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(b[2*i:], w)
	}
	return b
}
