package modbus

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSlave(store *register.Store) (*Slave, *StatusLED) {
	led := &StatusLED{}
	return NewSlave(store, led, zap.NewNop()), led
}

func TestSlaveReadHolding(t *testing.T) {
	store := register.NewStoreWithDefault(0xFFFF)
	store.Set(40084, 1234)
	slave, led := newTestSlave(store)

	req, err := ReadRequest(FuncCodeReadHoldingRegisters, 40084, 2)
	require.NoError(t, err)

	resp := slave.Handle(req)
	assert.Equal(t, []byte{0x03, 0x04, 0x04, 0xD2, 0xFF, 0xFF}, resp.Bytes())

	_, toggles := led.State()
	assert.Equal(t, uint64(1), toggles)
}

func TestSlaveExceptions(t *testing.T) {
	tests := []struct {
		name string
		req  PDU
		want []byte
	}{
		{
			name: "input registers are not served",
			req:  PDU{FunctionCode: 0x04, Data: []byte{0x00, 0x00, 0x00, 0x01}},
			want: []byte{0x84, 0x01},
		},
		{
			name: "unknown function",
			req:  PDU{FunctionCode: 0x01, Data: []byte{0x00, 0x00, 0x00, 0x01}},
			want: []byte{0x81, 0x01},
		},
		{
			name: "read quantity too large",
			req:  PDU{FunctionCode: 0x03, Data: []byte{0x9C, 0x40, 0x00, 0x7E}},
			want: []byte{0x83, 0x03},
		},
		{
			name: "write to unpopulated address",
			req:  WriteSingleRequest(1, 5),
			want: []byte{0x86, 0x02},
		},
		{
			name: "write multiple byte count mismatch",
			req:  PDU{FunctionCode: 0x10, Data: []byte{0x9C, 0x94, 0x00, 0x01, 0x04, 0x00, 0x01}},
			want: []byte{0x90, 0x03},
		},
		{
			name: "write multiple quantity 2 with 2 payload bytes",
			req:  PDU{FunctionCode: 0x10, Data: []byte{0x9C, 0x94, 0x00, 0x02, 0x02, 0x00, 0x01}},
			want: []byte{0x90, 0x03},
		},
		{
			name: "read range past 65535",
			req:  PDU{FunctionCode: 0x03, Data: []byte{0xFF, 0xFF, 0x00, 0x02}},
			want: []byte{0x83, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := register.NewStoreWithDefault(0xFFFF)
			store.Set(40084, 7)
			slave, _ := newTestSlave(store)

			resp := slave.Handle(tt.req)
			assert.Equal(t, tt.want, resp.Bytes())

			v, err := store.Get(40084)
			require.NoError(t, err)
			assert.Equal(t, uint16(7), v, "store must stay untouched")
			assert.False(t, store.Has(1))
		})
	}
}

func TestSlaveReadWithoutDefault(t *testing.T) {
	store := register.NewStore()
	store.Set(10, 1)
	slave, _ := newTestSlave(store)

	req, err := ReadRequest(FuncCodeReadHoldingRegisters, 11, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x83, 0x02}, slave.Handle(req).Bytes())

	req, err = ReadRequest(FuncCodeReadHoldingRegisters, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x02, 0x00, 0x01}, slave.Handle(req).Bytes())
}

func TestSlaveWriteDoesNotWrap(t *testing.T) {
	store := register.NewStore()
	store.Set(65535, 7)
	slave, _ := newTestSlave(store)

	req, err := WriteMultipleRequest(65535, []uint16{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x02}, slave.Handle(req).Bytes())

	assert.False(t, store.Has(0))
	v, err := store.Get(65535)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v)

	single := WriteSingleRequest(65535, 9)
	assert.Equal(t, single, slave.Handle(single), "last address is writable")
}

func TestSlaveReadFillsGapsWithoutDefault(t *testing.T) {
	store := register.NewStore()
	store.Set(10, 1)
	store.Set(12, 3)
	slave, _ := newTestSlave(store)

	req, err := ReadRequest(FuncCodeReadHoldingRegisters, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x06, 0x00, 0x01, 0xFF, 0xFF, 0x00, 0x03}, slave.Handle(req).Bytes())
}

func TestSlaveWrites(t *testing.T) {
	store := register.NewStoreWithDefault(0xFFFF)
	store.Set(40080, 0, 0, 0)
	slave, _ := newTestSlave(store)

	req := WriteSingleRequest(40080, 2300)
	assert.Equal(t, req, slave.Handle(req), "single write echoes the request")

	multi, err := WriteMultipleRequest(40081, []uint16{2310, 2320})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x9C, 0x91, 0x00, 0x02}, slave.Handle(multi).Bytes())

	assert.Equal(t, []uint16{2300, 2310, 2320}, store.ReadRange(40080, 3))
}

func TestSlaveStatsAndObserver(t *testing.T) {
	store := register.NewStoreWithDefault(0xFFFF)
	slave, led := newTestSlave(store)

	var seen []ExceptionCode
	slave.SetObserver(func(fc byte, exc ExceptionCode) {
		seen = append(seen, exc)
	})

	req, err := ReadRequest(FuncCodeReadHoldingRegisters, 40000, 1)
	require.NoError(t, err)
	slave.Handle(req)
	slave.Handle(PDU{FunctionCode: 0x04, Data: []byte{0, 0, 0, 1}})

	assert.Equal(t, SlaveStats{Requests: 2, Exceptions: 1}, slave.Stats())
	assert.Equal(t, []ExceptionCode{0, ExceptionIllegalFunction}, seen)

	on, toggles := led.State()
	assert.False(t, on)
	assert.Equal(t, uint64(2), toggles)
}

func TestSlaveServeRTUDropsCorruptedFrames(t *testing.T) {
	slaveConn, peer := net.Pipe()
	defer peer.Close()

	store := register.NewStoreWithDefault(0xFFFF)
	store.Set(40084, 1234)
	slave, _ := newTestSlave(store)

	done := make(chan error, 1)
	go func() {
		done <- slave.Serve(context.Background(), NewRTUSlaveTransport(slaveConn, RTUConfig{FrameSilence: time.Millisecond}))
	}()

	req, err := ReadRequest(FuncCodeReadHoldingRegisters, 40084, 1)
	require.NoError(t, err)
	frame := EncodeRTU(1, req)

	corrupted := append([]byte(nil), frame...)
	corrupted[3] ^= 0x01
	_, err = peer.Write(corrupted)
	require.NoError(t, err)

	_, err = peer.Write(frame)
	require.NoError(t, err)

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	resp := make([]byte, 7)
	_, err = io.ReadFull(peer, resp)
	require.NoError(t, err)

	unit, p, err := DecodeRTU(resp)
	require.NoError(t, err)
	assert.Equal(t, byte(1), unit)
	assert.Equal(t, []byte{0x03, 0x02, 0x04, 0xD2}, p.Bytes())

	assert.Equal(t, uint64(1), slave.Stats().Requests)

	slaveConn.Close()
	err = <-done
	assert.ErrorIs(t, err, ErrClosed)
}
