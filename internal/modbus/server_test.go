package modbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/register"
	gomodbus "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestServer(t *testing.T, store *register.Store) *TCPServer {
	t.Helper()

	slave := NewSlave(store, &StatusLED{}, zap.NewNop())
	srv := NewTCPServer("127.0.0.1:0", slave, 0, zap.NewNop())
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})
	return srv
}

func dialTestClient(t *testing.T, srv *TCPServer, unit byte) gomodbus.Client {
	t.Helper()

	handler := gomodbus.NewTCPClientHandler(srv.Addr().String())
	handler.Timeout = time.Second
	handler.SlaveId = unit
	require.NoError(t, handler.Connect())
	t.Cleanup(func() { handler.Close() })
	return gomodbus.NewClient(handler)
}

func TestTCPServerWithThirdPartyClient(t *testing.T) {
	store := register.NewStoreWithDefault(0xFFFF)
	store.Set(40084, 1234)
	store.Set(40080, 0, 0, 0)
	srv := startTestServer(t, store)
	client := dialTestClient(t, srv, 1)

	results, err := client.ReadHoldingRegisters(40084, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0xD2}, results)

	results, err = client.WriteSingleRegister(40080, 2300)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0xFC}, results)

	results, err = client.WriteMultipleRegisters(40081, 2, []byte{0x09, 0x06, 0x09, 0x10})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02}, results)

	assert.Equal(t, []uint16{2300, 2310, 2320}, store.ReadRange(40080, 3))
}

func TestTCPServerAnswersAnyUnit(t *testing.T) {
	store := register.NewStoreWithDefault(0xFFFF)
	store.Set(40000, 0x5375, 0x6E53)
	srv := startTestServer(t, store)
	client := dialTestClient(t, srv, 17)

	results, err := client.ReadHoldingRegisters(40000, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x53, 0x75, 0x6E, 0x53}, results)
}

func TestTCPServerExceptions(t *testing.T) {
	srv := startTestServer(t, register.NewStoreWithDefault(0xFFFF))
	client := dialTestClient(t, srv, 1)

	_, err := client.ReadInputRegisters(0, 1)
	var mbErr *gomodbus.ModbusError
	require.True(t, errors.As(err, &mbErr), "got %v", err)
	assert.Equal(t, byte(gomodbus.ExceptionCodeIllegalFunction), mbErr.ExceptionCode)

	_, err = client.WriteSingleRegister(1, 1)
	require.True(t, errors.As(err, &mbErr), "got %v", err)
	assert.Equal(t, byte(gomodbus.ExceptionCodeIllegalDataAddress), mbErr.ExceptionCode)
}

func TestTCPServerShutdownClosesClients(t *testing.T) {
	slave := NewSlave(register.NewStoreWithDefault(0), nil, zap.NewNop())
	srv := NewTCPServer("127.0.0.1:0", slave, 0, zap.NewNop())
	require.NoError(t, srv.Start())

	handler := gomodbus.NewTCPClientHandler(srv.Addr().String())
	handler.Timeout = time.Second
	require.NoError(t, handler.Connect())
	defer handler.Close()

	_, err := gomodbus.NewClient(handler).ReadHoldingRegisters(0, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Nil(t, srv.Addr())
}

func TestTCPServerWithMaster(t *testing.T) {
	store := register.NewStore()
	store.Set(40084, 1500)
	store.Set(65535, 7)
	srv := startTestServer(t, store)

	ctx := context.Background()
	transport, err := DialTCP(ctx, srv.Addr().String(), time.Second)
	require.NoError(t, err)
	master := NewMaster(transport, time.Second, zap.NewNop())
	defer master.Close()

	words, err := master.ReadHoldingRegisters(ctx, 1, 40084, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1500, 0xFFFF}, words, "gap inside the range reads as 0xFFFF")

	_, err = master.WriteMultipleRegisters(ctx, 1, 65535, []int{1, 2}, false)
	ee, ok := IsException(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ExceptionIllegalDataAddress, ee.ExceptionCode)
	assert.False(t, store.Has(0), "write must not wrap to address 0")

	_, err = DialTCP(ctx, "127.0.0.1:1", 100*time.Millisecond)
	assert.Error(t, err)
}
