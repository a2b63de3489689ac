package sunspec

import (
	"math"
	"testing"

	"github.com/KevinKickass/sunspec-gateway/internal/modbus"
	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestModel() *Model {
	return NewModel(register.NewStoreWithDefault(DefaultValue))
}

func TestTableLoaded(t *testing.T) {
	m := newTestModel()
	store := m.Store()

	assert.Equal(t, []uint16{0, 0, 1, 66}, store.ReadRange(40000, 4))
	assert.Equal(t, []uint16{101, 50}, store.ReadRange(40070, 2))
	assert.Equal(t, []uint16{120, 26, 4}, store.ReadRange(40122, 3))
	assert.Equal(t, []uint16{123, 24}, store.ReadRange(40150, 2))
	assert.Equal(t, []uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF}, store.ReadRange(40176, 4))
	assert.False(t, store.Has(AddrOptions), "options field is never populated")

	snap := m.Snapshot()
	assert.Equal(t, "Generic", snap.Manufacturer)
	assert.Equal(t, "unknown", snap.Model)
	assert.Equal(t, "0.0.1", snap.Version)
	assert.Equal(t, "0", snap.Serial)
	assert.Equal(t, int(StateOff), snap.State)
	assert.False(t, snap.Enabled)
}

func TestSetEnergySplit(t *testing.T) {
	m := newTestModel()

	for _, x := range []uint32{0, 1, 0xFFFF, 0x10000, 12000, 0xDEADBEEF, math.MaxUint32} {
		m.SetEnergy(x)
		w := m.Store().ReadRange(AddrEnergy, 2)
		assert.Equal(t, x, uint32(w[0])<<16|uint32(w[1]), "energy %d", x)
		assert.Equal(t, x, m.Snapshot().Energy)
	}
}

func TestSetEnabledMarkers(t *testing.T) {
	m := newTestModel()

	m.SetEnabled(true)
	assert.Equal(t, []uint16{0x5375, 0x6E53}, m.Store().ReadRange(AddrMarker, 2))
	assert.True(t, m.Enabled())

	m.SetEnabled(false)
	assert.Equal(t, []uint16{0, 0}, m.Store().ReadRange(AddrMarker, 2))
	assert.False(t, m.Enabled())
}

func TestPowerLimit(t *testing.T) {
	m := newTestModel()

	_, ok := m.PowerLimit()
	assert.False(t, ok, "disabled by default")

	m.Store().Set(AddrLimitPct, 60)
	_, ok = m.PowerLimit()
	assert.False(t, ok)

	m.Store().Set(AddrLimitEnabled, 1)
	pct, ok := m.PowerLimit()
	require.True(t, ok)
	assert.Equal(t, 60, pct)
}

func TestResetIsSafeState(t *testing.T) {
	m := newTestModel()
	for p := 0; p < 3; p++ {
		require.NoError(t, m.SetVoltage(p, 2300+p))
		require.NoError(t, m.SetCurrent(p, 5))
	}
	m.SetPower(1500)
	m.SetState(StateMPPT)
	m.SetEnergy(42)

	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, [3]int{0, 0, 0}, snap.Voltage)
	assert.Equal(t, [3]int{0, 0, 0}, snap.Current)
	assert.Equal(t, 0, snap.Power)
	assert.Equal(t, int(StateOff), snap.State)
	assert.Equal(t, uint32(42), snap.Energy, "energy counter survives a reset")
}

func TestSettersAddresses(t *testing.T) {
	m := newTestModel()

	require.NoError(t, m.SetVoltage(1, 2310))
	require.NoError(t, m.SetCurrent(2, 7))
	m.SetPower(-200)
	m.SetMaxPower(5000)

	store := m.Store()
	v, _ := store.Get(40081)
	assert.Equal(t, uint16(2310), v)
	v, _ = store.Get(40075)
	assert.Equal(t, uint16(7), v)
	v, _ = store.Get(40125)
	assert.Equal(t, uint16(5000), v)

	snap := m.Snapshot()
	assert.Equal(t, -200, snap.Power)
	assert.Equal(t, 5000, snap.MaxPower)

	assert.Error(t, m.SetVoltage(3, 1))
	assert.Error(t, m.SetCurrent(-1, 1))
}

func TestStringSetters(t *testing.T) {
	m := newTestModel()

	require.NoError(t, m.SetManufacturer("Carlo Gavazzi"))
	require.NoError(t, m.SetModel("EM24"))
	require.NoError(t, m.SetVersion("12345678901234.6"))
	require.NoError(t, m.SetSerial("DEADBEEF"))

	snap := m.Snapshot()
	assert.Equal(t, "Carlo Gavazzi", snap.Manufacturer)
	assert.Equal(t, "EM24", snap.Model)
	assert.Equal(t, "12345678901234.6", snap.Version)
	assert.Equal(t, "DEADBEEF", snap.Serial)

	err := m.SetVersion("12345678901234567")
	assert.ErrorIs(t, err, ErrStringTooLong)
	assert.Equal(t, "12345678901234.6", m.Snapshot().Version, "rejected input leaves the field untouched")
}

func TestSlaveServesModel(t *testing.T) {
	store := register.NewStore()
	store.Set(AddrPower, 0)
	m := &Model{store: store}
	slave := modbus.NewSlave(store, nil, zap.NewNop())

	req, err := modbus.ReadRequest(modbus.FuncCodeReadHoldingRegisters, AddrPower, 1)
	require.NoError(t, err)

	words, err := modbus.DecodeReadResponse(modbus.FuncCodeReadHoldingRegisters, 1, slave.Handle(req))
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, words)

	m.SetPower(1500)

	words, err = modbus.DecodeReadResponse(modbus.FuncCodeReadHoldingRegisters, 1, slave.Handle(req))
	require.NoError(t, err)
	assert.Equal(t, []uint16{1500}, words)
}
