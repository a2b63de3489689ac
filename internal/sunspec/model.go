package sunspec

import (
	"fmt"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/register"
)

// DefaultValue answers reads of unmapped SunSpec addresses.
const DefaultValue uint16 = 0xFFFF

// Operating states (model 101 St)
const (
	StateOff      uint16 = 1
	StateSleeping uint16 = 2
	StateMPPT     uint16 = 4
)

// Data point addresses
const (
	AddrMarker       uint16 = 40000
	AddrManufacturer uint16 = 40004
	AddrModel        uint16 = 40020
	AddrOptions      uint16 = 40036
	AddrVersion      uint16 = 40044
	AddrSerial       uint16 = 40052
	AddrCurrent      uint16 = 40073 // phase A, B, C follow
	AddrVoltage      uint16 = 40080 // phase A-N, B-N, C-N follow
	AddrPower        uint16 = 40084
	AddrEnergy       uint16 = 40094
	AddrState        uint16 = 40108
	AddrMaxPower     uint16 = 40125
	AddrLimitPct     uint16 = 40155
	AddrLimitEnabled uint16 = 40159
)

// Field lengths in registers
const (
	ManufacturerWords = 16
	ModelWords        = 16
	VersionWords      = 8
	SerialWords       = 16
)

const (
	markerHi uint16 = 0x5375 // "Su"
	markerLo uint16 = 0x6E53 // "nS"
	phases          = 3
)

// Block is one table entry: consecutive registers starting at Address.
type Block struct {
	Address uint16
	Words   []uint16
}

func fill(n int, v uint16) []uint16 {
	w := make([]uint16, n)
	for i := range w {
		w[i] = v
	}
	return w
}

func mustString(s string, words int) []uint16 {
	w, err := EncodeString(s, words)
	if err != nil {
		panic(err)
	}
	return w
}

// Table returns the static layout of models 1, 101, 120 and 123 and the
// end marker. Options (40036) stays unmapped.
func Table() []Block {
	return []Block{
		// Model 1, common
		{40000, []uint16{0, 0}},
		{40002, []uint16{1}},
		{40003, []uint16{66}},
		{AddrManufacturer, mustString("Generic", ManufacturerWords)},
		{AddrModel, mustString("unknown", ModelWords)},
		{AddrVersion, mustString("0.0.1", VersionWords)},
		{AddrSerial, mustString("0", SerialWords)},
		{40068, []uint16{126}}, // device address
		{40069, []uint16{0xFFFF}},

		// Model 101, single phase inverter
		{40070, []uint16{101}},
		{40071, []uint16{50}},
		{40072, []uint16{0}},                     // A
		{40073, []uint16{0, 0xFFFF, 0xFFFF}},     // AphA, AphB, AphC
		{40076, []uint16{0}},                     // A_SF
		{40077, []uint16{0xFFFF, 0xFFFF, 0xFFFF}}, // PPVphAB, PPVphBC, PPVphCA
		{40080, []uint16{0, 0xFFFF, 0xFFFF}},     // PhVphA, PhVphB, PhVphC
		{40083, []uint16{0xFFFF}},                // V_SF = -1
		{40084, []uint16{0}},                     // W
		{40085, []uint16{0}},
		{40086, []uint16{0}}, // Hz
		{40087, []uint16{0}},
		{40094, []uint16{0, 0}}, // WH
		{40096, []uint16{0}},
		{40103, []uint16{0}}, // TmpCab
		{40107, []uint16{0}},
		{40108, []uint16{StateOff}},
		{40110, fill(4, 0)}, // Evt1, Evt2

		// Model 120, nameplate
		{40122, []uint16{120}},
		{40123, []uint16{26}},
		{40124, []uint16{4}}, // DERTyp = PV
		{40125, []uint16{0}}, // WRtg
		{40126, []uint16{0}},

		// Model 123, immediate controls
		{40150, []uint16{123}},
		{40151, []uint16{24}},
		{AddrLimitPct, []uint16{100}},
		{40157, []uint16{0}},
		{AddrLimitEnabled, []uint16{0}},
		{40173, []uint16{0}},

		// end
		{40176, fill(4, 0xFFFF)},
	}
}

// Model is the typed view of the SunSpec map held in a register store.
// Each setter is a single Store.Set, so readers never see a half-written field.
type Model struct {
	store *register.Store
}

// NewModel loads the table into store.
func NewModel(store *register.Store) *Model {
	for _, b := range Table() {
		store.Set(b.Address, b.Words...)
	}
	return &Model{store: store}
}

// Store returns the backing register store.
func (m *Model) Store() *register.Store {
	return m.store
}

func checkPhase(phase int) error {
	if phase < 0 || phase >= phases {
		return fmt.Errorf("phase %d out of range 0..%d", phase, phases-1)
	}
	return nil
}

// SetVoltage writes the phase-to-neutral voltage in 0.1 V.
func (m *Model) SetVoltage(phase int, value int) error {
	if err := checkPhase(phase); err != nil {
		return err
	}
	m.store.Set(AddrVoltage+uint16(phase), uint16(value))
	return nil
}

// SetCurrent writes the phase current in A.
func (m *Model) SetCurrent(phase int, value int) error {
	if err := checkPhase(phase); err != nil {
		return err
	}
	m.store.Set(AddrCurrent+uint16(phase), uint16(value))
	return nil
}

// SetPower writes AC power in W. Negative values are stored two's complement.
func (m *Model) SetPower(value int) {
	m.store.Set(AddrPower, uint16(value))
}

// SetEnergy writes the lifetime energy counter in Wh, high word first.
func (m *Model) SetEnergy(value uint32) {
	m.store.Set(AddrEnergy, uint16(value>>16), uint16(value))
}

func (m *Model) SetState(state uint16) {
	m.store.Set(AddrState, state)
}

func (m *Model) SetMaxPower(watts uint16) {
	m.store.Set(AddrMaxPower, watts)
}

func (m *Model) setString(addr uint16, words int, s string) error {
	w, err := EncodeString(s, words)
	if err != nil {
		return err
	}
	m.store.Set(addr, w...)
	return nil
}

func (m *Model) SetManufacturer(s string) error {
	return m.setString(AddrManufacturer, ManufacturerWords, s)
}

func (m *Model) SetModel(s string) error {
	return m.setString(AddrModel, ModelWords, s)
}

func (m *Model) SetVersion(s string) error {
	return m.setString(AddrVersion, VersionWords, s)
}

func (m *Model) SetSerial(s string) error {
	return m.setString(AddrSerial, SerialWords, s)
}

// SetEnabled writes the "SunS" marker, or zeroes it to hide the map.
func (m *Model) SetEnabled(enabled bool) {
	if enabled {
		m.store.Set(AddrMarker, markerHi, markerLo)
		return
	}
	m.store.Set(AddrMarker, 0, 0)
}

// Enabled reports whether the marker is present.
func (m *Model) Enabled() bool {
	w := m.store.ReadRange(AddrMarker, 2)
	return w[0] == markerHi && w[1] == markerLo
}

// PowerLimit returns WMaxLimPct when WMaxLim_Ena is set.
func (m *Model) PowerLimit() (int, bool) {
	w := m.store.ReadRange(AddrLimitPct, int(AddrLimitEnabled-AddrLimitPct)+1)
	if w[len(w)-1] == 0 {
		return 0, false
	}
	return int(w[0]), true
}

// Reset drops all live telemetry and reports the inverter as off.
func (m *Model) Reset() {
	m.store.Set(AddrVoltage, 0, 0, 0)
	m.store.Set(AddrCurrent, 0, 0, 0)
	m.SetPower(0)
	m.SetState(StateOff)
}

// Snapshot is a decoded copy of the live data points.
type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Enabled      bool      `json:"enabled"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Version      string    `json:"version"`
	Serial       string    `json:"serial"`
	// Voltage is in 0.1 V. 0xFFFF marks an unimplemented phase.
	Voltage      [phases]int `json:"voltage"`
	Current      [phases]int `json:"current"`
	Power        int         `json:"power"`
	Energy       uint32      `json:"energy"`
	State        int         `json:"state"`
	MaxPower     int         `json:"max_power"`
	LimitPct     int         `json:"limit_pct"`
	LimitEnabled bool        `json:"limit_enabled"`
}

// Snapshot reads every data point from one consistent copy of the map.
func (m *Model) Snapshot() Snapshot {
	const span = int(AddrLimitEnabled-AddrMarker) + 1
	w := m.store.ReadRange(AddrMarker, span)
	at := func(addr uint16) uint16 { return w[addr-AddrMarker] }
	str := func(addr uint16, n int) string {
		off := int(addr - AddrMarker)
		return DecodeString(w[off : off+n])
	}

	s := Snapshot{
		Timestamp:    time.Now().UTC(),
		Enabled:      at(AddrMarker) == markerHi && at(AddrMarker+1) == markerLo,
		Manufacturer: str(AddrManufacturer, ManufacturerWords),
		Model:        str(AddrModel, ModelWords),
		Version:      str(AddrVersion, VersionWords),
		Serial:       str(AddrSerial, SerialWords),
		Power:        int(int16(at(AddrPower))),
		Energy:       uint32(at(AddrEnergy))<<16 | uint32(at(AddrEnergy+1)),
		State:        int(at(AddrState)),
		MaxPower:     int(at(AddrMaxPower)),
		LimitPct:     int(at(AddrLimitPct)),
		LimitEnabled: at(AddrLimitEnabled) != 0,
	}
	for p := 0; p < phases; p++ {
		s.Voltage[p] = int(at(AddrVoltage + uint16(p)))
		s.Current[p] = int(at(AddrCurrent + uint16(p)))
	}
	return s
}
