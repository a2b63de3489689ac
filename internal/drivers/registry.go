package drivers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

// Master is the part of the Modbus master client a driver talks through.
type Master interface {
	ReadHoldingRegisters(ctx context.Context, unit byte, start, quantity uint16, signed bool) ([]int, error)
	ReadInputRegisters(ctx context.Context, unit byte, start, quantity uint16, signed bool) ([]int, error)
	WriteSingleRegister(ctx context.Context, unit byte, address uint16, value int, signed bool) (bool, error)
}

// Driver translates one inverter or meter into SunSpec model updates.
// It owns its cadence and its failure policy.
type Driver interface {
	Name() string
	Start() error
	Stop()
	IsRunning() bool
	Stats() Stats
}

// Stats is the driver state shown on the status surfaces.
type Stats struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	Identified bool      `json:"identified"`
	Polls      uint64    `json:"polls"`
	Failures   uint64    `json:"failures"`
	Resets     uint64    `json:"resets"`
	Counter    int       `json:"counter"`
	LastError  string    `json:"last_error,omitempty"`
	LastPoll   time.Time `json:"last_poll,omitempty"`
}

// Config holds driver cadence and addressing.
type Config struct {
	Unit          byte
	PollInterval  time.Duration
	RetryInterval time.Duration
	DemoStep      time.Duration
}

// DefaultConfig matches the cadence of the field devices.
func DefaultConfig() Config {
	return Config{
		Unit:          1,
		PollInterval:  time.Second,
		RetryInterval: 10 * time.Second,
		DemoStep:      3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Unit == 0 {
		c.Unit = d.Unit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.DemoStep <= 0 {
		c.DemoStep = d.DemoStep
	}
	return c
}

// Constructor builds a driver. master is nil for drivers that need no bus.
type Constructor func(model *sunspec.Model, master Master, cfg Config, logger *zap.Logger) Driver

// Factory describes a registered driver.
type Factory struct {
	New         Constructor
	NeedsMaster bool
}

var registry = map[string]Factory{
	"demo":    {New: NewDemo},
	"em24":    {New: NewEM24, NeedsMaster: true},
	"solis1p": {New: NewSolis1P, NeedsMaster: true},
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	f, ok := registry[name]
	if !ok {
		return Factory{}, fmt.Errorf("unknown driver %q (available: %v)", name, Names())
	}
	return f, nil
}

// Names lists registered drivers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the driver registered under name.
func New(name string, model *sunspec.Model, master Master, cfg Config, logger *zap.Logger) (Driver, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if f.NeedsMaster && master == nil {
		return nil, fmt.Errorf("driver %s requires a modbus master", name)
	}
	return f.New(model, master, cfg.withDefaults(), logger.With(zap.String("driver", name))), nil
}
