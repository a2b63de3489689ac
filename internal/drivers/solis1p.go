package drivers

import (
	"context"
	"fmt"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

// Solis single phase inverter registers
const (
	solisRegVersion    uint16 = 3000
	solisRegPower      uint16 = 3004
	solisRegEnergy     uint16 = 3008
	solisRegVoltage    uint16 = 3035 // followed by current
	solisRegSerial     uint16 = 3060
	solisRegPowerLimit uint16 = 3049 // holding, 0.01 %

	solisNoLimit = 10000
)

// Solis1P reads a Solis single phase string inverter and forwards the
// SunSpec power limit to it.
type Solis1P struct {
	model  *sunspec.Model
	master Master
	unit   byte
	logger *zap.Logger
}

// NewSolis1P returns a polled Solis driver.
func NewSolis1P(model *sunspec.Model, master Master, cfg Config, logger *zap.Logger) Driver {
	cfg = cfg.withDefaults()
	dev := &Solis1P{model: model, master: master, unit: cfg.Unit, logger: logger}
	return NewPoller("solis1p", dev, model, cfg, logger)
}

func (d *Solis1P) Identify(ctx context.Context) error {
	if err := d.model.SetManufacturer("Solis"); err != nil {
		return err
	}
	if err := d.model.SetModel("Generic"); err != nil {
		return err
	}

	sregs, err := d.master.ReadInputRegisters(ctx, d.unit, solisRegSerial, 4, false)
	if err != nil {
		return fmt.Errorf("failed to read serial number: %w", err)
	}
	vregs, err := d.master.ReadInputRegisters(ctx, d.unit, solisRegVersion, 1, false)
	if err != nil {
		return fmt.Errorf("failed to read firmware version: %w", err)
	}
	if err := expectLen(vregs, 1); err != nil {
		return err
	}

	serial := reversedHex(sregs)
	if err := d.model.SetSerial(serial); err != nil {
		return err
	}
	version := fmt.Sprintf("%x", vregs[0])
	if err := d.model.SetVersion(version); err != nil {
		return err
	}

	d.logger.Info("Solis inverter identified",
		zap.String("serial", serial),
		zap.String("version", version))
	return nil
}

func (d *Solis1P) Poll(ctx context.Context) error {
	regs, err := d.master.ReadInputRegisters(ctx, d.unit, solisRegVoltage, 2, false)
	if err != nil {
		return fmt.Errorf("failed to read voltage: %w", err)
	}
	if err := expectLen(regs, 2); err != nil {
		return err
	}
	if err := d.model.SetVoltage(0, regs[0]); err != nil {
		return err
	}
	if err := d.model.SetCurrent(0, regs[1]); err != nil {
		return err
	}

	power, err := d.readU32(ctx, solisRegPower)
	if err != nil {
		return fmt.Errorf("failed to read power: %w", err)
	}
	d.model.SetPower(int(power))
	if power > 0 {
		d.model.SetState(sunspec.StateMPPT)
	} else {
		d.model.SetState(sunspec.StateSleeping)
	}

	energy, err := d.readU32(ctx, solisRegEnergy)
	if err != nil {
		return fmt.Errorf("failed to read energy: %w", err)
	}
	// kWh on the device
	d.model.SetEnergy(energy * 1000)

	limit := solisNoLimit
	if pct, ok := d.model.PowerLimit(); ok {
		limit = pct * 100
	}
	ok, err := d.master.WriteSingleRegister(ctx, d.unit, solisRegPowerLimit, limit, false)
	if err != nil {
		return fmt.Errorf("failed to write power limit: %w", err)
	}
	if !ok {
		d.logger.Warn("Power limit write not acknowledged", zap.Int("limit", limit))
	}
	return nil
}

func (d *Solis1P) readU32(ctx context.Context, start uint16) (uint32, error) {
	regs, err := d.master.ReadInputRegisters(ctx, d.unit, start, 2, false)
	if err != nil {
		return 0, err
	}
	if err := expectLen(regs, 2); err != nil {
		return 0, err
	}
	return u32HighFirst(regs[0], regs[1]), nil
}
