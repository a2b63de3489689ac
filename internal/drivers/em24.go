package drivers

import (
	"context"
	"fmt"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

// Carlo Gavazzi EM24 input registers
const (
	em24RegSerial   uint16 = 0x1300
	em24RegVoltage  uint16 = 0x0000
	em24RegCurrent  uint16 = 0x000C
	em24RegPower    uint16 = 0x0028
	em24RegEnergy   uint16 = 0x003E
	em24SerialWords uint16 = 7
)

// EM24 reads a three phase Carlo Gavazzi EM24 energy meter.
type EM24 struct {
	model  *sunspec.Model
	master Master
	unit   byte
	logger *zap.Logger
}

// NewEM24 returns a polled EM24 driver.
func NewEM24(model *sunspec.Model, master Master, cfg Config, logger *zap.Logger) Driver {
	cfg = cfg.withDefaults()
	dev := &EM24{model: model, master: master, unit: cfg.Unit, logger: logger}
	return NewPoller("em24", dev, model, cfg, logger)
}

func (d *EM24) Identify(ctx context.Context) error {
	if err := d.model.SetManufacturer("Carlo Gavazzi"); err != nil {
		return err
	}
	if err := d.model.SetModel("EM24"); err != nil {
		return err
	}

	regs, err := d.master.ReadInputRegisters(ctx, d.unit, em24RegSerial, em24SerialWords, false)
	if err != nil {
		return fmt.Errorf("failed to read serial number: %w", err)
	}
	serial := asciiRegisters(regs)
	if err := d.model.SetSerial(serial); err != nil {
		return fmt.Errorf("invalid serial number %q: %w", serial, err)
	}

	d.logger.Info("EM24 serial read", zap.String("serial", serial))
	return nil
}

func (d *EM24) Poll(ctx context.Context) error {
	voltages, err := d.readTriple(ctx, em24RegVoltage)
	if err != nil {
		return fmt.Errorf("failed to read voltages: %w", err)
	}
	for phase, v := range voltages {
		if err := d.model.SetVoltage(phase, int(v)); err != nil {
			return err
		}
	}

	currents, err := d.readTriple(ctx, em24RegCurrent)
	if err != nil {
		return fmt.Errorf("failed to read currents: %w", err)
	}
	for phase, c := range currents {
		if err := d.model.SetCurrent(phase, int(c)); err != nil {
			return err
		}
	}

	power, err := d.readS32(ctx, em24RegPower)
	if err != nil {
		return fmt.Errorf("failed to read power: %w", err)
	}
	d.model.SetPower(int(power))
	if power > 0 {
		d.model.SetState(sunspec.StateMPPT)
	} else {
		d.model.SetState(sunspec.StateSleeping)
	}

	energy, err := d.readS32(ctx, em24RegEnergy)
	if err != nil {
		return fmt.Errorf("failed to read energy: %w", err)
	}
	d.model.SetEnergy(uint32(energy))

	d.logger.Debug("EM24 poll",
		zap.Int32("voltage_l1", voltages[0]),
		zap.Int32("power", power))
	return nil
}

func (d *EM24) readTriple(ctx context.Context, start uint16) ([3]int32, error) {
	var out [3]int32
	regs, err := d.master.ReadInputRegisters(ctx, d.unit, start, 6, false)
	if err != nil {
		return out, err
	}
	if err := expectLen(regs, 6); err != nil {
		return out, err
	}
	for i := range out {
		out[i] = s32LowFirst(regs[2*i], regs[2*i+1])
	}
	return out, nil
}

func (d *EM24) readS32(ctx context.Context, start uint16) (int32, error) {
	regs, err := d.master.ReadInputRegisters(ctx, d.unit, start, 2, false)
	if err != nil {
		return 0, err
	}
	if err := expectLen(regs, 2); err != nil {
		return 0, err
	}
	return s32LowFirst(regs[0], regs[1]), nil
}
