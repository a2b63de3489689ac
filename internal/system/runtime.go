package system

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/KevinKickass/sunspec-gateway/internal/drivers"
	"github.com/KevinKickass/sunspec-gateway/internal/modbus"
	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"github.com/KevinKickass/sunspec-gateway/internal/telemetry"
	"go.uber.org/zap"
)

// gateway is everything a restart rebuilds: the register map, the SunSpec
// slave, the field bus master, the driver and the sampler feeding the sinks.
type gateway struct {
	store   *register.Store
	model   *sunspec.Model
	led     *modbus.StatusLED
	slave   *modbus.Slave
	server  *modbus.TCPServer
	port    io.ReadWriteCloser
	master  *modbus.Master
	driver  drivers.Driver
	sampler *telemetry.Sampler
	mqtt    *telemetry.MQTTPublisher

	startedAt time.Time
	logger    *zap.Logger
}

// buildGateway wires and starts the pipeline. On error everything already
// started is stopped again.
func buildGateway(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, sinks []telemetry.Sink, logger *zap.Logger) (_ *gateway, err error) {
	g := &gateway{logger: logger}
	defer func() {
		if err != nil {
			g.stop(context.Background())
		}
	}()

	g.store = register.NewStoreWithDefault(sunspec.DefaultValue)
	g.model = sunspec.NewModel(g.store)
	g.model.SetMaxPower(uint16(cfg.SunSpec.MaxPower))

	g.led = &modbus.StatusLED{}
	g.slave = modbus.NewSlave(g.store, g.led, logger.Named("slave"))
	if metrics != nil {
		g.slave.SetObserver(metrics.ObserveRequest)
	}

	factory, err := drivers.Lookup(cfg.Driver.Input)
	if err != nil {
		return nil, err
	}

	var master drivers.Master
	if factory.NeedsMaster {
		g.port, err = modbus.OpenRTUPort(ctx, modbus.SerialConfig{
			Device:   cfg.RTU.Device,
			BaudRate: cfg.RTU.BaudRate,
			DataBits: cfg.RTU.DataBits,
			StopBits: cfg.RTU.StopBits,
			Parity:   cfg.RTU.Parity,
			RS485:    cfg.RTU.RS485,
		})
		if err != nil {
			return nil, err
		}
		transport := modbus.NewRTUTransport(g.port, modbus.RTUConfig{
			BaudRate: cfg.RTU.BaudRate,
			Timeout:  cfg.RTU.Timeout,
		})
		g.master = modbus.NewMaster(transport, cfg.RTU.Timeout, logger.Named("master"))
		master = g.master
		logger.Info("RTU line opened",
			zap.String("device", cfg.RTU.Device),
			zap.Int("baud_rate", cfg.RTU.BaudRate))
	}

	g.driver, err = drivers.New(cfg.Driver.Input, g.model, master, drivers.Config{
		Unit:          byte(cfg.Driver.UnitID),
		PollInterval:  cfg.Driver.PollInterval,
		RetryInterval: cfg.Driver.RetryInterval,
		DemoStep:      cfg.Driver.DemoStep,
	}, logger.Named("driver"))
	if err != nil {
		return nil, err
	}

	g.server = modbus.NewTCPServer(cfg.ModbusTCP.Address, g.slave, cfg.ModbusTCP.IdleTimeout, logger.Named("modbus_tcp"))
	if err := g.server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start modbus tcp server: %w", err)
	}

	if cfg.MQTT.Enabled {
		g.mqtt, err = telemetry.NewMQTTPublisher(telemetry.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger.Named("mqtt"))
		if err != nil {
			// The SunSpec side runs without MQTT.
			logger.Error("MQTT publisher disabled", zap.Error(err))
		} else {
			sinks = append(sinks, g.mqtt)
		}
	}

	if err := g.driver.Start(); err != nil {
		return nil, fmt.Errorf("failed to start driver %s: %w", cfg.Driver.Input, err)
	}

	g.sampler = telemetry.NewSampler(g.model, cfg.SunSpec.SampleInterval, logger.Named("sampler"), sinks...)
	if err := g.sampler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sampler: %w", err)
	}

	g.startedAt = time.Now()
	logger.Info("Gateway started",
		zap.String("input", cfg.Driver.Input),
		zap.String("output", cfg.Driver.Output),
		zap.String("modbus_tcp", g.server.Addr().String()),
		zap.Int("max_power", cfg.SunSpec.MaxPower))

	return g, nil
}

// stop tears the pipeline down in reverse order. Safe on a partly built
// gateway.
func (g *gateway) stop(ctx context.Context) error {
	var firstErr error

	if g.sampler != nil {
		g.sampler.Stop()
	}
	if g.driver != nil {
		g.driver.Stop()
	}
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("modbus tcp shutdown failed: %w", err)
		}
	}
	if g.master != nil {
		if err := g.master.Close(); err != nil {
			g.logger.Warn("Failed to close RTU master", zap.Error(err))
		}
	} else if g.port != nil {
		g.port.Close()
	}
	if g.mqtt != nil {
		g.mqtt.Close()
	}
	return firstErr
}
