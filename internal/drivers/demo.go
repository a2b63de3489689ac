package drivers

import (
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

type demoStep struct {
	voltage int
	current int
}

var demoSteps = []demoStep{{2300, 1}, {2310, 1}, {2320, 1}}

// Demo feeds synthetic telemetry without any bus.
type Demo struct {
	model  *sunspec.Model
	step   time.Duration
	logger *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	polls    uint64
	lastPoll time.Time
}

// NewDemo ignores master.
func NewDemo(model *sunspec.Model, _ Master, cfg Config, logger *zap.Logger) Driver {
	return &Demo{
		model:  model,
		step:   cfg.withDefaults().DemoStep,
		logger: logger,
	}
}

func (d *Demo) Name() string { return "demo" }

func (d *Demo) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	d.model.SetManufacturer("Demo")
	d.model.SetModel("Generic")
	d.model.SetSerial("DEADBEEF")
	d.model.SetVersion("0.1")
	d.model.SetState(sunspec.StateMPPT)
	d.model.SetEnergy(12000)
	d.model.SetEnabled(true)

	d.stopChan = make(chan struct{})
	d.running = true
	d.wg.Add(1)
	go d.loop(d.stopChan)

	d.logger.Info("Demo driver started", zap.Duration("step", d.step))
	return nil
}

func (d *Demo) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	close(d.stopChan)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Demo) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Demo) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Name:       d.Name(),
		Running:    d.running,
		Identified: true,
		Polls:      d.polls,
		Counter:    counterReload,
		LastPoll:   d.lastPoll,
	}
}

func (d *Demo) loop(stop <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.step)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(demoSteps) {
		s := demoSteps[i]
		d.model.SetVoltage(0, s.voltage)
		d.model.SetCurrent(0, s.current)
		d.model.SetPower(s.voltage * s.current / 10)

		d.mu.Lock()
		d.polls++
		d.lastPoll = time.Now().UTC()
		d.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
