package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

// counterReload is the failure counter value after a good cycle.
const counterReload = 3

// Device is a polled field device.
type Device interface {
	// Identify reads the nameplate data once. It is retried until it succeeds.
	Identify(ctx context.Context) error
	// Poll runs one telemetry cycle.
	Poll(ctx context.Context) error
}

// Poller runs a Device: identification first, then a steady poll loop with
// the failure counter that drops the model into its safe state.
type Poller struct {
	name   string
	device Device
	model  *sunspec.Model
	cfg    Config
	logger *zap.Logger

	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	stats Stats
}

func NewPoller(name string, device Device, model *sunspec.Model, cfg Config, logger *zap.Logger) *Poller {
	return &Poller{
		name:   name,
		device: device,
		model:  model,
		cfg:    cfg.withDefaults(),
		logger: logger,
		stats:  Stats{Name: name, Counter: counterReload},
	}
}

func (p *Poller) Name() string { return p.name }

// Start launches identification and polling in the background.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopChan = make(chan struct{})
	p.running = true
	p.wg.Add(1)

	go p.run(ctx, p.stopChan)

	p.logger.Info("Poller started",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Uint8("unit", p.cfg.Unit))

	return nil
}

// Stop ends polling and waits for the in-flight cycle.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Running = p.running
	return s
}

func (p *Poller) run(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	if !p.identify(ctx, stop) {
		return
	}
	p.model.SetEnabled(true)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.cycle(ctx)

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) identify(ctx context.Context, stop <-chan struct{}) bool {
	for {
		err := p.device.Identify(ctx)
		if err == nil {
			p.mu.Lock()
			p.stats.Identified = true
			p.mu.Unlock()
			p.logger.Info("Device identified")
			return true
		}

		p.logger.Warn("No response, retrying",
			zap.Duration("retry_in", p.cfg.RetryInterval),
			zap.Error(err))

		select {
		case <-stop:
			return false
		case <-time.After(p.cfg.RetryInterval):
		}
	}
}

// cycle polls once and applies the failure counter. The counter update is
// min(counter-1, 0), so the first failure after a good cycle lands on zero
// and resets the model; further failures go negative without another reset.
func (p *Poller) cycle(ctx context.Context) {
	err := p.device.Poll(ctx)

	p.mu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = time.Now().UTC()
	if err != nil {
		p.stats.Failures++
		p.stats.LastError = err.Error()
		p.stats.Counter = min(p.stats.Counter-1, 0)
	} else {
		p.stats.LastError = ""
		p.stats.Counter = counterReload
	}
	reset := p.stats.Counter == 0
	if reset {
		p.stats.Resets++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("Poll failed", zap.Error(err))
	}
	if reset {
		p.logger.Warn("Communication lost, resetting model")
		p.model.Reset()
	}
}
