package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

// Sink receives every sampled snapshot.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap sunspec.Snapshot) error
}

// Source yields snapshots; *sunspec.Model satisfies it.
type Source interface {
	Snapshot() sunspec.Snapshot
}

// Sampler periodically snapshots the model and fans out to sinks.
type Sampler struct {
	source   Source
	sinks    []Sink
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	last     sunspec.Snapshot
}

func NewSampler(source Source, interval time.Duration, logger *zap.Logger, sinks ...Sink) *Sampler {
	return &Sampler{
		source:   source,
		sinks:    sinks,
		interval: interval,
		logger:   logger,
	}
}

func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.stopChan = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.loop(s.stopChan)

	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.Name()
	}
	s.logger.Info("Telemetry sampler started",
		zap.Duration("interval", s.interval),
		zap.Strings("sinks", names))

	return nil
}

func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Last returns the most recent snapshot.
func (s *Sampler) Last() sunspec.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sampler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sample()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Sample takes one snapshot and publishes it to every sink. A failing sink
// is logged and does not affect the others.
func (s *Sampler) Sample() sunspec.Snapshot {
	snap := s.source.Snapshot()

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		if err := sink.Publish(ctx, snap); err != nil {
			s.logger.Warn("Telemetry sink failed",
				zap.String("sink", sink.Name()),
				zap.Error(err))
		}
		cancel()
	}
	return snap
}
