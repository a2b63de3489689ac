package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/api/rest"
	"github.com/KevinKickass/sunspec-gateway/internal/api/websocket"
	"github.com/KevinKickass/sunspec-gateway/internal/auth"
	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/KevinKickass/sunspec-gateway/internal/drivers"
	"github.com/KevinKickass/sunspec-gateway/internal/interfaces"
	"github.com/KevinKickass/sunspec-gateway/internal/setup"
	"github.com/KevinKickass/sunspec-gateway/internal/storage"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"github.com/KevinKickass/sunspec-gateway/internal/telemetry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

var (
	ErrNotRunning       = errors.New("gateway is not running")
	ErrRestartScheduled = errors.New("restart already scheduled")
)

// LifecycleManager owns the long-lived servers (REST, gRPC health, live
// view hub) and the gateway pipeline, which Restart rebuilds from the
// config file.
type LifecycleManager struct {
	configPath string
	storage    *storage.PostgresClient
	logger     *zap.Logger

	metrics     *telemetry.Metrics
	hub         *websocket.Hub
	authService *auth.AuthService
	validator   *setup.Validator

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   net.Addr

	gwMu   sync.RWMutex
	config *config.Config
	gw     *gateway

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	restartMu      sync.Mutex
	restartTimer   *time.Timer
	restartPending bool

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager prepares the servers. db may be nil when history is
// disabled.
func NewLifecycleManager(configPath string, cfg *config.Config, db *storage.PostgresClient, logger *zap.Logger) (*LifecycleManager, error) {
	var events auth.EventLogger
	if db != nil {
		events = db
	}
	authService, err := auth.NewAuthService(cfg.Auth, events, logger.Named("auth"))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	validator, err := setup.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create setup validator: %w", err)
	}

	lm := &LifecycleManager{
		configPath:   configPath,
		config:       cfg,
		storage:      db,
		logger:       logger,
		hub:          websocket.NewHub(logger.Named("websocket")),
		authService:  authService,
		validator:    validator,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
	if cfg.Metrics.Enabled {
		lm.metrics = telemetry.NewMetrics()
	}
	return lm, nil
}

// Start brings up the gateway pipeline and then the servers.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting SunSpec gateway")

	go lm.hub.Run()

	if err := lm.startGateway(context.Background()); err != nil {
		lm.setError(err)
		return err
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.String("grpc_address", lm.grpcAddr.String()),
		zap.String("http_address", lm.restServer.Addr().String()))

	return nil
}

func (lm *LifecycleManager) sinks() []telemetry.Sink {
	sinks := []telemetry.Sink{lm.hub}
	if lm.metrics != nil {
		sinks = append(sinks, lm.metrics)
	}
	if lm.storage != nil {
		sinks = append(sinks, lm.storage)
	}
	return sinks
}

func (lm *LifecycleManager) startGateway(ctx context.Context) error {
	lm.gwMu.RLock()
	cfg := lm.config
	lm.gwMu.RUnlock()

	gw, err := buildGateway(ctx, cfg, lm.metrics, lm.sinks(), lm.logger)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	lm.gwMu.Lock()
	lm.gw = gw
	lm.gwMu.Unlock()
	return nil
}

func (lm *LifecycleManager) stopGateway(ctx context.Context) error {
	lm.gwMu.Lock()
	gw := lm.gw
	lm.gw = nil
	lm.gwMu.Unlock()

	if gw == nil {
		return nil
	}
	return gw.stop(ctx)
}

func (lm *LifecycleManager) startRESTServer() error {
	var metricsHandler http.Handler
	if lm.metrics != nil {
		metricsHandler = lm.metrics.Handler()
	}
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), rest.Dependencies{
		Hub:       lm.hub,
		Auth:      lm.authService,
		Validator: lm.validator,
		Metrics:   metricsHandler,
	})
	return lm.restServer.Start()
}

// Restart stops the gateway pipeline, reloads the config file and starts
// the pipeline again. The REST and gRPC servers stay up.
func (lm *LifecycleManager) Restart(ctx context.Context) error {
	lm.restartMu.Lock()
	defer lm.restartMu.Unlock()
	lm.restartPending = false

	state := lm.State()
	if !state.Restartable() {
		return fmt.Errorf("cannot restart in state %s: %w", state, ErrNotRunning)
	}

	lm.logger.Info("Restarting gateway")
	lm.setState(StateRestarting)

	if err := lm.stopGateway(ctx); err != nil {
		lm.logger.Warn("Gateway stop incomplete", zap.Error(err))
	}

	cfg, err := config.Load(lm.configPath)
	if err == nil {
		err = cfg.Validate(drivers.Names())
	}
	if err != nil {
		err = fmt.Errorf("failed to reload config: %w", err)
		lm.setError(err)
		return err
	}

	lm.gwMu.Lock()
	lm.config = cfg
	lm.gwMu.Unlock()

	if err := lm.startGateway(ctx); err != nil {
		lm.setError(err)
		return err
	}

	lm.setState(StateRunning)
	return nil
}

// ScheduleRestart restarts the gateway after server.reboot_delay, giving
// the HTTP response time to reach the client.
func (lm *LifecycleManager) ScheduleRestart() error {
	state := lm.State()
	if !state.Restartable() {
		return fmt.Errorf("cannot restart in state %s: %w", state, ErrNotRunning)
	}

	lm.restartMu.Lock()
	defer lm.restartMu.Unlock()

	if lm.restartPending {
		return ErrRestartScheduled
	}
	lm.restartPending = true

	cfg := lm.Config()
	lm.restartTimer = time.AfterFunc(cfg.Server.RebootDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := lm.Restart(ctx); err != nil {
			lm.logger.Error("Scheduled restart failed", zap.Error(err))
		}
	})

	lm.logger.Info("Restart scheduled", zap.Duration("delay", cfg.Server.RebootDelay))
	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.restartMu.Lock()
		defer lm.restartMu.Unlock()
		if lm.restartTimer != nil {
			lm.restartTimer.Stop()
		}

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.stopGateway(ctx); err != nil {
			errChan <- fmt.Errorf("gateway stop failed: %w", err)
		}
	}()

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.restServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		lm.hub.Stop()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}

	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	previous := lm.currentState
	if err := ValidateTransition(previous, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	if state != StateError {
		lm.lastErr = nil
	}
	lm.stateMu.Unlock()

	lm.logger.Info("System state changed",
		zap.String("from", previous.String()),
		zap.String("to", state.String()))
	lm.updateHealth(state)
	lm.hub.Broadcast(websocket.NewSystemStateMessage(state.String(), previous.String()))
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
	lm.stateMu.Lock()
	lm.lastErr = err
	lm.stateMu.Unlock()
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) Config() *config.Config {
	lm.gwMu.RLock()
	defer lm.gwMu.RUnlock()
	return lm.config
}

func (lm *LifecycleManager) Model() *sunspec.Model {
	lm.gwMu.RLock()
	defer lm.gwMu.RUnlock()
	if lm.gw == nil {
		return nil
	}
	return lm.gw.model
}

// Uptime is the time since the gateway pipeline last started, which is
// what a reboot resets.
func (lm *LifecycleManager) Uptime() time.Duration {
	lm.gwMu.RLock()
	defer lm.gwMu.RUnlock()
	if lm.gw == nil {
		return 0
	}
	return time.Since(lm.gw.startedAt)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{State: lm.currentState.String()}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	lm.stateMu.RUnlock()

	status.LiveClients = lm.hub.GetClientCount()
	status.UptimeSeconds = int64(lm.Uptime() / time.Second)

	lm.gwMu.RLock()
	defer lm.gwMu.RUnlock()

	status.Input = lm.config.Driver.Input
	status.Output = lm.config.Driver.Output
	if lm.gw != nil {
		stats := lm.gw.driver.Stats()
		status.Driver = &stats
		status.Modbus = lm.gw.slave.Stats()
		status.Indicator.On, status.Indicator.Toggles = lm.gw.led.State()
	}
	return status
}

func (lm *LifecycleManager) CurrentSetup() (config.Setup, error) {
	cfg, err := config.Load(lm.configPath)
	if err != nil {
		return config.Setup{}, err
	}
	return config.SetupFrom(cfg), nil
}

// ApplySetup persists s. It takes effect on the next restart.
func (lm *LifecycleManager) ApplySetup(_ context.Context, s config.Setup) error {
	if err := config.WriteSetup(lm.configPath, s); err != nil {
		return err
	}
	lm.logger.Info("Setup saved",
		zap.String("path", lm.configPath),
		zap.String("input", s.Input),
		zap.String("output", s.Output),
		zap.Int("max_power", s.MaxPower),
		zap.String("device", s.Device),
		zap.Int("baud_rate", s.BaudRate))
	return nil
}

// Addresses of the running servers, for logs and tests.

func (lm *LifecycleManager) RESTAddr() net.Addr { return lm.restServer.Addr() }

func (lm *LifecycleManager) GRPCAddr() net.Addr { return lm.grpcAddr }

func (lm *LifecycleManager) ModbusAddr() net.Addr {
	lm.gwMu.RLock()
	defer lm.gwMu.RUnlock()
	if lm.gw == nil {
		return nil
	}
	return lm.gw.server.Addr()
}
