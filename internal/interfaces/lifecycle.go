package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/KevinKickass/sunspec-gateway/internal/drivers"
	"github.com/KevinKickass/sunspec-gateway/internal/modbus"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
)

// IndicatorStatus mirrors the request LED.
type IndicatorStatus struct {
	On      bool   `json:"on"`
	Toggles uint64 `json:"toggles"`
}

// SystemStatus represents the current system state
type SystemStatus struct {
	State         string            `json:"state"`
	Input         string            `json:"input"`
	Output        string            `json:"output"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Driver        *drivers.Stats    `json:"driver,omitempty"`
	Modbus        modbus.SlaveStats `json:"modbus"`
	Indicator     IndicatorStatus   `json:"indicator"`
	LiveClients   int               `json:"live_clients"`
	Error         string            `json:"error,omitempty"`
}

type LifecycleManager interface {
	Config() *config.Config
	// Model is nil while the gateway is restarting.
	Model() *sunspec.Model
	Uptime() time.Duration
	GetCurrentStatus() SystemStatus
	// CurrentSetup returns the persisted setup, which takes effect on the
	// next restart.
	CurrentSetup() (config.Setup, error)
	ApplySetup(ctx context.Context, s config.Setup) error
	ScheduleRestart() error
	Shutdown(ctx context.Context) error
}
