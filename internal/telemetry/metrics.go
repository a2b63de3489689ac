package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/sunspec-gateway/internal/modbus"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sunspec_gateway"

// Metrics exports the SunSpec data points and slave request counters.
type Metrics struct {
	registry *prometheus.Registry

	voltage  *prometheus.GaugeVec
	current  *prometheus.GaugeVec
	power    prometheus.Gauge
	energy   prometheus.Gauge
	state    prometheus.Gauge
	enabled  prometheus.Gauge
	requests *prometheus.CounterVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		voltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voltage_volts",
			Help:      "Phase to neutral AC voltage (V)",
		}, []string{"phase"}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_amperes",
			Help:      "Phase AC current (A)",
		}, []string{"phase"}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_watts",
			Help:      "AC power (W)",
		}),
		energy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "energy_watthours",
			Help:      "Lifetime AC energy (Wh)",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operating_state",
			Help:      "SunSpec operating state (1 off, 2 sleeping, 4 mppt)",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled",
			Help:      "1 while the SunSpec marker is published",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modbus_requests_total",
			Help:      "Modbus TCP requests by function code and result",
		}, []string{"function", "result"}),
	}

	m.registry.MustRegister(
		m.voltage, m.current, m.power, m.energy, m.state, m.enabled, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Name() string { return "prometheus" }

// Publish updates the gauges. Unimplemented phases (0xFFFF) are skipped.
func (m *Metrics) Publish(_ context.Context, snap sunspec.Snapshot) error {
	for p := range snap.Voltage {
		phase := strconv.Itoa(p + 1)
		if v := snap.Voltage[p]; v != int(sunspec.DefaultValue) {
			m.voltage.WithLabelValues(phase).Set(float64(v) / 10)
		}
		if c := snap.Current[p]; c != int(sunspec.DefaultValue) {
			m.current.WithLabelValues(phase).Set(float64(c))
		}
	}
	m.power.Set(float64(snap.Power))
	m.energy.Set(float64(snap.Energy))
	m.state.Set(float64(snap.State))
	if snap.Enabled {
		m.enabled.Set(1)
	} else {
		m.enabled.Set(0)
	}
	return nil
}

// ObserveRequest counts one handled Modbus request.
func (m *Metrics) ObserveRequest(fc byte, exc modbus.ExceptionCode) {
	result := "ok"
	if exc != 0 {
		result = exc.String()
	}
	m.requests.WithLabelValues(fmt.Sprintf("0x%02X", fc), result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
