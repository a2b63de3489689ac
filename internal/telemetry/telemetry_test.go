package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/modbus"
	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu    sync.Mutex
	name  string
	err   error
	snaps []sunspec.Snapshot
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, snap sunspec.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func newTestModel() *sunspec.Model {
	return sunspec.NewModel(register.NewStoreWithDefault(sunspec.DefaultValue))
}

func TestSamplerFansOutDespiteFailingSink(t *testing.T) {
	model := newTestModel()
	model.SetPower(1200)

	broken := &recordingSink{name: "broken", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	s := NewSampler(model, time.Second, zap.NewNop(), broken, ok)

	snap := s.Sample()
	assert.Equal(t, 1200, snap.Power)
	assert.Equal(t, 1, broken.count())
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1200, s.Last().Power)
}

func TestSamplerLoop(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	s := NewSampler(newTestModel(), 5*time.Millisecond, zap.NewNop(), sink)

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	n := sink.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "no samples after Stop")
}

func TestMetricsPublish(t *testing.T) {
	model := newTestModel()
	require.NoError(t, model.SetVoltage(0, 2304))
	model.SetPower(850)
	model.SetEnergy(123456)
	model.SetEnabled(true)

	m := NewMetrics()
	require.NoError(t, m.Publish(context.Background(), model.Snapshot()))

	assert.InDelta(t, 230.4, testutil.ToFloat64(m.voltage.WithLabelValues("1")), 1e-9)
	assert.Equal(t, 850.0, testutil.ToFloat64(m.power))
	assert.Equal(t, 123456.0, testutil.ToFloat64(m.energy))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enabled))
	assert.Equal(t, 1, testutil.CollectAndCount(m.voltage), "unimplemented phases are not exported")

	m.ObserveRequest(modbus.FuncCodeReadHoldingRegisters, 0)
	m.ObserveRequest(modbus.FuncCodeReadInputRegisters, modbus.ExceptionIllegalFunction)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("0x03", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("0x04", "illegal function")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sunspec_gateway_power_watts 850"))
}

// doneToken is an already completed publish.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeMQTT records retained publishes. Methods other than Publish and
// Disconnect are not used by the publisher.
type fakeMQTT struct {
	mqtt.Client
	mu       sync.Mutex
	retained map[string]string
	statuses []string
}

func (f *fakeMQTT) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if retained {
		f.retained[topic] = payload.(string)
	}
	if strings.HasSuffix(topic, "/status") {
		f.statuses = append(f.statuses, payload.(string))
	}
	return doneToken{}
}

func (f *fakeMQTT) Disconnect(uint) {}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{retained: map[string]string{}}
	p := newMQTTPublisherWithClient(client, "pv", 0, zap.NewNop())

	model := newTestModel()
	require.NoError(t, model.SetVoltage(0, 2315))
	require.NoError(t, model.SetCurrent(0, 3))
	model.SetPower(690)
	model.SetEnergy(5000)
	model.SetEnabled(true)

	require.NoError(t, p.Publish(context.Background(), model.Snapshot()))
	assert.Equal(t, "231.5", client.retained["pv/voltage_l1"])
	assert.Equal(t, "3", client.retained["pv/current_l1"])
	assert.Equal(t, "690", client.retained["pv/power"])
	assert.Equal(t, "5000", client.retained["pv/energy"])
	assert.NotContains(t, client.retained, "pv/voltage_l2")
	assert.Equal(t, []string{"online"}, client.statuses)

	require.NoError(t, p.Publish(context.Background(), model.Snapshot()))
	assert.Equal(t, []string{"online"}, client.statuses, "status only on change")

	model.SetEnabled(false)
	require.NoError(t, p.Publish(context.Background(), model.Snapshot()))
	assert.Equal(t, []string{"online", "offline"}, client.statuses)

	p.Close()
	assert.Equal(t, "offline", client.retained["pv/status"])
}
