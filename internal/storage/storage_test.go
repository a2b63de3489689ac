package storage

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSampleFromSnapshot(t *testing.T) {
	model := sunspec.NewModel(register.NewStoreWithDefault(sunspec.DefaultValue))
	require.NoError(t, model.SetVoltage(0, 2300))
	require.NoError(t, model.SetCurrent(0, 4))
	require.NoError(t, model.SetSerial("abc123"))
	model.SetPower(920)
	model.SetEnergy(70000)
	model.SetState(sunspec.StateMPPT)

	s := SampleFromSnapshot(model.Snapshot())

	require.NotNil(t, s.Voltage[0])
	assert.Equal(t, 2300, *s.Voltage[0])
	assert.Equal(t, 4, *s.Current[0])
	assert.Nil(t, s.Voltage[1])
	assert.Nil(t, s.Current[2])
	assert.Equal(t, "abc123", s.Serial)
	assert.Equal(t, int64(70000), s.Energy)
	assert.Equal(t, int(sunspec.StateMPPT), s.State)
	assert.False(t, s.SampledAt.IsZero())
	assert.NotEqual(t, SampleFromSnapshot(model.Snapshot()).ID, s.ID)
}

// TestPostgresRoundTrip runs against a real database when
// GATEWAY_DATABASE_ENABLED=true and the GATEWAY_DATABASE_* variables point
// at it.
func TestPostgresRoundTrip(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	if !cfg.Database.Enabled {
		t.Skip("database not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewPostgresClient(ctx, cfg.Database, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.EnsureSchema(ctx))

	model := sunspec.NewModel(register.NewStoreWithDefault(sunspec.DefaultValue))
	model.SetPower(-15)
	start := time.Now().Add(-time.Second)
	require.NoError(t, client.Publish(ctx, model.Snapshot()))

	samples, err := client.ListSamples(ctx, start, 10)
	require.NoError(t, err)
	require.NotEmpty(t, samples)
	assert.Equal(t, -15, samples[0].Power)

	require.NoError(t, client.LogAuthEvent(ctx, "login", "admin", "127.0.0.1", true, ""))
	events, err := client.ListAuthEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "login", events[0].EventType)
}
