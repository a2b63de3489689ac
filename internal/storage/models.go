package storage

import (
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"github.com/google/uuid"
)

// TelemetrySample is one stored snapshot. Phases the device does not
// implement are stored as NULL.
type TelemetrySample struct {
	ID        uuid.UUID `json:"id"`
	SampledAt time.Time `json:"sampled_at"`
	Enabled   bool      `json:"enabled"`
	Serial    string    `json:"serial"`
	Voltage   [3]*int   `json:"voltage"`
	Current   [3]*int   `json:"current"`
	Power     int       `json:"power"`
	Energy    int64     `json:"energy"`
	State     int       `json:"state"`
}

type AuthEvent struct {
	ID         uuid.UUID `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	EventType  string    `json:"event_type"`
	Username   string    `json:"username"`
	IPAddress  string    `json:"ip_address"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
}

// SampleFromSnapshot converts a model snapshot into a row.
func SampleFromSnapshot(snap sunspec.Snapshot) TelemetrySample {
	s := TelemetrySample{
		ID:        uuid.New(),
		SampledAt: snap.Timestamp,
		Enabled:   snap.Enabled,
		Serial:    snap.Serial,
		Power:     snap.Power,
		Energy:    int64(snap.Energy),
		State:     snap.State,
	}
	if s.SampledAt.IsZero() {
		s.SampledAt = time.Now()
	}
	for i := range 3 {
		s.Voltage[i] = implemented(snap.Voltage[i])
		s.Current[i] = implemented(snap.Current[i])
	}
	return s
}

func implemented(v int) *int {
	if v == int(sunspec.DefaultValue) {
		return nil
	}
	return &v
}
