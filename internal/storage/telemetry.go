package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
)

func (p *PostgresClient) Name() string { return "postgres" }

// Publish stores the snapshot in telemetry_samples.
func (p *PostgresClient) Publish(ctx context.Context, snap sunspec.Snapshot) error {
	return p.InsertSample(ctx, SampleFromSnapshot(snap))
}

func (p *PostgresClient) InsertSample(ctx context.Context, s TelemetrySample) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO telemetry_samples (id, sampled_at, enabled, serial,
			voltage_l1, voltage_l2, voltage_l3,
			current_l1, current_l2, current_l3,
			power, energy, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.SampledAt, s.Enabled, s.Serial,
		s.Voltage[0], s.Voltage[1], s.Voltage[2],
		s.Current[0], s.Current[1], s.Current[2],
		s.Power, s.Energy, s.State)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry sample: %w", err)
	}
	return nil
}

// ListSamples returns up to limit samples taken after since, newest first.
func (p *PostgresClient) ListSamples(ctx context.Context, since time.Time, limit int) ([]TelemetrySample, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sampled_at, enabled, serial,
		       voltage_l1, voltage_l2, voltage_l3,
		       current_l1, current_l2, current_l3,
		       power, energy, state
		FROM telemetry_samples
		WHERE sampled_at > $1
		ORDER BY sampled_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry samples: %w", err)
	}
	defer rows.Close()

	var samples []TelemetrySample
	for rows.Next() {
		var s TelemetrySample
		err := rows.Scan(
			&s.ID, &s.SampledAt, &s.Enabled, &s.Serial,
			&s.Voltage[0], &s.Voltage[1], &s.Voltage[2],
			&s.Current[0], &s.Current[1], &s.Current[2],
			&s.Power, &s.Energy, &s.State,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate telemetry samples: %w", err)
	}
	return samples, nil
}

// PruneSamples deletes samples older than before.
func (p *PostgresClient) PruneSamples(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM telemetry_samples WHERE sampled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune telemetry samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
