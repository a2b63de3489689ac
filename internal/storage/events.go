package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LogAuthEvent records a login attempt or a protected action.
func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType, username, ipAddress string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (id, event_type, username, ip_address, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), eventType, username, ipAddress, success, reason)
	if err != nil {
		return fmt.Errorf("failed to log auth event: %w", err)
	}
	return nil
}

func (p *PostgresClient) ListAuthEvents(ctx context.Context, limit int) ([]AuthEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, occurred_at, event_type, username, ip_address, success, reason
		FROM auth_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", err)
	}
	defer rows.Close()

	var events []AuthEvent
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.EventType, &e.Username, &e.IPAddress, &e.Success, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
