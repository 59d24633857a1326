package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProcessedEventRepository is the durable event registry: a unique constraint
// on the event id makes the reservation atomic across instances and restarts.
type ProcessedEventRepository struct {
	db *sql.DB
}

func NewProcessedEventRepository(db *sql.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// EnsureSchema creates the processed_events table if it does not exist.
func (r *ProcessedEventRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id    TEXT PRIMARY KEY,
			reserved_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure processed_events schema: %w", err)
	}
	return nil
}

// Reserve atomically claims the event id. The ON CONFLICT DO NOTHING insert
// means exactly one concurrent caller observes a rows-affected count of 1;
// everyone else gets false.
func (r *ProcessedEventRepository) Reserve(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event ID cannot be empty")
	}

	query := `
		INSERT INTO processed_events (event_id, reserved_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, eventID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to reserve event %s: %w", eventID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reservation result for event %s: %w", eventID, err)
	}
	return affected == 1, nil
}

// Release drops the reservation so a redelivered event can be processed
// again after a failed dispatch.
func (r *ProcessedEventRepository) Release(ctx context.Context, eventID string) error {
	query := `DELETE FROM processed_events WHERE event_id = $1`
	if _, err := r.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to release event %s: %w", eventID, err)
	}
	return nil
}
