package store

import (
	"context"
	"time"
)

// MarkEventProcessed records an event as processed. It returns false when the event was
// already recorded, so a caller running it inside a transaction can skip redeliveries.
func (q *queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := q.exec(ctx,
		"INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType, time.Now().UTC())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
