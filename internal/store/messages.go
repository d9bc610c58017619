package store

import (
	"context"

	"marketplace-service/internal/models"
)

// CreateMessage inserts a message and sets its ID
func (q *queries) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (from_user_id, to_user_id, text, sent_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`

	return q.get(ctx, &msg.ID, query, msg.FromUserID, msg.ToUserID, msg.Text, msg.SentAt)
}

// ListThreadPage retrieves up to limit messages exchanged between a and b with ID
// greater than afterID, oldest first. IDs are assigned in send order.
func (q *queries) ListThreadPage(ctx context.Context, a, b, afterID int64, limit int) ([]models.Message, error) {
	query := `
		SELECT * FROM messages
		WHERE ((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))
			AND id > ?
		ORDER BY id
		LIMIT ?`

	msgs := []models.Message{}
	err := q.selectAll(ctx, &msgs, query, a, b, b, a, afterID, limit)
	return msgs, err
}
