package store

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
)

// CreateUser inserts a user and sets its ID. Returns ErrDuplicate when the username or email is taken.
func (q *queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`

	err := q.get(ctx, &user.ID, query, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", user.Username, ErrDuplicate)
	}
	return err
}

// GetUserByID retrieves a user by ID
func (q *queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := q.get(ctx, &user, "SELECT * FROM users WHERE id = ?", id); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username
func (q *queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := q.get(ctx, &user, "SELECT * FROM users WHERE username = ?", username); err != nil {
		return nil, notFound(err, "user", username)
	}
	return &user, nil
}

// UsernameOrEmailTaken checks whether either value is already registered
func (q *queries) UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := q.get(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = ? OR email = ?)", username, email)
	return exists, err
}

// ListUsers retrieves every user in registration order
func (q *queries) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := q.selectAll(ctx, &users, "SELECT * FROM users ORDER BY id")
	return users, err
}
