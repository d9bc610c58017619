package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"marketplace-service/internal/crypto"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	minUsernameLength = 3
	minPasswordLength = 6
)

// UserService is the user directory.
type UserService struct {
	store  *store.Store
	hasher *crypto.PasswordHasher
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(store *store.Store, hasher *crypto.PasswordHasher) *UserService {
	return &UserService{
		store:  store,
		hasher: hasher,
		logger: util.GetLogger(),
	}
}

// RegisterRequest represents a registration payload
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a user. The password is stored only as an Argon2id hash.
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email must contain @", ErrValidation)
	}
	if utf8.RuneCountInString(username) < minUsernameLength {
		return nil, fmt.Errorf("%w: username must be at least %d characters", ErrValidation, minUsernameLength)
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}

	taken, err := s.store.UsernameOrEmailTaken(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: username or email already registered", ErrValidation)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: username or email already registered", ErrValidation)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	util.UsersRegisteredTotal.Inc()
	s.logger.Info("User registered",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))

	return user, nil
}

// Authenticate checks a username/password pair. Unknown users and wrong passwords
// return the same error.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Authenticate")
	defer span.End()

	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		s.hasher.VerifyDummy(password)
		util.LoginFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("Stored password hash is unreadable",
			zap.Int64("user_id", user.ID),
			zap.Error(err))
	}
	if !ok {
		util.LoginFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	}

	s.logger.Debug("User authenticated", zap.Int64("user_id", user.ID))
	return user, nil
}

// GetUser returns one user by ID.
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.GetUser", attribute.Int64("user_id", id))
	defer span.End()

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, translate(err, "user", id)
	}
	return user, nil
}

func translate(err error, what string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return err
}
