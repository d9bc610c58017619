package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultThreadPageSize = 100

// MessageService is the append-only direct message store.
type MessageService struct {
	store     *store.Store
	publisher EventPublisher
	pageSize  int
	logger    *zap.Logger
}

// NewMessageService creates a new message service. pageSize bounds each thread query.
func NewMessageService(store *store.Store, publisher EventPublisher, pageSize int) *MessageService {
	if pageSize <= 0 {
		pageSize = defaultThreadPageSize
	}
	return &MessageService{
		store:     store,
		publisher: publisher,
		pageSize:  pageSize,
		logger:    util.GetLogger(),
	}
}

// SendMessageRequest represents a direct message
type SendMessageRequest struct {
	FromUserID int64  `json:"from_user_id"`
	ToUserID   int64  `json:"to_user_id"`
	Text       string `json:"text"`
}

type messageWriter interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
}

// Send stores a message between two existing users.
func (s *MessageService) Send(ctx context.Context, req *SendMessageRequest) (*models.Message, error) {
	ctx, span := util.StartSpan(ctx, "MessageService.Send",
		attribute.Int64("from_user_id", req.FromUserID),
		attribute.Int64("to_user_id", req.ToUserID))
	defer span.End()

	msg, err := s.create(ctx, s.store, req)
	if err != nil {
		return nil, err
	}
	s.PublishSent(ctx, msg)
	return msg, nil
}

// SendTx stores a message inside tx. The caller calls PublishSent once tx commits.
func (s *MessageService) SendTx(ctx context.Context, tx *store.Tx, req *SendMessageRequest) (*models.Message, error) {
	ctx, span := util.StartSpan(ctx, "MessageService.SendTx",
		attribute.Int64("from_user_id", req.FromUserID),
		attribute.Int64("to_user_id", req.ToUserID))
	defer span.End()

	return s.create(ctx, tx, req)
}

func (s *MessageService) create(ctx context.Context, q messageWriter, req *SendMessageRequest) (*models.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if req.FromUserID == req.ToUserID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	for _, id := range []int64{req.FromUserID, req.ToUserID} {
		if _, err := q.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: user %d does not exist", ErrValidation, id)
			}
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
	}

	msg := &models.Message{
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Text:       text,
		SentAt:     time.Now().UTC(),
	}
	if err := q.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	return msg, nil
}

// PublishSent records a stored message in metrics and publishes MessageSent.
func (s *MessageService) PublishSent(ctx context.Context, msg *models.Message) {
	util.MessagesSentTotal.Inc()
	s.logger.Debug("Message sent",
		zap.Int64("message_id", msg.ID),
		zap.Int64("from_user_id", msg.FromUserID),
		zap.Int64("to_user_id", msg.ToUserID))

	event := &models.MessageSentEvent{
		BaseEvent:  newBaseEvent(models.EventTypeMessageSent),
		MessageID:  msg.ID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
	}
	if err := s.publisher.PublishMessageSent(ctx, event); err != nil {
		s.logger.Error("Failed to publish MessageSent event", zap.Error(err))
	}
}

// Thread yields every message between a and b, oldest first. Pages are fetched
// lazily, and ranging over the result again restarts from the first message.
func (s *MessageService) Thread(ctx context.Context, a, b int64) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		var afterID int64
		for {
			page, err := s.store.ListThreadPage(ctx, a, b, afterID, s.pageSize)
			if err != nil {
				yield(models.Message{}, fmt.Errorf("failed to read thread: %w", err))
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			afterID = page[len(page)-1].ID
		}
	}
}

// ListContacts returns the users available to message.
func (s *MessageService) ListContacts(ctx context.Context) ([]models.User, error) {
	ctx, span := util.StartSpan(ctx, "MessageService.ListContacts")
	defer span.End()

	return s.store.ListUsers(ctx)
}
