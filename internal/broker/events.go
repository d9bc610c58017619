package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func listingKey(listingID int64) string {
	return fmt.Sprintf("listing-%d", listingID)
}

// PublishListingCreated publishes ListingCreated event
func (ep *EventPublisher) PublishListingCreated(ctx context.Context, event *models.ListingCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, listingKey(event.ListingID), event)
}

// PublishListingSold publishes ListingSold event
func (ep *EventPublisher) PublishListingSold(ctx context.Context, event *models.ListingSoldEvent) error {
	return ep.producer.PublishEvent(ctx, listingKey(event.ListingID), event)
}

// PublishListingRemoved publishes ListingRemoved event
func (ep *EventPublisher) PublishListingRemoved(ctx context.Context, event *models.ListingRemovedEvent) error {
	return ep.producer.PublishEvent(ctx, listingKey(event.ListingID), event)
}

// PublishRequestSubmitted publishes RequestSubmitted event
func (ep *EventPublisher) PublishRequestSubmitted(ctx context.Context, event *models.RequestSubmittedEvent) error {
	return ep.producer.PublishEvent(ctx, listingKey(event.ListingID), event)
}

// PublishRequestDecided publishes RequestApproved or RequestDenied event
func (ep *EventPublisher) PublishRequestDecided(ctx context.Context, event *models.RequestDecidedEvent) error {
	return ep.producer.PublishEvent(ctx, listingKey(event.ListingID), event)
}

// PublishMessageSent publishes MessageSent event
func (ep *EventPublisher) PublishMessageSent(ctx context.Context, event *models.MessageSentEvent) error {
	key := fmt.Sprintf("user-%d", event.ToUserID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRequestApproved func(context.Context, *models.RequestDecidedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnRequestApproved registers a handler for RequestApproved events
func (eh *EventHandler) OnRequestApproved(handler func(context.Context, *models.RequestDecidedEvent) error) {
	eh.onRequestApproved = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRequestApproved:
		if eh.onRequestApproved != nil {
			var event models.RequestDecidedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RequestApproved event: %w", err)
			}
			return eh.onRequestApproved(ctx, &event)
		}
	}

	return nil
}
