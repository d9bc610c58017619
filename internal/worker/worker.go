package worker

import (
	"context"
	"fmt"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// PickupWorker opens the pickup conversation once a request is approved: it sends the
// buyer a message from the seller with the listing's pickup location.
type PickupWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	listings     *service.ListingService
	messages     *service.MessageService
	logger       *zap.Logger
}

// NewPickupWorker creates a new pickup worker
func NewPickupWorker(
	consumer *broker.Consumer,
	store *store.Store,
	listings *service.ListingService,
	messages *service.MessageService,
) *PickupWorker {
	w := &PickupWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		listings:     listings,
		messages:     messages,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnRequestApproved(w.HandleRequestApproved)
	return w
}

// Start consumes events until ctx is cancelled
func (w *PickupWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting pickup worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PickupWorker) Stop() error {
	w.logger.Info("Stopping pickup worker")
	return w.consumer.Close()
}

// HandleRequestApproved sends the pickup message for one approval. The message and the
// processed-event record are written in one transaction, so a redelivered event is
// skipped and a failed one can be retried.
func (w *PickupWorker) HandleRequestApproved(ctx context.Context, event *models.RequestDecidedEvent) error {
	ctx, span := util.StartSpan(ctx, "PickupWorker.HandleRequestApproved")
	defer span.End()

	listing, err := w.listings.Get(ctx, event.ListingID)
	if err != nil {
		return err
	}

	var msg *models.Message
	err = w.store.WithTx(ctx, func(tx *store.Tx) error {
		first, err := tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
		if err != nil {
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		if !first {
			return nil
		}

		msg, err = w.messages.SendTx(ctx, tx, &service.SendMessageRequest{
			FromUserID: event.SellerID,
			ToUserID:   event.BuyerID,
			Text:       pickupText(listing),
		})
		if err != nil {
			return fmt.Errorf("failed to send pickup message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if msg == nil {
		w.logger.Info("Event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	w.messages.PublishSent(ctx, msg)
	w.logger.Info("Pickup message sent",
		zap.Int64("request_id", event.RequestID),
		zap.Int64("listing_id", event.ListingID),
		zap.Int64("buyer_id", event.BuyerID))
	return nil
}

func pickupText(listing *models.Listing) string {
	if listing.Location == "" {
		return fmt.Sprintf("Your request for %q was approved. Reply here to arrange pickup.", listing.Title)
	}
	return fmt.Sprintf("Your request for %q was approved. Pickup location: %s.", listing.Title, listing.Location)
}
