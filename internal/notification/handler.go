package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/gym-checkout/internal/domain/order"
	"github.com/example/gym-checkout/internal/email"
	"github.com/example/gym-checkout/internal/infrastructure/store"
	"go.uber.org/zap"
)

// Handler turns event-stream messages into order confirmation emails
type Handler struct {
	sender email.Sender
	logger *zap.Logger
}

func NewHandler(sender email.Sender, logger *zap.Logger) *Handler {
	return &Handler{sender: sender, logger: logger.Named("order_notifier")}
}

// HandleEvent processes an event from Kafka. Only OrderRecorded is acted on.
func (h *Handler) HandleEvent(ctx context.Context, _, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	if event.EventType != order.EventOrderRecorded {
		return nil
	}

	var e order.OrderRecorded
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return fmt.Errorf("unmarshal %s: %w", event.EventType, err)
	}

	if err := h.sender.SendOrderConfirmation(ctx, e.Order); err != nil {
		return fmt.Errorf("order confirmation for %s: %w", e.Order.ID, err)
	}
	h.logger.Info("order confirmation sent",
		zap.String("order_id", e.Order.ID),
		zap.String("user_id", e.Order.UserID),
	)
	return nil
}
