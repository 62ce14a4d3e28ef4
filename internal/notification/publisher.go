package notification

import (
	"context"

	"github.com/example/gym-checkout/internal/domain/membership"
)

// Reminder is the message carried on the reminder topic
type Reminder = membership.RenewalReminder

// MessagePublisher is satisfied by kafka.Producer
type MessagePublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Publisher sends renewal reminders to the scheduler's topic
type Publisher struct {
	producer MessagePublisher
}

func NewPublisher(producer MessagePublisher) *Publisher {
	return &Publisher{producer: producer}
}

// PublishReminder keys the message by user so a newer reminder for the same
// user follows the older one on its partition.
func (p *Publisher) PublishReminder(ctx context.Context, r Reminder) error {
	return p.producer.Publish(ctx, r.UserID, r)
}
