package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/example/gym-checkout/internal/domain/membership"
	"github.com/example/gym-checkout/internal/domain/order"
	"go.uber.org/zap"
)

// Sender delivers the member-facing emails
type Sender interface {
	SendOrderConfirmation(ctx context.Context, o order.Order) error
	SendRenewalReminder(ctx context.Context, r membership.RenewalReminder) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP. Without a host it only logs.
type Service struct {
	host   string
	port   string
	from   string
	send   sendFunc
	logger *zap.Logger
}

func NewService(host, port, from string, logger *zap.Logger) *Service {
	return &Service{
		host:   host,
		port:   port,
		from:   from,
		send:   smtp.SendMail,
		logger: logger.Named("email"),
	}
}

// SendOrderConfirmation mails the order summary. The user ID is the email.
func (s *Service) SendOrderConfirmation(ctx context.Context, o order.Order) error {
	shortID := o.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	body, err := BuildOrderConfirmationBody(o)
	if err != nil {
		return err
	}
	return s.deliver(ctx, o.UserID, fmt.Sprintf("Order confirmation (order %s)", shortID), body)
}

// SendRenewalReminder mails the opening of the renewal window.
func (s *Service) SendRenewalReminder(ctx context.Context, r membership.RenewalReminder) error {
	body, err := BuildRenewalReminderBody(r)
	if err != nil {
		return err
	}
	return s.deliver(ctx, r.UserID, "Your membership renewal window is open", body)
}

func (s *Service) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.host == "" {
		s.logger.Info("smtp not configured, email logged only",
			zap.String("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.send(addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	s.logger.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
