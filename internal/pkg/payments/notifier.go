package payments

import (
	"context"
	"fmt"

	"github.com/attune-health/attune/internal/pkg/mail"
)

// mailNotifier sends payment confirmations over the SMTP collaborator.
type mailNotifier struct {
	users UserDirectory
}

// NewMailNotifier creates the production Notifier.
func NewMailNotifier(users UserDirectory) Notifier {
	return &mailNotifier{users: users}
}

func (n *mailNotifier) SendPaymentConfirmation(ctx context.Context, userID uint, nc NotificationContext) error {
	email, err := n.users.GetEmail(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve user %d: %w", userID, err)
	}

	subject := "Your payment was received"
	body := fmt.Sprintf(
		"<p>We received your payment via %s.</p>", nc.Provider)
	if nc.AmountMinor > 0 {
		body = fmt.Sprintf(
			"<p>We received your payment of %d.%02d %s via %s.</p>",
			nc.AmountMinor/100, nc.AmountMinor%100, nc.Currency, nc.Provider)
	}
	if nc.Purpose == "subscription_renewal" {
		subject = "Your subscription payment was received"
	}

	return mail.SendMail(email, subject, body)
}
