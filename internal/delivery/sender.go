package delivery

import (
	"context"

	"forewarn/internal/types"
)

// Mailer is the outbound transport used by EmailSender. Satisfied by
// MailClient.
type Mailer interface {
	Send(ctx context.Context, to, toName, subject, body string) error
}

// EmailSender implements types.Sender by rendering the payload and handing
// it to the mail transport.
type EmailSender struct {
	renderer *Renderer
	mailer   Mailer
	log      types.Logger
}

// NewEmailSender creates an EmailSender.
func NewEmailSender(renderer *Renderer, mailer Mailer, log types.Logger) *EmailSender {
	return &EmailSender{renderer: renderer, mailer: mailer, log: log}
}

// Send renders and transmits one delivery.
func (s *EmailSender) Send(ctx context.Context, sub types.Subscriber, payload types.AlertPayload) error {
	if err := s.renderer.Render(sub, &payload); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render delivery", err)
	}

	if err := s.mailer.Send(ctx, sub.Email, sub.Name, payload.Subject, payload.Body); err != nil {
		return err
	}

	s.log.Info("email sent",
		"subscriber_id", sub.ID,
		"kind", string(payload.Kind),
		"subject", payload.Subject,
	)
	return nil
}

var _ types.Sender = (*EmailSender)(nil)
