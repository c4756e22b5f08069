package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridMailer sends email through the SendGrid v3 API.
type SendGridMailer struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGridMailer builds a SendGrid transport. appName prefixes every subject.
func NewSendGridMailer(apiKey, appName, fromEmail string) *SendGridMailer {
	return &SendGridMailer{
		client:     sendgrid.NewSendClient(apiKey),
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

// Send delivers msg; any non-2xx answer is reported as an error so the caller can retry.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if msg.To.Address == "" {
		return ErrNoRecipient
	}
	to := sgmail.NewEmail(msg.To.Name, msg.To.Address)
	html := msg.HTML
	if html == "" {
		html = "<p>" + msg.Text + "</p>"
	}
	email := sgmail.NewSingleEmail(m.from, m.subjPrefix+msg.Subject, to, msg.Text, html)
	if msg.Category != "" {
		email.AddCategories(msg.Category)
	}

	res, err := m.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
