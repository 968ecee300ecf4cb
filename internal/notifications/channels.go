package notifications

import (
	"context"
	"errors"
	"fmt"

	"linkwave/internal/domain/outbox"
	"linkwave/internal/mailer"

	"github.com/9ssi7/exponent"
)

var ErrEmptyMessage = errors.New("message has no content")

// EmailChannel renders the outbox template through the mailer.
type EmailChannel struct {
	mailer mailer.Client
}

func NewEmailChannel(m mailer.Client) *EmailChannel { return &EmailChannel{mailer: m} }

func (c *EmailChannel) Send(ctx context.Context, m *outbox.Message) (string, error) {
	return c.mailer.Send(m.Template, m.RecipientName, m.Recipient, m.Payload)
}

// SMSChannel sends payload["text"] as is.
type SMSChannel struct {
	sms SMSSender
}

func NewSMSChannel(s SMSSender) *SMSChannel { return &SMSChannel{sms: s} }

func (c *SMSChannel) Send(ctx context.Context, m *outbox.Message) (string, error) {
	text, _ := m.Payload["text"].(string)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return c.sms.Send(ctx, m.Recipient, text)
}

// PushChannel delivers to the Expo token held in Recipient.
type PushChannel struct {
	push PushSender
}

func NewPushChannel(p PushSender) *PushChannel { return &PushChannel{push: p} }

func (c *PushChannel) Send(ctx context.Context, m *outbox.Message) (string, error) {
	title, body := pushContent(m.Template, m.Payload)

	token := exponent.Token(m.Recipient)
	msg := &exponent.Message{
		To:    []*exponent.Token{&token},
		Title: title,
		Body:  body,
		//the data field is what the app receives when the notification is tapped
		Data: map[string]string{
			"type":   m.Template,
			"screen": "billing",
		},
	}
	if ref, ok := m.Payload["Reference"].(string); ok {
		msg.Data["reference"] = ref
	}
	if inv, ok := m.Payload["InvoiceNumber"].(string); ok {
		msg.Data["invoiceNumber"] = inv
	}

	resps, err := c.push.Publish(ctx, []*exponent.Message{msg})
	if err != nil {
		return "", err
	}
	if len(resps) == 0 {
		return "", nil
	}
	if resps[0].Status == "error" {
		return "", fmt.Errorf("expo push rejected: %s", resps[0].Message)
	}
	return resps[0].ID, nil
}

func pushContent(template string, p map[string]any) (string, string) {
	amount, _ := p["Amount"].(float64)
	ref, _ := p["Reference"].(string)

	switch template {
	case mailer.PaymentConfirmationTemplate:
		return "Payment received", fmt.Sprintf("We received your payment of R%.2f. Thank you!", amount)
	case mailer.PaymentFailedTemplate:
		return "Payment unsuccessful", fmt.Sprintf("Your payment for %s did not go through.", ref)
	case mailer.RefundNoticeTemplate:
		return "Refund processed", fmt.Sprintf("A refund of R%.2f is on its way.", amount)
	case mailer.InvoiceIssuedTemplate:
		inv, _ := p["InvoiceNumber"].(string)
		return "New invoice", fmt.Sprintf("Invoice %s is ready.", inv)
	default:
		return "Billing update", "There is an update on your account."
	}
}
