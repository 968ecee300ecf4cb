package notifications

import (
	"context"

	"linkwave/internal/domain/outbox"

	"github.com/9ssi7/exponent"
)

// PushSender is just an abstraction over any push sender,
// but here it's directly tied to the exponent SDK types.
type PushSender interface {
	Publish(ctx context.Context, msgs []*exponent.Message) ([]*exponent.MessageResponse, error)
}

// SMSSender sends one text message and returns the provider message id.
type SMSSender interface {
	Send(ctx context.Context, to, text string) (string, error)
}

// Channel delivers one outbox message.
type Channel interface {
	Send(ctx context.Context, m *outbox.Message) (providerMessageID string, err error)
}
