package mailer

import (
	"context"
	"errors"
	"net/mail"
)

// ErrNoRecipient is returned when a message has no usable destination address.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is a single outgoing email.
type Message struct {
	To       mail.Address
	Subject  string
	Text     string
	HTML     string
	Category string
}

// Mailer delivers email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
