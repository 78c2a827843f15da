// Package messaging delivers ReadPipe's outbound text messages through a
// pluggable gateway client.
package messaging

import (
	"context"
	"errors"
	"regexp"
)

// ErrServiceStopped is returned by SendMessage after Stop has been called.
var ErrServiceStopped = errors.New("messaging service stopped")

// ErrInvalidRecipient is returned for recipients that cannot be canonicalized.
var ErrInvalidRecipient = errors.New("invalid recipient")

// MinRecipientDigits is the shortest phone number accepted after canonicalization.
const MinRecipientDigits = 6

// phoneNumberRegex matches every character that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient. A nil error means the
	// gateway accepted the message.
	SendMessage(ctx context.Context, to string, body string) error

	// Stop rejects further sends and releases resources.
	Stop() error
}

// Sender is the minimal client surface a gateway provider implements.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}
