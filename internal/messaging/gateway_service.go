package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSendTimeout bounds a single gateway call.
const DefaultSendTimeout = 30 * time.Second

// GatewayOpts holds configuration for GatewayService.
type GatewayOpts struct {
	SendTimeout time.Duration
	OnStop      func() error // closes the underlying client, if it needs it
}

// GatewayOption defines a configuration option for GatewayService.
type GatewayOption func(*GatewayOpts)

// WithSendTimeout sets the per-message gateway timeout.
func WithSendTimeout(d time.Duration) GatewayOption {
	return func(o *GatewayOpts) {
		o.SendTimeout = d
	}
}

// WithOnStop registers a hook run once by Stop.
func WithOnStop(fn func() error) GatewayOption {
	return func(o *GatewayOpts) {
		o.OnStop = fn
	}
}

// GatewayService implements Service on top of a provider Sender.
type GatewayService struct {
	name    string
	client  Sender // could be a real provider client or MockSender
	timeout time.Duration
	onStop  func() error
	mu      sync.RWMutex
	stopped bool
}

// NewGatewayService wraps client; name identifies the provider in logs.
func NewGatewayService(name string, client Sender, opts ...GatewayOption) *GatewayService {
	cfg := GatewayOpts{SendTimeout: DefaultSendTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	slog.Debug("GatewayService created", "provider", name, "timeout", cfg.SendTimeout)
	return &GatewayService{name: name, client: client, timeout: cfg.SendTimeout, onStop: cfg.OnStop}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *GatewayService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("%w: recipient cannot be empty", ErrInvalidRecipient)
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in recipient %q", ErrInvalidRecipient, recipient)
	}
	if len(canonical) < MinRecipientDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", ErrInvalidRecipient, canonical, MinRecipientDigits)
	}

	if recipient != canonical {
		slog.Debug("GatewayService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendMessage canonicalizes the recipient and hands the message to the provider.
func (s *GatewayService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Warn("GatewayService SendMessage validation error", "error", err, "to", to)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.client.SendMessage(sendCtx, canonicalTo, body); err != nil {
		slog.Error("GatewayService SendMessage error", "provider", s.name, "error", err, "to", canonicalTo)
		return fmt.Errorf("%s send to %s: %w", s.name, canonicalTo, err)
	}
	slog.Debug("GatewayService message accepted", "provider", s.name, "to", canonicalTo, "elapsed", time.Since(start))
	return nil
}

// Stop rejects further sends. It is safe to call more than once.
func (s *GatewayService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	slog.Info("GatewayService stopped", "provider", s.name)
	if s.onStop != nil {
		return s.onStop()
	}
	return nil
}
