package messaging

import (
	"context"
	"errors"
	"testing"
	"time"
)

// Ensure GatewayService implements Service interface
func TestGatewayService_ImplementsService(t *testing.T) {
	var _ Service = (*GatewayService)(nil)
	var _ Sender = (*MockSender)(nil)
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewGatewayService("mock", NewMockSender())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 (11) 98765-4321", "5511987654321", false},
		{"5511987654321", "5511987654321", false},
		{"whatsapp:+15551234567", "15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"+123", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRecipient) {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v, want ErrInvalidRecipient", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestGatewayService_SendMessage(t *testing.T) {
	mock := NewMockSender()
	svc := NewGatewayService("mock", mock)
	if err := svc.SendMessage(context.Background(), "+55 11 98765-4321", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "5511987654321" || sent[0].Body != "hello" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}
}

func TestGatewayService_SendMessage_ProviderError(t *testing.T) {
	mock := NewMockSender()
	boom := errors.New("502 bad gateway")
	mock.FailFor("5511987654321", boom)
	svc := NewGatewayService("mock", mock)

	err := svc.SendMessage(context.Background(), "5511987654321", "hello")
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error to be wrapped, got %v", err)
	}
	if len(mock.Sent()) != 0 {
		t.Error("failed message must not be recorded as sent")
	}
	if mock.Attempts() != 1 {
		t.Errorf("attempts = %d, want 1", mock.Attempts())
	}
}

func TestGatewayService_InvalidRecipientNeverReachesProvider(t *testing.T) {
	mock := NewMockSender()
	svc := NewGatewayService("mock", mock)
	if err := svc.SendMessage(context.Background(), "n/a", "hello"); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
	if mock.Attempts() != 0 {
		t.Error("provider should not be called for invalid recipients")
	}
}

func TestGatewayService_Timeout(t *testing.T) {
	mock := NewMockSender()
	var deadline time.Time
	var hasDeadline bool
	svc := NewGatewayService("mock", senderFunc(func(ctx context.Context, to, body string) error {
		deadline, hasDeadline = ctx.Deadline()
		return mock.SendMessage(ctx, to, body)
	}), WithSendTimeout(time.Second))

	before := time.Now()
	if err := svc.SendMessage(context.Background(), "5511987654321", "hi"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if !hasDeadline || deadline.Sub(before) > 2*time.Second {
		t.Errorf("expected a ~1s deadline on the provider call, got %v (set=%v)", deadline.Sub(before), hasDeadline)
	}
}

func TestGatewayService_Stop(t *testing.T) {
	stops := 0
	svc := NewGatewayService("mock", NewMockSender(), WithOnStop(func() error {
		stops++
		return nil
	}))
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if stops != 1 {
		t.Errorf("OnStop ran %d times, want 1", stops)
	}
	if err := svc.SendMessage(context.Background(), "5511987654321", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

type senderFunc func(ctx context.Context, to, body string) error

func (f senderFunc) SendMessage(ctx context.Context, to, body string) error { return f(ctx, to, body) }
