package messaging

import (
	"context"
	"sync"
	"time"
)

// SentMessage records one message accepted by MockSender.
type SentMessage struct {
	To   string
	Body string
	At   time.Time
}

// MockSender implements Sender in memory for tests.
type MockSender struct {
	mu       sync.Mutex
	sent     []SentMessage
	attempts int
	failFor  map[string]error
	failAll  error
	onSend   func(to string)
}

func NewMockSender() *MockSender {
	return &MockSender{failFor: make(map[string]error)}
}

// FailFor makes sends to recipient return err; a nil err clears it.
func (m *MockSender) FailFor(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failFor, recipient)
		return
	}
	m.failFor[recipient] = err
}

// FailAll makes every send return err; a nil err clears it.
func (m *MockSender) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// OnSend registers a callback run for every attempt, before the result is decided.
func (m *MockSender) OnSend(fn func(to string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = fn
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	m.attempts++
	hook := m.onSend
	err := m.failAll
	if e, ok := m.failFor[to]; ok {
		err = e
	}
	m.mu.Unlock()

	if hook != nil {
		hook(to)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Body: body, At: time.Now()})
	return nil
}

// Sent returns the accepted messages in order.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Attempts returns how many sends were tried, successful or not.
func (m *MockSender) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
