// Package store provides storage backends for ReadPipe.
//
// The scheduler reads subscribers, plans, readings and completion records owned
// by the progress service, and appends to its own delivery log. PostgreSQL is
// the production backend; SQLite and the in-memory store serve development and tests.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/BTreeMap/ReadPipe/internal/models"
)

// ErrDSNNotSet is returned when a SQL store is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Store is the query surface the reminder engine depends on.
type Store interface {
	// ListEnrollmentsAt returns active, started subscribers whose notification
	// time is exactly clock (HH:MM) at zero seconds, joined with their plan.
	// Rows that fail to parse are logged and skipped.
	ListEnrollmentsAt(ctx context.Context, clock string) ([]models.Enrollment, error)

	// ListEnrollments returns every active, started subscriber with a plan.
	ListEnrollments(ctx context.Context) ([]models.Enrollment, error)

	// GetReading returns the reading for a plan day or nil when it does not exist.
	GetReading(ctx context.Context, planID int64, day int) (*models.Reading, error)

	// IsDayCompleted reports whether the subscriber marked the plan day as read.
	IsDayCompleted(ctx context.Context, subscriberID, planID int64, day int) (bool, error)

	// CountIncompleteThrough counts plan days in [1, lastDay] that have a
	// reading and no completed record. Days without a reading are not counted.
	CountIncompleteThrough(ctx context.Context, subscriberID, planID int64, lastDay int) (int, error)

	// AddDeliveryLog appends one outbound attempt.
	AddDeliveryLog(ctx context.Context, entry models.DeliveryLogEntry) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Compile-time checks that the backends implement Store.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

type readingKey struct {
	planID int64
	day    int
}

type completionKey struct {
	subscriberID int64
	planID       int64
	day          int
}

// InMemoryStore is a simple in-memory store used in tests and local runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	subscribers map[int64]models.Subscriber
	plans       map[int64]models.Plan
	readings    map[readingKey]models.Reading
	completions map[completionKey]models.CompletionRecord
	logs        []models.DeliveryLogEntry
	logErr      error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subscribers: make(map[int64]models.Subscriber),
		plans:       make(map[int64]models.Plan),
		readings:    make(map[readingKey]models.Reading),
		completions: make(map[completionKey]models.CompletionRecord),
	}
}

// PutPlan inserts or replaces a plan.
func (s *InMemoryStore) PutPlan(p models.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
}

// PutSubscriber inserts or replaces a subscriber.
func (s *InMemoryStore) PutSubscriber(sub models.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID] = sub
}

// PutReading inserts or replaces a plan day's reading.
func (s *InMemoryStore) PutReading(r models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[readingKey{r.PlanID, r.DayNumber}] = r
}

// PutCompletion inserts or replaces a completion record.
func (s *InMemoryStore) PutCompletion(c models.CompletionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[completionKey{c.SubscriberID, c.PlanID, c.DayNumber}] = c
}

// FailDeliveryLogs makes AddDeliveryLog return err until called again with nil.
func (s *InMemoryStore) FailDeliveryLogs(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logErr = err
}

// DeliveryLogs returns every logged attempt, oldest first.
func (s *InMemoryStore) DeliveryLogs() []models.DeliveryLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DeliveryLogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *InMemoryStore) ListEnrollmentsAt(ctx context.Context, clock string) ([]models.Enrollment, error) {
	all, err := s.ListEnrollments(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Enrollment
	for _, e := range all {
		if e.Subscriber.NotificationTime == clock {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListEnrollments(ctx context.Context) ([]models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Enrollment
	for _, sub := range s.subscribers {
		if !sub.Schedulable() {
			continue
		}
		plan, ok := s.plans[*sub.PlanID]
		if !ok {
			continue
		}
		out = append(out, models.Enrollment{Subscriber: sub, Plan: plan})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subscriber.ID < out[j].Subscriber.ID })
	return out, nil
}

func (s *InMemoryStore) GetReading(ctx context.Context, planID int64, day int) (*models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[readingKey{planID, day}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) IsDayCompleted(ctx context.Context, subscriberID, planID int64, day int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.completions[completionKey{subscriberID, planID, day}]
	return ok && c.Completed, nil
}

func (s *InMemoryStore) CountIncompleteThrough(ctx context.Context, subscriberID, planID int64, lastDay int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.readings {
		if k.planID != planID || k.day < 1 || k.day > lastDay {
			continue
		}
		if c, ok := s.completions[completionKey{subscriberID, planID, k.day}]; ok && c.Completed {
			continue
		}
		n++
	}
	return n, nil
}

func (s *InMemoryStore) AddDeliveryLog(ctx context.Context, entry models.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logErr != nil {
		return s.logErr
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
