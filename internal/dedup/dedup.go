// Package dedup guards ReadPipe's outbound messages with expiring markers so
// a reminder or encouragement is never sent twice inside its window.
//
// A marker is claimed atomically before sending, confirmed with its full TTL
// once the gateway accepts the message, and released when the send fails so
// the next matching tick can retry.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/cache"
	"github.com/BTreeMap/ReadPipe/internal/models"
)

const (
	// MinReminderTTL is the shortest accepted reminder marker lifetime.
	MinReminderTTL = time.Hour
	// MinThrottleTTL is the shortest accepted encouragement throttle lifetime.
	MinThrottleTTL = 72 * time.Hour
	// DefaultClaimTTL bounds how long an in-flight claim survives a crash.
	DefaultClaimTTL = 5 * time.Minute

	reminderPrefix = "reminder:"
	throttlePrefix = "encouragement:"

	valuePending = "pending"
	valueSent    = "sent"
)

// Marker is a cache key together with the lifetime it gets once confirmed.
type Marker struct {
	Key string
	TTL time.Duration
}

// Opts holds marker lifetimes.
type Opts struct {
	ReminderTTL time.Duration
	ThrottleTTL time.Duration
	ClaimTTL    time.Duration
}

// Option defines a configuration option for the dedup store.
type Option func(*Opts)

// WithReminderTTL sets the reminder marker lifetime; values below MinReminderTTL are raised to it.
func WithReminderTTL(d time.Duration) Option {
	return func(o *Opts) {
		o.ReminderTTL = d
	}
}

// WithThrottleTTL sets the encouragement throttle lifetime; values below MinThrottleTTL are raised to it.
func WithThrottleTTL(d time.Duration) Option {
	return func(o *Opts) {
		o.ThrottleTTL = d
	}
}

// WithClaimTTL sets the lifetime of an unconfirmed claim.
func WithClaimTTL(d time.Duration) Option {
	return func(o *Opts) {
		o.ClaimTTL = d
	}
}

// Store manages markers in a cache.
type Store struct {
	cache       cache.Cache
	reminderTTL time.Duration
	throttleTTL time.Duration
	claimTTL    time.Duration
}

// New creates a dedup store over c.
func New(c cache.Cache, opts ...Option) *Store {
	cfg := Opts{ReminderTTL: MinReminderTTL, ThrottleTTL: MinThrottleTTL, ClaimTTL: DefaultClaimTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ReminderTTL < MinReminderTTL {
		slog.Warn("dedup.New: reminder TTL below minimum, using minimum", "requested", cfg.ReminderTTL, "min", MinReminderTTL)
		cfg.ReminderTTL = MinReminderTTL
	}
	if cfg.ThrottleTTL < MinThrottleTTL {
		slog.Warn("dedup.New: throttle TTL below minimum, using minimum", "requested", cfg.ThrottleTTL, "min", MinThrottleTTL)
		cfg.ThrottleTTL = MinThrottleTTL
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	return &Store{cache: c, reminderTTL: cfg.ReminderTTL, throttleTTL: cfg.ThrottleTTL, claimTTL: cfg.ClaimTTL}
}

// ReminderKey returns the marker for a subscriber's plan day on the given local date.
func (s *Store) ReminderKey(subscriberID int64, day int, date time.Time) Marker {
	return Marker{
		Key: fmt.Sprintf("%s%d:%d:%s", reminderPrefix, subscriberID, day, date.Format(models.DateLayout)),
		TTL: s.reminderTTL,
	}
}

// ThrottleKey returns the encouragement throttle marker for a subscriber.
func (s *Store) ThrottleKey(subscriberID int64) Marker {
	return Marker{Key: fmt.Sprintf("%s%d", throttlePrefix, subscriberID), TTL: s.throttleTTL}
}

// Claim atomically reserves m. It returns false when the marker already
// exists, meaning the message was sent or is being sent.
func (s *Store) Claim(ctx context.Context, m Marker) (bool, error) {
	ok, err := s.cache.SetNX(ctx, m.Key, valuePending, s.claimTTL)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", m.Key, err)
	}
	return ok, nil
}

// Confirm records a successful send, extending the marker to its full TTL.
// It runs even when ctx is already cancelled.
func (s *Store) Confirm(ctx context.Context, m Marker) error {
	if err := s.cache.Set(context.WithoutCancel(ctx), m.Key, valueSent, m.TTL); err != nil {
		return fmt.Errorf("confirm %s: %w", m.Key, err)
	}
	return nil
}

// Release drops a claim after a failed send. It runs even when ctx is already cancelled.
func (s *Store) Release(ctx context.Context, m Marker) error {
	if err := s.cache.Delete(context.WithoutCancel(ctx), m.Key); err != nil {
		return fmt.Errorf("release %s: %w", m.Key, err)
	}
	return nil
}

// Exists reports whether m is claimed or confirmed.
func (s *Store) Exists(ctx context.Context, m Marker) (bool, error) {
	_, found, err := s.cache.Get(ctx, m.Key)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", m.Key, err)
	}
	return found, nil
}

// Sweep deletes reminder markers dated before today and returns how many it
// removed. Keys it cannot parse are left alone.
func (s *Store) Sweep(ctx context.Context, today time.Time) (int, error) {
	keys, err := s.cache.Keys(ctx, reminderPrefix)
	if err != nil {
		return 0, fmt.Errorf("list reminder markers: %w", err)
	}
	cutoff := today.Format(models.DateLayout)
	removed := 0
	for _, key := range keys {
		date, ok := markerDate(key)
		if !ok {
			slog.Debug("Store.Sweep: skipping unrecognised key", "key", key)
			continue
		}
		// ISO dates compare correctly as strings.
		if date >= cutoff {
			continue
		}
		if err := s.cache.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		removed++
	}
	slog.Debug("Store.Sweep: finished", "scanned", len(keys), "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// markerDate extracts the YYYY-MM-DD component of a reminder key.
func markerDate(key string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(key, reminderPrefix), ":")
	if len(parts) != 3 {
		return "", false
	}
	if _, err := time.Parse(models.DateLayout, parts[2]); err != nil {
		return "", false
	}
	return parts[2], true
}
