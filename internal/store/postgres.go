// Package store provides storage backends for ReadPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed delivery_log_postgres.sql
var postgresDeliveryLogSchema string

//go:embed reference_postgres.sql
var postgresReferenceSchema string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
// The delivery_log table is owned by the scheduler and is always ensured; the
// reference tables are only created with WithBootstrapSchema.
func NewPostgresStore(ctx context.Context, opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "", "bootstrap", cfg.BootstrapSchema)
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Debug("Postgres ping successful")

	if cfg.BootstrapSchema {
		if _, err := db.ExecContext(ctx, postgresReferenceSchema); err != nil {
			slog.Error("Failed to bootstrap reference schema", "error", err)
			db.Close()
			return nil, fmt.Errorf("bootstrap reference schema: %w", err)
		}
		slog.Debug("Postgres reference schema ensured")
	}
	if _, err := db.ExecContext(ctx, postgresDeliveryLogSchema); err != nil {
		slog.Error("Failed to ensure delivery_log table", "error", err)
		db.Close()
		return nil, fmt.Errorf("ensure delivery_log table: %w", err)
	}
	slog.Debug("Postgres delivery_log table ensured")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ListEnrollmentsAt(ctx context.Context, clock string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(enrollmentSelect,
		"to_char(u.started_at, 'YYYY-MM-DD')", "to_char(u.notification_time, 'HH24:MI:SS')", "true") +
		` AND u.notification_time = $1::time ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, query, models.MinuteTime(clock))
	if err != nil {
		slog.Error("PostgresStore ListEnrollmentsAt query failed", "error", err, "clock", clock)
		return nil, fmt.Errorf("list enrollments at %s: %w", clock, err)
	}
	defer rows.Close()
	enrollments, err := scanEnrollments(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore ListEnrollmentsAt succeeded", "clock", clock, "count", len(enrollments))
	return enrollments, nil
}

func (s *PostgresStore) ListEnrollments(ctx context.Context) ([]models.Enrollment, error) {
	query := fmt.Sprintf(enrollmentSelect,
		"to_char(u.started_at, 'YYYY-MM-DD')", "to_char(u.notification_time, 'HH24:MI:SS')", "true") +
		` ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("PostgresStore ListEnrollments query failed", "error", err)
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()
	return scanEnrollments(rows)
}

func (s *PostgresStore) GetReading(ctx context.Context, planID int64, day int) (*models.Reading, error) {
	var r models.Reading
	var book, chapters sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id, day_number, reference_text, book_name, chapters
		 FROM daily_readings WHERE plan_id = $1 AND day_number = $2`, planID, day,
	).Scan(&r.PlanID, &r.DayNumber, &r.ReferenceText, &book, &chapters)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reading plan=%d day=%d: %w", planID, day, err)
	}
	r.BookName = book.String
	r.Chapters = chapters.String
	return &r, nil
}

func (s *PostgresStore) IsDayCompleted(ctx context.Context, subscriberID, planID int64, day int) (bool, error) {
	var completed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM user_progress WHERE user_id = $1 AND plan_id = $2 AND day_number = $3`,
		subscriberID, planID, day,
	).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("completion check failed: %w", err)
	}
	return completed, nil
}

func (s *PostgresStore) CountIncompleteThrough(ctx context.Context, subscriberID, planID int64, lastDay int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_readings dr
		 LEFT JOIN user_progress up
		   ON up.user_id = $1 AND up.plan_id = dr.plan_id AND up.day_number = dr.day_number
		 WHERE dr.plan_id = $2 AND dr.day_number BETWEEN 1 AND $3
		   AND NOT COALESCE(up.completed, false)`,
		subscriberID, planID, lastDay,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete days failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AddDeliveryLog(ctx context.Context, entry models.DeliveryLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (id, user_id, recipient, direction, message_type, day_number, body, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.SubscriberID, entry.Recipient, string(entry.Direction), string(entry.Kind),
		nilIfZero(entry.DayNumber), entry.Body, string(entry.Status), nilIfEmpty(entry.Error), entry.Time,
	)
	if err != nil {
		slog.Error("PostgresStore AddDeliveryLog failed", "error", err, "subscriberID", entry.SubscriberID)
		return fmt.Errorf("failed to insert delivery log for subscriber %d: %w", entry.SubscriberID, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
