// Package store provides storage backends for ReadPipe.
//
// This file implements an SQLite-backed store for local runs and tests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ReadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed schema_sqlite.sql
var sqliteSchema string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(ctx context.Context, opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids "database is locked" under concurrent triggers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		slog.Error("Failed to apply SQLite schema", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Debug("SQLite schema applied successfully", "db_path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListEnrollmentsAt(ctx context.Context, clock string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(enrollmentSelect,
		"substr(u.started_at, 1, 10)", "u.notification_time", "1") +
		` AND time(u.notification_time) = ? ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, query, models.MinuteTime(clock))
	if err != nil {
		slog.Error("SQLiteStore ListEnrollmentsAt query failed", "error", err, "clock", clock)
		return nil, fmt.Errorf("list enrollments at %s: %w", clock, err)
	}
	defer rows.Close()
	return scanEnrollments(rows)
}

func (s *SQLiteStore) ListEnrollments(ctx context.Context) ([]models.Enrollment, error) {
	query := fmt.Sprintf(enrollmentSelect,
		"substr(u.started_at, 1, 10)", "u.notification_time", "1") +
		` ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("SQLiteStore ListEnrollments query failed", "error", err)
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()
	return scanEnrollments(rows)
}

func (s *SQLiteStore) GetReading(ctx context.Context, planID int64, day int) (*models.Reading, error) {
	var r models.Reading
	var book, chapters sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id, day_number, reference_text, book_name, chapters
		 FROM daily_readings WHERE plan_id = ? AND day_number = ?`, planID, day,
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

func (s *SQLiteStore) IsDayCompleted(ctx context.Context, subscriberID, planID int64, day int) (bool, error) {
	var completed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM user_progress WHERE user_id = ? AND plan_id = ? AND day_number = ?`,
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

func (s *SQLiteStore) CountIncompleteThrough(ctx context.Context, subscriberID, planID int64, lastDay int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_readings dr
		 LEFT JOIN user_progress up
		   ON up.user_id = ? AND up.plan_id = dr.plan_id AND up.day_number = dr.day_number
		 WHERE dr.plan_id = ? AND dr.day_number BETWEEN 1 AND ?
		   AND NOT COALESCE(up.completed, 0)`,
		subscriberID, planID, lastDay,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete days failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AddDeliveryLog(ctx context.Context, entry models.DeliveryLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (id, user_id, recipient, direction, message_type, day_number, body, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SubscriberID, entry.Recipient, string(entry.Direction), string(entry.Kind),
		nilIfZero(entry.DayNumber), entry.Body, string(entry.Status), nilIfEmpty(entry.Error), entry.Time,
	)
	if err != nil {
		slog.Error("SQLiteStore AddDeliveryLog failed", "error", err, "subscriberID", entry.SubscriberID)
		return fmt.Errorf("failed to insert delivery log for subscriber %d: %w", entry.SubscriberID, err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// Open creates the store matching the DSN type.
func Open(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(ctx, append(opts, WithPostgresDSN(dsn))...)
	}
	return NewSQLiteStore(ctx, append(opts, WithSQLiteDSN(dsn))...)
}
