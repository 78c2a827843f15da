package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/models"
)

func seedInMemory(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	planID := int64(1)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.PutPlan(models.Plan{ID: 1, Name: "Gospels", TotalDays: 3})
	s.PutSubscriber(models.Subscriber{ID: 2, Phone: "+5511", Name: "Ana", Active: true, PlanID: &planID, StartedAt: &start, NotificationTime: "08:00"})
	s.PutSubscriber(models.Subscriber{ID: 1, Phone: "+5522", Active: true, PlanID: &planID, StartedAt: &start, NotificationTime: "09:30"})
	s.PutSubscriber(models.Subscriber{ID: 3, Phone: "+5533", Active: false, PlanID: &planID, StartedAt: &start, NotificationTime: "08:00"})
	s.PutReading(models.Reading{PlanID: 1, DayNumber: 1, ReferenceText: "Mark 1"})
	s.PutCompletion(models.CompletionRecord{SubscriberID: 2, PlanID: 1, DayNumber: 1, Completed: true})
	s.PutCompletion(models.CompletionRecord{SubscriberID: 2, PlanID: 1, DayNumber: 2, Completed: false})
	return s
}

func TestInMemoryStore_Enrollments(t *testing.T) {
	ctx := context.Background()
	s := seedInMemory(t)

	all, err := s.ListEnrollments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Subscriber.ID != 1 || all[1].Subscriber.ID != 2 {
		t.Fatalf("expected active subscribers 1 and 2 in order, got %+v", all)
	}

	at, err := s.ListEnrollmentsAt(ctx, "08:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(at) != 1 || at[0].Subscriber.ID != 2 || at[0].Plan.Name != "Gospels" {
		t.Errorf("expected only subscriber 2 at 08:00, got %+v", at)
	}
}

func TestInMemoryStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s := seedInMemory(t)

	if r, _ := s.GetReading(ctx, 1, 1); r == nil || r.ReferenceText != "Mark 1" {
		t.Errorf("expected day 1 reading, got %+v", r)
	}
	if r, _ := s.GetReading(ctx, 1, 2); r != nil {
		t.Errorf("expected nil for missing reading, got %+v", r)
	}
	if done, _ := s.IsDayCompleted(ctx, 2, 1, 1); !done {
		t.Error("day 1 should be completed")
	}
	if done, _ := s.IsDayCompleted(ctx, 2, 1, 2); done {
		t.Error("day 2 is recorded but not completed")
	}
	// Only day 1 has a reading; days 2 and 3 are not counted.
	if n, _ := s.CountIncompleteThrough(ctx, 2, 1, 3); n != 0 {
		t.Errorf("CountIncompleteThrough(2) = %d, want 0", n)
	}
	if n, _ := s.CountIncompleteThrough(ctx, 1, 1, 3); n != 1 {
		t.Errorf("CountIncompleteThrough(1) = %d, want 1", n)
	}
}

func TestInMemoryStore_DeliveryLogFailure(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	boom := errors.New("disk full")
	s.FailDeliveryLogs(boom)
	if err := s.AddDeliveryLog(ctx, models.DeliveryLogEntry{SubscriberID: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.FailDeliveryLogs(nil)
	if err := s.AddDeliveryLog(ctx, models.DeliveryLogEntry{SubscriberID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(s.DeliveryLogs()); got != 1 {
		t.Errorf("expected 1 log entry, got %d", got)
	}
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "readpipe.db")
	s, err := NewSQLiteStore(context.Background(), WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSQLite(t *testing.T, s *SQLiteStore) {
	t.Helper()
	stmts := []string{
		`INSERT INTO reading_plans (id, name, total_days) VALUES (1, 'Gospels', 3)`,
		`INSERT INTO users (id, phone_number, name, is_active, current_plan_id, started_at, notification_time, timezone)
		 VALUES (1, '+5511', 'Ana', 1, 1, '2026-01-01', '08:00:00', 'America/Sao_Paulo')`,
		`INSERT INTO users (id, phone_number, name, is_active, current_plan_id, started_at, notification_time)
		 VALUES (2, '+5522', NULL, 1, 1, '2026-01-02 10:15:00', '09:30')`,
		`INSERT INTO users (id, phone_number, is_active, current_plan_id, started_at, notification_time)
		 VALUES (3, '+5533', 0, 1, '2026-01-01', '08:00')`,
		`INSERT INTO users (id, phone_number, is_active, current_plan_id, notification_time)
		 VALUES (4, '+5544', 1, 1, '08:00')`,
		`INSERT INTO daily_readings (plan_id, day_number, reference_text, book_name, chapters)
		 VALUES (1, 1, 'Mark 1-2', 'Mark', '1-2')`,
		`INSERT INTO daily_readings (plan_id, day_number, reference_text) VALUES (1, 2, 'Mark 3')`,
		`INSERT INTO user_progress (user_id, plan_id, day_number, completed) VALUES (1, 1, 1, 1)`,
		`INSERT INTO user_progress (user_id, plan_id, day_number, completed) VALUES (1, 1, 2, 0)`,
		`INSERT INTO user_progress (user_id, plan_id, day_number, completed) VALUES (1, 1, 3, 1)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("seed failed: %v\n%s", err, stmt)
		}
	}
}

func TestSQLiteStore_ListEnrollmentsAt(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	seedSQLite(t, s)

	got, err := s.ListEnrollmentsAt(ctx, "08:00")
	if err != nil {
		t.Fatalf("ListEnrollmentsAt failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 enrollment at 08:00, got %d", len(got))
	}
	e := got[0]
	if e.Subscriber.ID != 1 || e.Subscriber.Name != "Ana" || e.Plan.TotalDays != 3 {
		t.Errorf("unexpected enrollment: %+v", e)
	}
	if e.Subscriber.NotificationTime != "08:00" {
		t.Errorf("NotificationTime = %q, want 08:00", e.Subscriber.NotificationTime)
	}
	if e.Subscriber.StartedAt == nil || e.Subscriber.StartedAt.Format(models.DateLayout) != "2026-01-01" {
		t.Errorf("StartedAt = %v, want 2026-01-01", e.Subscriber.StartedAt)
	}
	if e.Subscriber.Timezone != "America/Sao_Paulo" {
		t.Errorf("Timezone = %q", e.Subscriber.Timezone)
	}

	none, err := s.ListEnrollmentsAt(ctx, "08:01")
	if err != nil {
		t.Fatalf("ListEnrollmentsAt failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected exact minute match only, got %d", len(none))
	}
}

func TestSQLiteStore_ListEnrollments(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedSQLite(t, s)

	got, err := s.ListEnrollments(context.Background())
	if err != nil {
		t.Fatalf("ListEnrollments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active started subscribers, got %d", len(got))
	}
	second := got[1]
	if second.Subscriber.ID != 2 || second.Subscriber.Name != "" {
		t.Errorf("unexpected second enrollment: %+v", second.Subscriber)
	}
	if second.Subscriber.StartedAt.Format(models.DateLayout) != "2026-01-02" {
		t.Errorf("timestamp start should be reduced to its date, got %v", second.Subscriber.StartedAt)
	}
}

func TestSQLiteStore_ReadingsAndProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	seedSQLite(t, s)

	r, err := s.GetReading(ctx, 1, 1)
	if err != nil || r == nil {
		t.Fatalf("GetReading failed: %+v, %v", r, err)
	}
	if r.BookName != "Mark" || r.Chapters != "1-2" {
		t.Errorf("unexpected reading details: %+v", r)
	}
	if r2, _ := s.GetReading(ctx, 1, 2); r2 == nil || r2.BookName != "" {
		t.Errorf("expected reading without book name, got %+v", r2)
	}
	if missing, err := s.GetReading(ctx, 1, 3); err != nil || missing != nil {
		t.Errorf("expected nil reading, got %+v, %v", missing, err)
	}

	if done, err := s.IsDayCompleted(ctx, 1, 1, 1); err != nil || !done {
		t.Errorf("day 1 should be completed: %v, %v", done, err)
	}
	if done, _ := s.IsDayCompleted(ctx, 1, 1, 2); done {
		t.Error("day 2 should not be completed")
	}
	if done, _ := s.IsDayCompleted(ctx, 2, 1, 1); done {
		t.Error("subscriber without progress rows should not be completed")
	}

	if n, err := s.CountIncompleteThrough(ctx, 1, 1, 2); err != nil || n != 1 {
		t.Errorf("CountIncompleteThrough(1, 2) = %d, %v; want 1", n, err)
	}
	// Day 3 has a completed record but no reading.
	if n, _ := s.CountIncompleteThrough(ctx, 1, 1, 3); n != 1 {
		t.Errorf("CountIncompleteThrough(1, 3) = %d, want 1", n)
	}
	if n, _ := s.CountIncompleteThrough(ctx, 2, 1, 3); n != 2 {
		t.Errorf("CountIncompleteThrough(2, 3) = %d, want 2", n)
	}
}

func TestSQLiteStore_DeliveryLog(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	base := time.Date(2026, 1, 3, 8, 0, 0, 0, time.UTC)
	entries := []models.DeliveryLogEntry{
		{ID: "a", SubscriberID: 1, Recipient: "+5511", Direction: models.DirectionOutgoing, Kind: models.MessageKindReminder,
			DayNumber: 3, Body: "hello", Status: models.MessageStatusSent, Time: base},
		{ID: "b", SubscriberID: 1, Recipient: "+5511", Direction: models.DirectionOutgoing, Kind: models.MessageKindEncouragement,
			Body: "keep going", Status: models.MessageStatusFailed, Error: "timeout", Time: base.Add(time.Minute)},
	}
	for _, e := range entries {
		if err := s.AddDeliveryLog(ctx, e); err != nil {
			t.Fatalf("AddDeliveryLog failed: %v", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_type, day_number, status, error FROM delivery_log WHERE user_id = ? ORDER BY created_at`, 1)
	if err != nil {
		t.Fatalf("query delivery_log failed: %v", err)
	}
	defer rows.Close()
	type row struct {
		id, kind, status string
		day              sql.NullInt64
		errText          sql.NullString
	}
	var got []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.kind, &r.day, &r.status, &r.errText); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].id != "a" || got[0].day.Int64 != 3 || got[0].status != string(models.MessageStatusSent) {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].kind != string(models.MessageKindEncouragement) || got[1].day.Valid || got[1].errText.String != "timeout" {
		t.Errorf("unexpected second entry: %+v", got[1])
	}
}

func TestSQLiteStore_OffMinuteTimeNeverMatches(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	seedSQLite(t, s)
	if _, err := s.db.Exec(`INSERT INTO users (id, phone_number, is_active, current_plan_id, started_at, notification_time)
		VALUES (5, '+5555', 1, 1, '2026-01-01', '08:00:30')`); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := s.ListEnrollmentsAt(ctx, "08:00")
	if err != nil {
		t.Fatalf("ListEnrollmentsAt failed: %v", err)
	}
	if len(got) != 1 || got[0].Subscriber.ID != 1 {
		t.Fatalf("expected only subscriber 1 at 08:00, got %+v", got)
	}

	all, err := s.ListEnrollments(ctx)
	if err != nil {
		t.Fatalf("ListEnrollments failed: %v", err)
	}
	last := all[len(all)-1]
	if last.Subscriber.ID != 5 || last.Subscriber.NotificationTime != "08:00:30" {
		t.Errorf("expected subscriber 5 with seconds kept, got %+v", last.Subscriber)
	}
}

func TestSQLiteStore_MalformedRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	stmts := []string{
		`INSERT INTO reading_plans (id, name, total_days) VALUES (1, 'Gospels', 3)`,
		`INSERT INTO users (id, phone_number, is_active, current_plan_id, started_at, notification_time)
		 VALUES (1, '+5511', 1, 1, 'not-a-date', '08:00')`,
		`INSERT INTO users (id, phone_number, is_active, current_plan_id, started_at, notification_time)
		 VALUES (2, '+5522', 1, 1, '2026-01-01', '08:00')`,
		`INSERT INTO users (id, phone_number, is_active, current_plan_id, started_at, notification_time)
		 VALUES (3, '+5533', 1, 1, '2026-01-01', 'eight')`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("seed failed: %v\n%s", err, stmt)
		}
	}

	at, err := s.ListEnrollmentsAt(ctx, "08:00")
	if err != nil {
		t.Fatalf("ListEnrollmentsAt failed: %v", err)
	}
	if len(at) != 1 || at[0].Subscriber.ID != 2 {
		t.Errorf("expected only subscriber 2 at 08:00, got %+v", at)
	}

	all, err := s.ListEnrollments(ctx)
	if err != nil {
		t.Fatalf("ListEnrollments failed: %v", err)
	}
	if len(all) != 1 || all[0].Subscriber.ID != 2 {
		t.Errorf("expected malformed rows skipped, got %+v", all)
	}
}

func TestSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(context.Background()); !errors.Is(err, ErrDSNNotSet) {
		t.Errorf("expected ErrDSNNotSet, got %v", err)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":       "postgres",
		"postgresql://localhost/db":         "postgres",
		"host=localhost dbname=readpipe":    "postgres",
		"/var/lib/readpipe/readpipe.db":     "sqlite3",
		"file:readpipe.db?_foreign_keys=on": "sqlite3",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "open.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	ctx := context.Background()
	pgStore, err := NewPostgresStore(ctx, WithPostgresDSN(connStr), WithBootstrapSchema(true))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()

	id := "test-" + time.Now().Format("150405.000000")
	entry := models.DeliveryLogEntry{ID: id, SubscriberID: -1, Recipient: "+1", Direction: models.DirectionOutgoing,
		Kind: models.MessageKindReminder, DayNumber: 1, Body: "hi", Status: models.MessageStatusSent, Time: time.Now()}
	if err := pgStore.AddDeliveryLog(ctx, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pgStore.db.Exec("DELETE FROM delivery_log WHERE user_id = -1")
	var n int
	if err := pgStore.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_log WHERE id = $1`, id).Scan(&n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Error("Delivery log not stored correctly in Postgres")
	}
	if _, err := pgStore.ListEnrollmentsAt(ctx, "08:00"); err != nil {
		t.Errorf("ListEnrollmentsAt failed: %v", err)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
