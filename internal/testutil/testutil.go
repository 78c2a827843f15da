// Package testutil provides shared fixtures and assertions for ReadPipe tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/models"
	"github.com/BTreeMap/ReadPipe/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// SeedPlan stores plan with one reading per day, "<prefix> <day>".
func SeedPlan(st *store.InMemoryStore, plan models.Plan, prefix string) {
	st.PutPlan(plan)
	for day := 1; day <= plan.TotalDays; day++ {
		st.PutReading(models.Reading{PlanID: plan.ID, DayNumber: day, ReferenceText: fmt.Sprintf("%s %d", prefix, day)})
	}
}

// Subscriber returns an active subscriber enrolled in planID from start, notified at clock.
func Subscriber(id int64, phone, name, clock string, planID int64, start time.Time) models.Subscriber {
	return models.Subscriber{
		ID:               id,
		Phone:            phone,
		Name:             name,
		Active:           true,
		PlanID:           &planID,
		StartedAt:        &start,
		NotificationTime: clock,
	}
}

// Complete marks a plan day as read.
func Complete(st *store.InMemoryStore, subscriberID, planID int64, day int) {
	st.PutCompletion(models.CompletionRecord{SubscriberID: subscriberID, PlanID: planID, DayNumber: day, Completed: true})
}

// CountLogs returns how many delivery log entries have status.
func CountLogs(st *store.InMemoryStore, status models.MessageStatus) int {
	n := 0
	for _, e := range st.DeliveryLogs() {
		if e.Status == status {
			n++
		}
	}
	return n
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the recorded body and checks its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
	} else if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
