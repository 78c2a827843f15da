package reminder

import (
	"strings"
	"testing"

	"github.com/BTreeMap/ReadPipe/internal/models"
)

func TestFormatReminder(t *testing.T) {
	due := models.DueReading{
		Enrollment: models.Enrollment{
			Subscriber: models.Subscriber{Name: "Ana"},
			Plan:       models.Plan{Name: "Gospels in 90 days", TotalDays: 90},
		},
		DayNumber: 12,
		Reading:   models.Reading{ReferenceText: "Mark 4-5"},
	}
	body := FormatReminder(due)
	for _, want := range []string{"Hi Ana!", "*Day 12*", `"Gospels in 90 days"`, "*Reading:* Mark 4-5", "*You are on day 12* of your journey", "*2*", "*1*"} {
		if !strings.Contains(body, want) {
			t.Errorf("reminder body missing %q:\n%s", want, body)
		}
	}
}

func TestFormat_NameFallback(t *testing.T) {
	for _, name := range []string{"", "   "} {
		due := models.DueReading{Enrollment: models.Enrollment{Subscriber: models.Subscriber{Name: name}}, DayNumber: 1}
		if body := FormatReminder(due); !strings.Contains(body, "Hi "+DefaultSalutation+"!") {
			t.Errorf("name %q: reminder did not fall back:\n%s", name, body)
		}
		if body := FormatEncouragement(models.Subscriber{Name: name}); !strings.Contains(body, "Hi "+DefaultSalutation+"!") {
			t.Errorf("name %q: encouragement did not fall back:\n%s", name, body)
		}
	}
	if body := FormatEncouragement(models.Subscriber{Name: " Bia "}); !strings.Contains(body, "Hi Bia!") {
		t.Errorf("name was not trimmed:\n%s", body)
	}
}
