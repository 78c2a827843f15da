package reminder

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ReadPipe/internal/models"
)

// DefaultSalutation replaces a missing subscriber name.
const DefaultSalutation = "friend"

func salutation(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return DefaultSalutation
}

// FormatReminder builds the daily reminder body for a due reading.
func FormatReminder(due models.DueReading) string {
	var b strings.Builder
	b.WriteString("📖 *Your reading for today!*\n\n")
	fmt.Fprintf(&b, "👋 Hi %s!\n\n", salutation(due.Enrollment.Subscriber.Name))
	fmt.Fprintf(&b, "📅 *Day %d* of your plan \"%s\"\n", due.DayNumber, due.Enrollment.Plan.Name)
	fmt.Fprintf(&b, "📖 *Reading:* %s\n\n", due.Reading.ReferenceText)
	fmt.Fprintf(&b, "🔥 *You are on day %d* of your journey!\n\n", due.DayNumber)
	b.WriteString("Once you have read it, confirm here so we can track your progress! 📊\n\n")
	b.WriteString("_Reply *2* to mark it as read_\n")
	b.WriteString("_Reply *1* to see the menu_")
	return b.String()
}

// FormatEncouragement builds the nudge sent to a subscriber who fell behind.
func FormatEncouragement(sub models.Subscriber) string {
	return fmt.Sprintf("🌱 Hi %s! We noticed a few readings are still waiting for you.\n\n"+
		"No pressure: every day is a fresh start. Pick up where you left off today, "+
		"one chapter at a time. 💪\n\n"+
		"_Reply *1* to see the menu_", salutation(sub.Name))
}
