package transactor

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicvoice/scheduler/internal/pms"
)

// bookingConfirmation builds the spoken confirmation for step 9, formatted
// in the clinic's local timezone so the caller hears the time they asked for.
func bookingConfirmation(b *booked, loc *time.Location) string {
	local := b.startUTC.In(loc)
	return fmt.Sprintf("You're booked with %s for %s at %s on %s at %s.",
		b.practitionerName, b.serviceName, b.locationName,
		local.Format("Monday, January 2"), local.Format("3:04 PM"))
}

// formatAlternatives renders up to max same-day slots in clinic-local time,
// earliest first, for the time_not_available remediation payload.
func formatAlternatives(slots []pms.Slot, loc *time.Location, max int) []string {
	out := make([]string, 0, max)
	for _, s := range slots {
		if len(out) == max {
			break
		}
		out = append(out, s.Start.In(loc).Format("3:04 PM"))
	}
	return out
}

func joinAlternatives(alts []string) string {
	return strings.Join(alts, ", ")
}
