package export

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/Ivanworkspace/events-futurecraft/pkg/agenda"
	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

const (
	productID = "-//promemoria//appointments//IT"
	// timed appointments have no end, give them a fixed slot
	defaultDuration = 30 * time.Minute
	donePrefix      = "✓ "
)

// ICS renders the appointments as an iCalendar feed in loc. Timed
// appointments become 30 minute events, untimed ones all-day events.
// Appointments with a malformed date or time are skipped.
func ICS(list []model.Appointment, loc *time.Location, stamp time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("Promemoria")

	for _, apt := range agenda.Sort(list) {
		start, allDay, err := startOf(apt, loc)
		if err != nil {
			continue
		}

		event := cal.AddEvent(apt.ID + "@promemoria")
		event.SetDtStampTime(stamp.UTC())
		summary := apt.Text
		if apt.Done {
			summary = donePrefix + summary
		}
		event.SetSummary(summary)
		if apt.Notes != nil {
			event.SetDescription(*apt.Notes)
		}
		if allDay {
			event.SetAllDayStartAt(start)
			event.SetAllDayEndAt(start.AddDate(0, 0, 1))
		} else {
			event.SetStartAt(start)
			event.SetEndAt(start.Add(defaultDuration))
		}
	}
	return cal.Serialize()
}

func startOf(apt model.Appointment, loc *time.Location) (time.Time, bool, error) {
	if !apt.HasTime() {
		d, err := time.ParseInLocation(model.DateLayout, apt.Date, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("appointment %s: %w", apt.ID, err)
		}
		return d, true, nil
	}
	t, err := time.ParseInLocation(model.DateLayout+" "+model.TimeLayout, apt.Date+" "+*apt.Time, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("appointment %s: %w", apt.ID, err)
	}
	return t, false, nil
}
