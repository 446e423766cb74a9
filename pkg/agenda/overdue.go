package agenda

import (
	"time"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// Overdue returns the pending appointments whose slot has passed at now, in
// display order. A timed appointment is overdue once its time is past, an
// untimed one once its whole day is.
func Overdue(list []model.Appointment, now time.Time) []model.Appointment {
	loc := now.Location()
	overdue := make([]model.Appointment, 0)
	for _, apt := range Sort(list) {
		if apt.Done {
			continue
		}
		due, ok := dueAt(apt, loc)
		if ok && due.Before(now) {
			overdue = append(overdue, apt)
		}
	}
	return overdue
}

func dueAt(apt model.Appointment, loc *time.Location) (time.Time, bool) {
	day, err := time.ParseInLocation(model.DateLayout, apt.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	if !apt.HasTime() {
		return day.AddDate(0, 0, 1), true
	}
	t, err := time.ParseInLocation(model.TimeLayout, *apt.Time, loc)
	if err != nil {
		return day.AddDate(0, 0, 1), true
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), true
}
