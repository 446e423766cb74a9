package agenda

import (
	"cmp"
	"slices"
	"time"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// DayGroup is one date of the agenda with its appointments in display order.
type DayGroup struct {
	DateKey string              `json:"dateKey"`
	Label   string              `json:"label"`
	Items   []model.Appointment `json:"items"`
}

// Sort returns a copy of list ordered by date, then time. On the same date
// timed appointments come first; untimed ones keep their relative order.
func Sort(list []model.Appointment) []model.Appointment {
	sorted := slices.Clone(list)
	slices.SortStableFunc(sorted, compare)
	return sorted
}

func compare(a, b model.Appointment) int {
	if c := cmp.Compare(a.Date, b.Date); c != 0 {
		return c
	}
	at, bt := a.HasTime(), b.HasTime()
	switch {
	case !at && !bt:
		return 0
	case !at:
		return 1
	case !bt:
		return -1
	}
	return cmp.Compare(*a.Time, *b.Time)
}

// GroupByDay sorts list and splits it into runs sharing a date. Labels are
// resolved against now's calendar date in now's location.
func GroupByDay(list []model.Appointment, now time.Time, labels Labels) []DayGroup {
	sorted := Sort(list)
	groups := make([]DayGroup, 0)
	rel := relativeKeys(now)

	for _, apt := range sorted {
		if n := len(groups); n > 0 && groups[n-1].DateKey == apt.Date {
			groups[n-1].Items = append(groups[n-1].Items, apt)
			continue
		}
		groups = append(groups, DayGroup{
			DateKey: apt.Date,
			Label:   labels.label(apt.Date, rel),
			Items:   []model.Appointment{apt},
		})
	}
	return groups
}

// relativeKeys returns the date keys of today, tomorrow and the day after,
// stepping calendar days so DST transitions cannot skip or repeat a date.
func relativeKeys(now time.Time) [3]string {
	y, m, d := now.Date()
	var keys [3]string
	for i := range keys {
		keys[i] = model.DateKey(time.Date(y, m, d+i, 12, 0, 0, 0, now.Location()))
	}
	return keys
}
