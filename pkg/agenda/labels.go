package agenda

import (
	"time"

	"golang.org/x/text/language"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// Labels holds the words used to title day groups.
type Labels struct {
	Today    string
	Tomorrow string
	DayAfter string
	// Weekdays is indexed by time.Weekday, Sunday first.
	Weekdays [7]string
}

// Italian is the default label set.
var Italian = Labels{
	Today:    "Oggi",
	Tomorrow: "Domani",
	DayAfter: "Dopodomani",
	Weekdays: [7]string{"Domenica", "Lunedì", "Martedì", "Mercoledì", "Giovedì", "Venerdì", "Sabato"},
}

// English labels, selected for en locales.
var English = Labels{
	Today:    "Today",
	Tomorrow: "Tomorrow",
	DayAfter: "Day after tomorrow",
	Weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
}

// first entry is the fallback
var (
	supported = []language.Tag{language.Italian, language.English}
	sets      = []Labels{Italian, English}
	matcher   = language.NewMatcher(supported)
)

// LabelsFor picks the label set closest to locale (e.g. "it", "en-GB").
// Unknown or malformed locales get Italian.
func LabelsFor(locale string) Labels {
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return Italian
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Italian
	}
	return sets[idx]
}

// Label titles a single date key relative to now.
func (l Labels) Label(dateKey string, now time.Time) string {
	return l.label(dateKey, relativeKeys(now))
}

func (l Labels) label(dateKey string, rel [3]string) string {
	switch dateKey {
	case rel[0]:
		return l.Today
	case rel[1]:
		return l.Tomorrow
	case rel[2]:
		return l.DayAfter
	}
	d, err := time.Parse(model.DateLayout, dateKey)
	if err != nil {
		return dateKey
	}
	return l.Weekdays[d.Weekday()]
}
