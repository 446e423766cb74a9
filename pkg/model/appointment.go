package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrEmptyText   = errors.New("text is required")
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
	ErrInvalidTime = errors.New("time must be HH:MM")
	ErrNotFound    = errors.New("appointment not found")
	ErrMissingID   = errors.New("appointment has no id")
)

var validate = validator.New()

// Appointment is a single dated reminder. Time and Notes are nil when absent.
type Appointment struct {
	ID    string  `json:"id"`
	Date  string  `json:"date"`
	Time  *string `json:"time"`
	Text  string  `json:"text"`
	Notes *string `json:"notes"`
	Done  bool    `json:"done"`
}

// HasTime reports whether the appointment is pinned to a time of day.
func (a Appointment) HasTime() bool {
	return a.Time != nil && *a.Time != ""
}

// Validate checks a stored appointment against the same rules as new input.
func (a Appointment) Validate() error {
	if a.ID == "" {
		return ErrMissingID
	}
	f := Fields{Date: a.Date, Text: strings.TrimSpace(a.Text)}
	if a.Time != nil {
		f.Time = *a.Time
	}
	return f.Validate()
}

// Document returns the remote document body for the appointment.
func (a Appointment) Document() Document {
	return Document{Date: a.Date, Time: a.Time, Text: a.Text, Notes: a.Notes, Done: a.Done}
}

// Document is an appointment as stored by a remote backend, keyed outside the body.
type Document struct {
	Date  string
	Time  *string
	Text  string
	Notes *string
	Done  bool
}

// WithID attaches the backend key to a document.
func (d Document) WithID(id string) Appointment {
	return Appointment{ID: id, Date: d.Date, Time: d.Time, Text: d.Text, Notes: d.Notes, Done: d.Done}
}

// Patch is a partial update of an appointment.
type Patch struct {
	Done *bool
}

// Fields is the raw input of a new appointment.
type Fields struct {
	Date  string `json:"date" validate:"required,datetime=2006-01-02"`
	Time  string `json:"time" validate:"omitempty,len=5,datetime=15:04"`
	Text  string `json:"text" validate:"required"`
	Notes string `json:"notes"`
}

// Normalize trims every field and fills an empty date with today.
func (f Fields) Normalize(today string) Fields {
	f.Date = strings.TrimSpace(f.Date)
	f.Time = strings.TrimSpace(f.Time)
	f.Text = strings.TrimSpace(f.Text)
	f.Notes = strings.TrimSpace(f.Notes)
	if f.Date == "" {
		f.Date = today
	}
	return f
}

// Validate checks normalized fields.
func (f Fields) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	// report the first failing field, text first since it is the common case
	for _, name := range []string{"Text", "Date", "Time"} {
		for _, fe := range verrs {
			if fe.Field() != name {
				continue
			}
			switch name {
			case "Text":
				return ErrEmptyText
			case "Date":
				return fmt.Errorf("%w: %q", ErrInvalidDate, f.Date)
			case "Time":
				return fmt.Errorf("%w: %q", ErrInvalidTime, f.Time)
			}
		}
	}
	return err
}

// Document converts validated fields into a not-done document.
func (f Fields) Document() Document {
	return Document{
		Date:  f.Date,
		Time:  optional(f.Time),
		Text:  f.Text,
		Notes: optional(f.Notes),
	}
}

// IsValidationError reports whether err came from Fields.Validate.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyText) || errors.Is(err, ErrInvalidDate) || errors.Is(err, ErrInvalidTime)
}

// DateKey formats t as the calendar date in its own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr is a helper for building appointments in callers and tests.
func StringPtr(s string) *string {
	return &s
}
