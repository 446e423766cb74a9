package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsNormalize(t *testing.T) {
	f := Fields{Date: "  ", Time: " 09:30 ", Text: "  Dentista ", Notes: "   "}.Normalize("2024-06-01")

	assert.Equal(t, "2024-06-01", f.Date)
	assert.Equal(t, "09:30", f.Time)
	assert.Equal(t, "Dentista", f.Text)
	assert.Equal(t, "", f.Notes)

	doc := f.Document()
	require.NotNil(t, doc.Time)
	assert.Equal(t, "09:30", *doc.Time)
	assert.Nil(t, doc.Notes)
	assert.False(t, doc.Done)
}

func TestFieldsValidate(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		want   error
	}{
		{"valid timed", Fields{Date: "2024-06-01", Time: "09:00", Text: "Meeting"}, nil},
		{"valid untimed", Fields{Date: "2024-06-01", Text: "Lunch"}, nil},
		{"empty text", Fields{Date: "2024-06-01", Text: ""}, ErrEmptyText},
		{"empty text wins over bad date", Fields{Date: "nope", Text: ""}, ErrEmptyText},
		{"bad date", Fields{Date: "01/06/2024", Text: "x"}, ErrInvalidDate},
		{"impossible date", Fields{Date: "2024-02-31", Text: "x"}, ErrInvalidDate},
		{"bad time", Fields{Date: "2024-06-01", Time: "9am", Text: "x"}, ErrInvalidTime},
		{"single digit hour", Fields{Date: "2024-06-01", Time: "9:00", Text: "x"}, ErrInvalidTime},
		{"seconds", Fields{Date: "2024-06-01", Time: "09:00:00", Text: "x"}, ErrInvalidTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fields.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestWhitespaceTextIsRejected(t *testing.T) {
	f := Fields{Text: " \t "}.Normalize("2024-06-01")
	assert.ErrorIs(t, f.Validate(), ErrEmptyText)
}

func TestAppointmentValidate(t *testing.T) {
	ok := Appointment{ID: "a", Date: "2024-06-01", Time: StringPtr("09:00"), Text: "Meeting"}
	assert.NoError(t, ok.Validate())

	tests := []struct {
		name string
		apt  Appointment
		want error
	}{
		{"no id", Appointment{Date: "2024-06-01", Text: "x"}, ErrMissingID},
		{"blank text", Appointment{ID: "a", Date: "2024-06-01", Text: "  "}, ErrEmptyText},
		{"bad date", Appointment{ID: "a", Date: "junk", Text: "x"}, ErrInvalidDate},
		{"bad time", Appointment{ID: "a", Date: "2024-06-01", Time: StringPtr("9:00"), Text: "x"}, ErrInvalidTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.apt.Validate(), tt.want)
		})
	}
}

func TestAppointmentJSONNulls(t *testing.T) {
	a := Appointment{ID: "a1", Date: "2024-06-01", Text: "Lunch"}
	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a1","date":"2024-06-01","time":null,"text":"Lunch","notes":null,"done":false}`, string(b))
	assert.False(t, a.HasTime())

	a.Time = StringPtr("")
	assert.False(t, a.HasTime())
	a.Time = StringPtr("12:00")
	assert.True(t, a.HasTime())
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	// 23:30 UTC on May 31st is already June 1st in CEST
	ts := time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC).In(loc)
	assert.Equal(t, "2024-06-01", DateKey(ts))
}
