package google

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

func TestDocumentConversion(t *testing.T) {
	doc := model.Document{Date: "2024-06-01", Time: model.StringPtr("09:00"), Text: "Meeting"}
	fs := toDocument(doc)
	assert.Equal(t, "2024-06-01", fs.Date)
	assert.Nil(t, fs.Notes)

	apt := toAppointment("abc", fs)
	assert.Equal(t, doc.WithID("abc"), apt)
}

func TestBlankOptionalsBecomeNil(t *testing.T) {
	apt := toAppointment("abc", document{Date: "2024-06-01", Time: model.StringPtr(""), Text: "x", Notes: model.StringPtr("")})
	assert.Nil(t, apt.Time)
	assert.Nil(t, apt.Notes)
}

func TestMapError(t *testing.T) {
	err := mapError("abc", status.Error(codes.NotFound, "no document"))
	assert.ErrorIs(t, err, model.ErrNotFound)

	other := status.Error(codes.Unavailable, "down")
	err = mapError("abc", other)
	assert.False(t, errors.Is(err, model.ErrNotFound))
	assert.ErrorIs(t, err, other)
}

// Runs against the Firestore emulator when FIRESTORE_EMULATOR_HOST is set.
func TestCollectionAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, "promemoria-test", "appointments-test", nil)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.Create(ctx, model.Document{Date: "2024-06-01", Text: "Emulated"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	defer c.Delete(ctx, id)

	done := true
	require.NoError(t, c.Update(ctx, id, model.Patch{Done: &done}))

	list, err := c.List(ctx)
	require.NoError(t, err)
	var found *model.Appointment
	for i := range list {
		if list[i].ID == id {
			found = &list[i]
		}
	}
	require.NotNil(t, found)
	assert.True(t, found.Done)
	assert.Nil(t, found.Time)

	assert.ErrorIs(t, c.Update(ctx, "does-not-exist", model.Patch{Done: &done}), model.ErrNotFound)
}
