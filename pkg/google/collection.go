package google

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// DefaultCollection is the Firestore collection holding one document per appointment.
const DefaultCollection = "appointments"

// document is the Firestore shape of an appointment; the id is the document key.
type document struct {
	Date  string  `firestore:"date"`
	Time  *string `firestore:"time"`
	Text  string  `firestore:"text"`
	Notes *string `firestore:"notes"`
	Done  bool    `firestore:"done"`
}

func toDocument(d model.Document) document {
	return document{Date: d.Date, Time: d.Time, Text: d.Text, Notes: d.Notes, Done: d.Done}
}

// toAppointment maps a stored document back, treating blank optionals as absent.
func toAppointment(id string, d document) model.Appointment {
	return model.Appointment{
		ID:    id,
		Date:  d.Date,
		Time:  blankToNil(d.Time),
		Text:  d.Text,
		Notes: blankToNil(d.Notes),
		Done:  d.Done,
	}
}

func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// Collection is a Firestore-backed appointment collection.
type Collection struct {
	client *firestore.Client
	name   string
}

// NewCollection wraps the named Firestore collection.
func NewCollection(client *firestore.Client, name string) *Collection {
	if name == "" {
		name = DefaultCollection
	}
	return &Collection{client: client, name: name}
}

func (c *Collection) col() *firestore.CollectionRef {
	return c.client.Collection(c.name)
}

// List fetches every appointment document.
func (c *Collection) List(ctx context.Context) ([]model.Appointment, error) {
	snaps, err := c.col().Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve appointments: %w", err)
	}

	out := make([]model.Appointment, 0, len(snaps))
	for _, snap := range snaps {
		var d document
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("unable to decode appointment %s: %w", snap.Ref.ID, err)
		}
		out = append(out, toAppointment(snap.Ref.ID, d))
	}
	return out, nil
}

// Create adds a document and returns its generated key.
func (c *Collection) Create(ctx context.Context, doc model.Document) (string, error) {
	ref, _, err := c.col().Add(ctx, toDocument(doc))
	if err != nil {
		return "", fmt.Errorf("unable to create appointment: %w", err)
	}
	return ref.ID, nil
}

// Update applies patch to an existing document.
func (c *Collection) Update(ctx context.Context, id string, patch model.Patch) error {
	var updates []firestore.Update
	if patch.Done != nil {
		updates = append(updates, firestore.Update{Path: "done", Value: *patch.Done})
	}
	if len(updates) == 0 {
		return nil
	}

	if _, err := c.col().Doc(id).Update(ctx, updates); err != nil {
		return mapError(id, err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document succeeds.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if _, err := c.col().Doc(id).Delete(ctx); err != nil {
		return mapError(id, err)
	}
	return nil
}

func (c *Collection) Close() error {
	return c.client.Close()
}

func mapError(id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return fmt.Errorf("appointment %s: %w", id, err)
}
