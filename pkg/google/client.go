package google

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// NewClient connects to Firestore in projectID. ts authenticates the calls; it
// may be nil when FIRESTORE_EMULATOR_HOST points at an emulator.
func NewClient(ctx context.Context, projectID, collection string, ts oauth2.TokenSource) (*Collection, error) {
	var opts []option.ClientOption
	if ts != nil && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		opts = append(opts, option.WithTokenSource(ts))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Firestore client: %w", err)
	}
	return NewCollection(client, collection), nil
}
