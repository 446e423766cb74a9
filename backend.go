package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Ivanworkspace/events-futurecraft/pkg/auth"
	"github.com/Ivanworkspace/events-futurecraft/pkg/config"
	"github.com/Ivanworkspace/events-futurecraft/pkg/dynamo"
	"github.com/Ivanworkspace/events-futurecraft/pkg/google"
	"github.com/Ivanworkspace/events-futurecraft/pkg/postgres"
	"github.com/Ivanworkspace/events-futurecraft/pkg/store"
)

// openRemote connects the configured remote backend. It returns a nil
// collection for the local backend. The returned close func is never nil.
func openRemote(ctx context.Context, cfg *config.Config, authDir string, logger *zap.Logger) (store.Collection, func(), error) {
	noop := func() {}
	if !cfg.IsRemote() {
		return nil, noop, nil
	}

	switch cfg.Backend {
	case config.BackendFirestore:
		session := auth.NewSession(authDir, logger)
		ts, err := session.TokenSource(ctx, false)
		if err != nil {
			// the emulator accepts unauthenticated calls
			if !errors.Is(err, auth.ErrNoSession) || os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
				return nil, noop, err
			}
			ts = nil
		}
		if ts != nil {
			if err := auth.Probe(ts); err != nil {
				return nil, noop, err
			}
		}
		c, err := google.NewClient(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Collection, ts)
		if err != nil {
			return nil, noop, err
		}
		return c, func() { c.Close() }, nil

	case config.BackendDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, noop, err
		}
		return dynamo.NewCollection(client, cfg.DynamoDB.Table), noop, nil

	case config.BackendPostgres:
		c, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, noop, err
		}
		return c, c.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// authenticate replaces the cached Firestore token through the browser flow.
func authenticate(ctx context.Context, authDir string, logger *zap.Logger) error {
	session := auth.NewSession(authDir, logger)
	if err := session.Reset(); err != nil {
		return err
	}
	ts, err := session.TokenSource(ctx, true)
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return fmt.Errorf("place %s in %s first: %w", auth.ClientSecretsFile, authDir, err)
		}
		return err
	}
	return auth.Probe(ts)
}
