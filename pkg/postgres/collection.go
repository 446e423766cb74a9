package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

//go:embed migrations/001_appointments.sql
var migration string

// Collection stores appointments in the appointments table.
type Collection struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, checks the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Collection, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	c := New(pool)
	if err := c.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// New returns a Collection over pool. Open also runs Migrate.
func New(pool *pgxpool.Pool) *Collection {
	return &Collection{pool: pool}
}

// Migrate creates the table if it does not exist.
func (c *Collection) Migrate(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, migration); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (c *Collection) List(ctx context.Context) ([]model.Appointment, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, date, time, text, notes, done
		 FROM appointments
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list appointments: %w", err)
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.Date, &a.Time, &a.Text, &a.Notes, &a.Done); err != nil {
			return nil, err
		}
		a.Time = blankToNil(a.Time)
		a.Notes = blankToNil(a.Notes)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *Collection) Create(ctx context.Context, doc model.Document) (string, error) {
	var id string
	err := c.pool.QueryRow(ctx,
		`INSERT INTO appointments (date, time, text, notes, done)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		doc.Date, doc.Time, doc.Text, doc.Notes, doc.Done,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("unable to create appointment: %w", err)
	}
	return id, nil
}

func (c *Collection) Update(ctx context.Context, id string, patch model.Patch) error {
	if patch.Done == nil {
		return nil
	}
	tag, err := c.pool.Exec(ctx, `UPDATE appointments SET done = $2 WHERE id = $1`, id, *patch.Done)
	if err != nil {
		return fmt.Errorf("unable to update appointment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

// Delete removes a row. Deleting a missing row succeeds.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("unable to delete appointment %s: %w", id, err)
	}
	return nil
}

func (c *Collection) Close() {
	c.pool.Close()
}

func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
