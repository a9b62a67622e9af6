package inbox

import (
	"context"

	"github.com/bolttesting/bookly/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record claims an event id. The second delivery of the same event hits the
// primary key and reports false, which is the consumer's dedupe signal.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	if db.IsUniqueViolation(err) {
		return false, nil
	}

	return false, err
}
