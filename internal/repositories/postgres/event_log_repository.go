package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fieldline/payments-api/internal/repositories"
)

// SQLSTATE for undefined_table; environments provisioned before the event log
// migration simply run without redelivery detection.
const undefinedTableCode = "42P01"

// EventLogRepository records processed webhook event ids in Postgres.
type EventLogRepository struct {
	db       Querier
	logger   OrderLogger
	disabled atomic.Bool
}

// NewEventLogRepository builds an EventLogRepository over the supplied querier.
func NewEventLogRepository(db Querier, logger OrderLogger) (*EventLogRepository, error) {
	if db == nil {
		return nil, errors.New("postgres: querier is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &EventLogRepository{db: db, logger: logger}, nil
}

const insertEventQuery = `
INSERT INTO payment_events (event_id, event_type, order_id, payload, received_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
ON CONFLICT (event_id) DO NOTHING`

// InsertIfAbsent stores the event record, reporting true when the event id was
// not seen before. When the payment_events table does not exist the repository
// disables itself and treats every event as first delivery.
func (r *EventLogRepository) InsertIfAbsent(ctx context.Context, record repositories.EventRecord) (bool, error) {
	if r.disabled.Load() {
		return true, nil
	}

	tag, err := r.db.Exec(ctx, insertEventQuery,
		record.EventID,
		record.EventType,
		record.OrderID,
		record.Payload,
		record.ReceivedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode {
			if r.disabled.CompareAndSwap(false, true) {
				r.logger(ctx, "events.log.disabled", map[string]any{
					"reason": "payment_events table missing",
				})
			}
			return true, nil
		}
		return false, fmt.Errorf("postgres: insert event record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
