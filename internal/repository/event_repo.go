package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigvault/backend/internal/models"
)

// EventRepo is the append-only audit log of committed settlement events.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) Record(ctx context.Context, ev models.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settlement_events (id, task_id, kind, actor, amount, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, int64(ev.TaskID), ev.Kind, ev.Actor, ev.Amount, ev.Detail, ev.OccurredAt)
	return err
}

// ListByTask returns a task's events in commit order.
func (r *EventRepo) ListByTask(ctx context.Context, taskID uint64) ([]*models.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, kind, actor, amount, detail, occurred_at
		FROM settlement_events WHERE task_id = $1 ORDER BY seq ASC
	`, int64(taskID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Event
	for rows.Next() {
		var ev models.Event
		var tid int64
		if err := rows.Scan(&ev.ID, &tid, &ev.Kind, &ev.Actor, &ev.Amount, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.TaskID = uint64(tid)
		list = append(list, &ev)
	}
	return list, rows.Err()
}
