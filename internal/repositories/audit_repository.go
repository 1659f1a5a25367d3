package repositories

import (
	"context"

	"taskforest/internal/models"
)

func (r *taskRepository) AppendEvent(ctx context.Context, e *models.AuditEvent) error {
	query := `
		INSERT INTO task_events (task_id, owner_id, type, message, actor_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		e.TaskID, e.OwnerID, e.Type, e.Message, e.ActorID,
	).Scan(&e.ID, &e.CreatedAt)
}

// ListEvents returns the newest events first.
func (r *taskRepository) ListEvents(ctx context.Context, ownerID, taskID int64, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > models.MaxTaskEvents {
		limit = models.MaxTaskEvents
	}
	const q = `
                SELECT id, task_id, owner_id, type, message, actor_id, created_at
                FROM task_events
                WHERE task_id = $1 AND owner_id = $2
                ORDER BY created_at DESC, id DESC
                LIMIT $3
        `
	rows, err := r.db.QueryContext(ctx, q, taskID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.AuditEvent, 0)
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.OwnerID, &e.Type, &e.Message, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
