package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"

	"taskforest/internal/models"
	"taskforest/internal/timeline"
)

// TaskRepository is the gateway to the tasks and task_events tables. Every
// method is scoped to an owner. A repository obtained inside WithTx runs all
// of its statements in that transaction.
type TaskRepository interface {
	FindByID(ctx context.Context, ownerID, id int64) (*models.Task, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, ownerID, id int64) (*models.Task, error)
	FindAll(ctx context.Context, ownerID int64) ([]models.Task, error)
	FindChildren(ctx context.Context, ownerID, parentID int64) ([]models.Task, error)
	ChildIDs(ctx context.Context, ownerID int64, parentIDs []int64) ([]int64, error)
	CountChildren(ctx context.Context, ownerID, id int64) (int, error)
	ImageURLs(ctx context.Context, ownerID int64, ids []int64) ([]string, error)

	Store(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	UpdateWindow(ctx context.Context, ownerID, id int64, w timeline.Window) error
	UpdateStatus(ctx context.Context, ownerID, id int64, to models.TaskStatus) error
	UpdateStatusBulk(ctx context.Context, ownerID int64, ids []int64, to models.TaskStatus) (int64, error)
	Delete(ctx context.Context, ownerID, id int64) error

	AppendEvent(ctx context.Context, e *models.AuditEvent) error
	ListEvents(ctx context.Context, ownerID, taskID int64, limit int) ([]models.AuditEvent, error)

	// WithTx runs fn in one transaction, committing only when fn returns nil.
	// A deadlock or serialization failure reruns fn once in a fresh
	// transaction, so fn must reset any state it captures.
	WithTx(ctx context.Context, fn func(tx TaskRepository) error) error
}

type taskRepository struct {
	db   DBTX
	conn *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db, conn: db}
}

const taskColumns = `id, owner_id, parent_id, title, description, image_url,
       start_date, end_date, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	t := &models.Task{}
	err := s.Scan(
		&t.ID, &t.OwnerID, &t.ParentID, &t.Title, &t.Description, &t.ImageURL,
		&t.StartDate, &t.EndDate, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *taskRepository) WithTx(ctx context.Context, fn func(tx TaskRepository) error) error {
	if r.conn == nil {
		// already inside a transaction
		return fn(r)
	}
	return retryConflict(func() error { return r.runTx(ctx, fn) })
}

func (r *taskRepository) runTx(ctx context.Context, fn func(tx TaskRepository) error) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&taskRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txAttempts bounds reruns of a transaction PostgreSQL aborted to resolve a
// lock conflict. Cascades lock top-down while timeline propagation writes
// bottom-up, so the two can deadlock on one chain.
const txAttempts = 2

func retryConflict(run func() error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		if err = run(); err == nil || !isConflict(err) {
			return err
		}
		if attempt < txAttempts {
			log.Printf("[repo][tx][retry] attempt=%d: %v", attempt, err)
		}
	}
	return err
}

// isConflict reports a deadlock (40P01) or serialization failure (40001).
func isConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40P01" || pqErr.Code == "40001"
}

func (r *taskRepository) FindByID(ctx context.Context, ownerID, id int64) (*models.Task, error) {
	return r.findOne(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

func (r *taskRepository) FindByIDForUpdate(ctx context.Context, ownerID, id int64) (*models.Task, error) {
	return r.findOne(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID)
}

func (r *taskRepository) findOne(ctx context.Context, query string, args ...any) (*models.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *taskRepository) FindAll(ctx context.Context, ownerID int64) ([]models.Task, error) {
	return r.findMany(ctx, `SELECT `+taskColumns+` FROM tasks
       WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`, ownerID)
}

func (r *taskRepository) FindChildren(ctx context.Context, ownerID, parentID int64) ([]models.Task, error) {
	return r.findMany(ctx, `SELECT `+taskColumns+` FROM tasks
       WHERE owner_id = $1 AND parent_id = $2 ORDER BY created_at ASC, id ASC`, ownerID, parentID)
}

func (r *taskRepository) findMany(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *taskRepository) ChildIDs(ctx context.Context, ownerID int64, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	return r.ids(ctx, `SELECT id FROM tasks WHERE owner_id = $1 AND parent_id = ANY($2)
       ORDER BY created_at ASC, id ASC`, ownerID, pq.Array(parentIDs))
}

func (r *taskRepository) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *taskRepository) CountChildren(ctx context.Context, ownerID, id int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE owner_id = $1 AND parent_id = $2`, ownerID, id).Scan(&n)
	return n, err
}

func (r *taskRepository) ImageURLs(ctx context.Context, ownerID int64, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT image_url FROM tasks WHERE owner_id = $1 AND id = ANY($2) AND image_url IS NOT NULL`,
		ownerID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (r *taskRepository) Store(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (
			owner_id, parent_id, title, description, image_url,
			start_date, end_date, status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		task.OwnerID, task.ParentID, task.Title, task.Description, task.ImageURL,
		task.StartDate, task.EndDate, task.Status,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks SET
			title=$1, description=$2, image_url=$3, start_date=$4, end_date=$5, updated_at=NOW()
		WHERE id=$6 AND owner_id=$7
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		task.Title, task.Description, task.ImageURL, task.StartDate, task.EndDate,
		task.ID, task.OwnerID,
	).Scan(&task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *taskRepository) UpdateWindow(ctx context.Context, ownerID, id int64, w timeline.Window) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET start_date=$1, end_date=$2, updated_at=NOW() WHERE id=$3 AND owner_id=$4`,
		w.Start, w.End, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *taskRepository) UpdateStatus(ctx context.Context, ownerID, id int64, to models.TaskStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status=$1, updated_at=NOW() WHERE id=$2 AND owner_id=$3`, to, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *taskRepository) UpdateStatusBulk(ctx context.Context, ownerID int64, ids []int64, to models.TaskStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status=$1, updated_at=NOW() WHERE owner_id=$2 AND id = ANY($3) AND status <> $1`,
		to, ownerID, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *taskRepository) Delete(ctx context.Context, ownerID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(res)
}
