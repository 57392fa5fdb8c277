package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskRepository is the deferred executor's durable timer table. It is both
// the registration side (Register, Cancel) and the worker side (Claim and the
// rest of repository.TaskQueue).
type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `task_id, kind, payload, fire_at, status, retry_count, max_retries,
		claimed_at, claimed_by, heartbeat_at, last_error, created_at, updated_at`

func (r *TaskRepository) Register(ctx context.Context, t *domain.DeferredTask) error {
	// Re-registering resets the timer. A running row belongs to a worker and is
	// left alone; the worker's own completion decides its fate.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deferred_tasks (task_id, kind, payload, fire_at, status, max_retries)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (task_id) DO UPDATE
		SET    kind         = EXCLUDED.kind,
		       payload      = EXCLUDED.payload,
		       fire_at      = EXCLUDED.fire_at,
		       status       = 'pending',
		       retry_count  = 0,
		       max_retries  = EXCLUDED.max_retries,
		       claimed_at   = NULL,
		       claimed_by   = NULL,
		       heartbeat_at = NULL,
		       last_error   = NULL,
		       updated_at   = NOW()
		WHERE  deferred_tasks.status <> 'running'`,
		t.ID, t.Kind, t.Payload, t.FireAt.UTC(), t.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("register task %s: %w", t.ID, err)
	}
	return nil
}

func (r *TaskRepository) Cancel(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deferred_tasks SET status = 'cancelled', updated_at = NOW()
		WHERE task_id = $1 AND status = 'pending'`, taskID)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return nil
}

func (r *TaskRepository) Claim(ctx context.Context, workerID string, limit int) ([]*domain.DeferredTask, error) {
	// FOR UPDATE SKIP LOCKED prevents double-execution across workers.
	query := `
		UPDATE deferred_tasks
		SET    status       = 'running',
		       claimed_at   = NOW(),
		       claimed_by   = $1,
		       heartbeat_at = NOW(),
		       updated_at   = NOW()
		WHERE task_id IN (
			SELECT task_id FROM deferred_tasks
			WHERE  status  = 'pending'
			  AND  fire_at <= NOW()
			ORDER BY fire_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	rows, err := r.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.DeferredTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) UpdateHeartbeat(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deferred_tasks SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND status = 'running'`, taskID)
	return err
}

func (r *TaskRepository) Complete(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deferred_tasks SET status = 'completed', updated_at = NOW()
		WHERE task_id = $1 AND status = 'running'`, taskID)
	return err
}

func (r *TaskRepository) Fail(ctx context.Context, taskID string, lastError string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deferred_tasks SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE task_id = $1 AND status = 'running'`, taskID, lastError)
	return err
}

func (r *TaskRepository) Reschedule(ctx context.Context, taskID string, lastError string, retryAt time.Time) error {
	// status guard keeps a second worker from over-incrementing retry_count
	_, err := r.pool.Exec(ctx,
		`UPDATE deferred_tasks
		SET    status       = 'pending',
		       retry_count  = retry_count + 1,
		       last_error   = $2,
		       fire_at      = $3,
		       claimed_at   = NULL,
		       claimed_by   = NULL,
		       heartbeat_at = NULL,
		       updated_at   = NOW()
		WHERE task_id = $1 AND status = 'running'`, taskID, lastError, retryAt.UTC())
	return err
}

func (r *TaskRepository) RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deferred_tasks
		SET    status       = 'pending',
		       retry_count  = retry_count + 1,
		       last_error   = 'worker timeout',
		       claimed_at   = NULL,
		       claimed_by   = NULL,
		       heartbeat_at = NULL,
		       updated_at   = NOW()
		WHERE task_id IN (
			SELECT task_id FROM deferred_tasks
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			  AND  retry_count  < max_retries
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *TaskRepository) FailStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deferred_tasks
		SET    status     = 'failed',
		       last_error = 'worker timeout: max retries exceeded',
		       updated_at = NOW()
		WHERE task_id IN (
			SELECT task_id FROM deferred_tasks
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			  AND  retry_count  >= max_retries
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func scanTask(row pgx.Rows) (*domain.DeferredTask, error) {
	var t domain.DeferredTask
	err := row.Scan(
		&t.ID, &t.Kind, &t.Payload, &t.FireAt, &t.Status, &t.RetryCount, &t.MaxRetries,
		&t.ClaimedAt, &t.ClaimedBy, &t.HeartbeatAt, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}
