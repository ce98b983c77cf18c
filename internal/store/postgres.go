package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-writer/internal/models"
)

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

// Store wraps pgxpool for Postgres persistence of write tasks.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const taskColumns = `id, tenant_id, brief, tone, audience, status, content, created_at, updated_at`

// CreateTask inserts a new task with status queued and no content.
func (s *Store) CreateTask(ctx context.Context, tenantID, brief string, tone, audience *string) (models.Task, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO write_tasks (id, tenant_id, brief, tone, audience, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, tenantID, brief, tone, audience, models.StatusQueued, now)
	if err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}

	return models.Task{
		ID:        id,
		TenantID:  tenantID,
		Brief:     brief,
		Tone:      tone,
		Audience:  audience,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM write_tasks WHERE id = $1
	`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("scan task: %w", err)
	}
	return task, nil
}

// UpdateStatusIf performs a conditional status transition: the row is
// updated only when its current status equals from. It returns the updated
// task and whether the write applied. Content is only overwritten when
// non-nil. This conditional write is what keeps concurrent run/approve/
// reject calls from clobbering each other.
func (s *Store) UpdateStatusIf(ctx context.Context, id, from, to string, content *string) (models.Task, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE write_tasks
		SET status = $3, content = COALESCE($4, content), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+taskColumns+`
	`, id, from, to, content)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, fmt.Errorf("update task status: %w", err)
	}
	return task, true, nil
}

// Requeue sends a pending_approval task back to queued and clears its
// content, so a fresh run can regenerate it. Conditional like UpdateStatusIf.
func (s *Store) Requeue(ctx context.Context, id string) (models.Task, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE write_tasks
		SET status = $2, content = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+taskColumns+`
	`, id, models.StatusQueued, models.StatusPendingApproval)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, fmt.Errorf("requeue task: %w", err)
	}
	return task, true, nil
}

func scanTask(row pgx.Row) (models.Task, error) {
	var task models.Task
	var tone, audience, content pgtype.Text
	if err := row.Scan(&task.ID, &task.TenantID, &task.Brief, &tone, &audience,
		&task.Status, &content, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return models.Task{}, err
	}
	task.Tone = textPtr(tone)
	task.Audience = textPtr(audience)
	task.Content = textPtr(content)
	return task, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
