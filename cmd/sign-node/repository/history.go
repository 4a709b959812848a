package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/signer/common/db"
	"github.com/lyzr/signer/common/models"
)

// ErrTaskNotFound is returned when no result is stored for a task
var ErrTaskNotFound = errors.New("sign task not found")

// Schema creates the task history table
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS sign_task_history (
		task_id     TEXT PRIMARY KEY,
		build_id    TEXT,
		success     BOOLEAN NOT NULL,
		payload     JSONB NOT NULL,
		reported_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sign_task_history_build ON sign_task_history (build_id)`,
}

// HistoryRepository handles database operations for task results
type HistoryRepository struct {
	db db.Querier
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(q db.Querier) *HistoryRepository {
	return &HistoryRepository{db: q}
}

// Save stores a task result, replacing an earlier one for the same task
func (r *HistoryRepository) Save(ctx context.Context, result models.TaskResult) error {
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var buildID *string
	if result.Payload.BuildID != nil {
		s := result.Payload.BuildID.String()
		buildID = &s
	}

	query := `
		INSERT INTO sign_task_history (task_id, build_id, success, payload, reported_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE
		SET build_id = EXCLUDED.build_id, success = EXCLUDED.success,
		    payload = EXCLUDED.payload, reported_at = EXCLUDED.reported_at
	`
	_, err = r.db.Exec(ctx, query,
		result.TaskID.String(),
		buildID,
		result.Payload.Success,
		payload,
		result.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task result: %w", err)
	}
	return nil
}

// Get retrieves the stored result of a task
func (r *HistoryRepository) Get(ctx context.Context, taskID models.ID) (*models.TaskResult, error) {
	query := `
		SELECT task_id, payload, reported_at
		FROM sign_task_history
		WHERE task_id = $1
	`

	var (
		id      string
		payload []byte
		result  models.TaskResult
	)
	err := r.db.QueryRow(ctx, query, taskID.String()).Scan(&id, &payload, &result.ReportedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task result: %w", err)
	}

	if err := json.Unmarshal(payload, &result.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	result.TaskID = models.ID(id)
	return &result, nil
}
