package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkraev/Conveyor/internal/domain"
)

// JobRepo — репозиторий для работы с job_instances.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Create создаёт новый инстанс job.
func (r *JobRepo) Create(ctx context.Context, inst *domain.JobInstance) error {
	coordJSON, err := json.Marshal(inst.Coordinate)
	if err != nil {
		return fmt.Errorf("marshal coordinate: %w", err)
	}
	outputsJSON, err := json.Marshal(inst.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	logsJSON, err := json.Marshal(inst.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	query := `
		INSERT INTO job_instances (id, run_id, job_id, key, coordinate, attempt,
		                           status, outputs, logs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		inst.ID,
		inst.RunID,
		inst.JobID,
		inst.Key,
		coordJSON,
		inst.Attempt,
		inst.Status,
		outputsJSON,
		logsJSON,
		inst.CreatedAt,
	)
	return translate("insert job instance", err)
}

// CreateBatch создаёт инстансы одним батчем (fan-out графа при старте run).
func (r *JobRepo) CreateBatch(ctx context.Context, instances []*domain.JobInstance) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO job_instances (id, run_id, job_id, key, coordinate, attempt,
		                           status, outputs, logs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, inst := range instances {
		coordJSON, err := json.Marshal(inst.Coordinate)
		if err != nil {
			return fmt.Errorf("marshal coordinate: %w", err)
		}
		outputsJSON, err := json.Marshal(inst.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		logsJSON, err := json.Marshal(inst.Logs)
		if err != nil {
			return fmt.Errorf("marshal logs: %w", err)
		}
		batch.Queue(query,
			inst.ID, inst.RunID, inst.JobID, inst.Key, coordJSON,
			inst.Attempt, inst.Status, outputsJSON, logsJSON, inst.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range instances {
		if _, err := results.Exec(); err != nil {
			return translate("insert job instance batch", err)
		}
	}
	return nil
}

// GetByID возвращает инстанс по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.JobInstance, error) {
	query := `
		SELECT id, run_id, job_id, key, coordinate, attempt, status, outputs,
		       logs, started_at, finished_at, error, created_at
		FROM job_instances
		WHERE id = $1
	`
	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// GetByRunAndKey возвращает инстанс по run и ключу инстанса.
func (r *JobRepo) GetByRunAndKey(ctx context.Context, runID uuid.UUID, key string) (*domain.JobInstance, error) {
	query := `
		SELECT id, run_id, job_id, key, coordinate, attempt, status, outputs,
		       logs, started_at, finished_at, error, created_at
		FROM job_instances
		WHERE run_id = $1 AND key = $2
	`
	return r.scanInstance(r.pool.QueryRow(ctx, query, runID, key))
}

// GetByRunID возвращает все инстансы run в порядке создания.
func (r *JobRepo) GetByRunID(ctx context.Context, runID uuid.UUID) ([]domain.JobInstance, error) {
	query := `
		SELECT id, run_id, job_id, key, coordinate, attempt, status, outputs,
		       logs, started_at, finished_at, error, created_at
		FROM job_instances
		WHERE run_id = $1
		ORDER BY created_at ASC, key ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list job instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.JobInstance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// Update обновляет инстанс.
func (r *JobRepo) Update(ctx context.Context, inst *domain.JobInstance) error {
	outputsJSON, err := json.Marshal(inst.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	logsJSON, err := json.Marshal(inst.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	query := `
		UPDATE job_instances
		SET attempt = $2, status = $3, outputs = $4, logs = $5,
		    started_at = $6, finished_at = $7, error = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		inst.ID,
		inst.Attempt,
		inst.Status,
		outputsJSON,
		logsJSON,
		inst.StartedAt,
		inst.FinishedAt,
		nullString(inst.Error),
	)
	if err != nil {
		return fmt.Errorf("update job instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReady возвращает инстансы в статусе READY.
// Используется polling-циклом Worker как fallback к событиям mq.
func (r *JobRepo) ListReady(ctx context.Context, limit int) ([]domain.JobInstance, error) {
	query := `
		SELECT id, run_id, job_id, key, coordinate, attempt, status, outputs,
		       logs, started_at, finished_at, error, created_at
		FROM job_instances
		WHERE status = 'READY'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready job instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.JobInstance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// CountByRunAndStatus возвращает число инстансов run в каждом статусе.
func (r *JobRepo) CountByRunAndStatus(ctx context.Context, runID uuid.UUID) (map[domain.JobStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM job_instances
		WHERE run_id = $1
		GROUP BY status
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("count job instances: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// scanInstance сканирует строку в JobInstance.
func (r *JobRepo) scanInstance(row pgx.Row) (*domain.JobInstance, error) {
	var inst domain.JobInstance
	var coordJSON, outputsJSON, logsJSON []byte
	var instError *string

	err := row.Scan(
		&inst.ID,
		&inst.RunID,
		&inst.JobID,
		&inst.Key,
		&coordJSON,
		&inst.Attempt,
		&inst.Status,
		&outputsJSON,
		&logsJSON,
		&inst.StartedAt,
		&inst.FinishedAt,
		&instError,
		&inst.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job instance: %w", err)
	}

	if coordJSON != nil {
		if err := json.Unmarshal(coordJSON, &inst.Coordinate); err != nil {
			return nil, fmt.Errorf("unmarshal coordinate: %w", err)
		}
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &inst.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if logsJSON != nil {
		if err := json.Unmarshal(logsJSON, &inst.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal logs: %w", err)
		}
	}
	if instError != nil {
		inst.Error = *instError
	}

	return &inst, nil
}
