package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
	"github.com/mkraev/Conveyor/internal/mq"
	"github.com/mkraev/Conveyor/internal/repo"
	"github.com/mkraev/Conveyor/internal/telemetry"
)

// handleJobReady обрабатывает событие из очереди jobs.ready.
func (w *Worker) handleJobReady(ctx context.Context, payload mq.JobReadyPayload) error {
	w.logger.Debug("received job.ready event",
		"instance_id", payload.JobID,
		"run_id", payload.RunID,
	)

	if err := w.processInstance(ctx, payload.JobID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrInstanceNotFound) || errors.Is(err, ErrInstanceNotReady) {
			w.logger.Debug("instance not processed", "instance_id", payload.JobID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process instance", "instance_id", payload.JobID, "error", err)
		return err
	}

	return nil
}

// processInstance загружает инстанс из БД, выполняет его tasks
// и публикует результат.
func (w *Worker) processInstance(ctx context.Context, instanceID uuid.UUID) error {
	// 1. Загружаем инстанс из БД
	inst, err := w.jobRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get job instance: %w", err)
	}

	// 2. Проверяем статус
	if inst.Status != domain.JobStatusReady {
		return ErrInstanceNotReady
	}

	// 3. Загружаем run и версию pipeline
	run, err := w.runRepo.GetByID(ctx, inst.RunID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	version, err := w.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		return fmt.Errorf("get pipeline version: %w", err)
	}

	spec := version.Spec.FindJob(inst.JobID)
	if spec == nil {
		return w.failInstance(ctx, inst,
			fmt.Sprintf("%v: %s", ErrJobSpecNotFound, inst.JobID))
	}

	// 4. Помечаем как running
	inst.MarkRunning()
	if err := w.jobRepo.Update(ctx, inst); err != nil {
		return fmt.Errorf("update instance to running: %w", err)
	}

	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	w.logger.Info("instance started",
		"instance_id", inst.ID,
		"run_id", inst.RunID,
		"instance", inst.Key,
		"attempt", inst.Attempt,
	)

	// 5. Backoff перед повторной попыткой
	if inst.Attempt > 1 {
		policy := retryPolicyFor(spec, version.Spec.Defaults)
		delay := calculateBackoff(inst.Attempt-1, policy)
		w.logger.Debug("retry backoff", "instance", inst.Key, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// 6. Строим Scope из персистентного состояния run
	scope, err := w.buildScope(ctx, run, &version.Spec, spec)
	if err != nil {
		return w.failInstance(ctx, inst, fmt.Sprintf("build scope: %v", err))
	}

	// 7. Выполняем tasks инстанса
	start := time.Now()
	result := w.runner.RunJob(ctx, engine.JobExecution{
		RunID:      run.ID.String(),
		Key:        inst.Key,
		Spec:       spec,
		Coordinate: inst.Coordinate,
		Scope:      scope,
		Defaults:   version.Spec.Defaults,
	})
	telemetry.JobDuration.Observe(time.Since(start).Seconds())

	inst.Logs = splitLogs(result.Logs)

	// 8. Обрабатываем результат
	if result.Status == domain.JobStatusSucceeded {
		inst.MarkSucceeded(result.Outputs)
		if err := w.jobRepo.Update(ctx, inst); err != nil {
			return fmt.Errorf("update instance to succeeded: %w", err)
		}

		w.logger.Info("instance succeeded",
			"instance_id", inst.ID,
			"run_id", inst.RunID,
			"instance", inst.Key,
			"attempt", inst.Attempt,
		)

		return w.publishCompletion(ctx, inst, "")
	}

	errMsg := "job failed"
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	inst.MarkFailed(errMsg)
	if err := w.jobRepo.Update(ctx, inst); err != nil {
		return fmt.Errorf("update instance to failed: %w", err)
	}

	w.logger.Warn("instance failed",
		"instance_id", inst.ID,
		"run_id", inst.RunID,
		"instance", inst.Key,
		"attempt", inst.Attempt,
		"error", errMsg,
	)

	return w.publishCompletion(ctx, inst, errMsg)
}

// failInstance переводит инстанс в FAILED до выполнения tasks
// (ошибки конфигурации, а не выполнения).
func (w *Worker) failInstance(ctx context.Context, inst *domain.JobInstance, errMsg string) error {
	inst.MarkFailed(errMsg)
	if err := w.jobRepo.Update(ctx, inst); err != nil {
		return fmt.Errorf("update instance to failed: %w", err)
	}
	return w.publishCompletion(ctx, inst, errMsg)
}

// publishCompletion публикует событие job.completed.
func (w *Worker) publishCompletion(ctx context.Context, inst *domain.JobInstance, errMsg string) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping job.completed publish",
			"instance_id", inst.ID,
		)
		return nil
	}

	payload := mq.JobCompletedPayload{
		JobID:       inst.ID,
		RunID:       inst.RunID,
		InstanceKey: inst.Key,
		Status:      string(inst.Status),
		Outputs:     inst.Outputs,
		Error:       errMsg,
		Attempt:     inst.Attempt,
	}

	if err := w.publisher.PublishJobCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish job.completed",
			"instance_id", inst.ID,
			"error", err,
		)
		// Не возвращаем ошибку — инстанс обновлён в БД,
		// оркестратор подхватит состояние при восстановлении
	}

	return nil
}

// buildScope строит Scope вычисления выражений из персистентного
// состояния run: статусы и outputs завершённых инстансов из БД.
// success()/failure() вычисляются по всей цепочке needs job, включая
// транзитивные зависимости.
func (w *Worker) buildScope(ctx context.Context, run *domain.Run, pipeline *domain.PipelineSpec, spec *domain.JobSpec) (*engine.Scope, error) {
	instances, err := w.jobRepo.GetByRunID(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list job instances: %w", err)
	}

	statusesByJob := make(map[string][]domain.JobStatus)
	outputsByKey := make(map[string]map[string]string)

	for i := range instances {
		inst := &instances[i]
		statusesByJob[inst.JobID] = append(statusesByJob[inst.JobID], inst.Status)
		if len(inst.Outputs) > 0 {
			outputsByKey[inst.Key] = inst.Outputs
		}
	}

	resultOf := func(jobID string) (domain.JobStatus, bool) {
		statuses, ok := statusesByJob[jobID]
		if !ok || len(statuses) == 0 {
			return "", false
		}
		for _, s := range statuses {
			if !s.IsTerminal() {
				return "", false
			}
		}
		return domain.AggregateJobStatus(statuses), true
	}

	return &engine.Scope{
		Inputs: run.Inputs,

		ResultOf: resultOf,

		OutputOf: func(jobID, key string) (string, bool) {
			// Межджобовые ссылки разрешаются по имени job: для одиночных
			// jobs ключ инстанса совпадает с jobID
			v, ok := outputsByKey[jobID][key]
			return v, ok
		},

		DepStatuses: func() []domain.JobStatus {
			needs := pipeline.TransitiveNeeds(spec.ID)
			statuses := make([]domain.JobStatus, 0, len(needs))
			for _, jobID := range needs {
				if s, ok := resultOf(jobID); ok {
					statuses = append(statuses, s)
				}
			}
			return statuses
		},
	}, nil
}

// retryPolicyFor возвращает политику retry: спецификация job
// переопределяет defaults.
func retryPolicyFor(spec *domain.JobSpec, defaults *domain.JobDefaults) *domain.RetryPolicy {
	if spec.Retry != nil {
		return spec.Retry
	}
	if defaults != nil && defaults.Retry != nil {
		return defaults.Retry
	}
	return nil
}

// calculateBackoff вычисляет задержку перед повторной попыткой.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или неизвестный — используем initialDelay
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// splitLogs разбивает накопленный лог выполнения на строки.
func splitLogs(log string) []string {
	if log == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(log, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
