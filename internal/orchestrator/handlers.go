package orchestrator

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

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, payload mq.RunPendingPayload) error {
	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := o.processRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
			o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleRunCancel обрабатывает событие об отмене run.
func (o *Orchestrator) handleRunCancel(ctx context.Context, payload mq.RunCancelPayload) error {
	o.logger.Debug("received run.cancel event", "run_id", payload.RunID)

	if err := o.processCancel(ctx, payload.RunID); err != nil {
		o.logger.Error("failed to cancel run", "run_id", payload.RunID, "error", err)
		return err
	}
	return nil
}

// handleJobCompleted обрабатывает событие о завершённом job-инстансе.
func (o *Orchestrator) handleJobCompleted(ctx context.Context, payload mq.JobCompletedPayload) error {
	o.logger.Debug("received job.completed event",
		"run_id", payload.RunID,
		"instance", payload.InstanceKey,
		"status", payload.Status,
	)

	if err := o.processJobCompleted(ctx, payload); err != nil {
		o.logger.Error("failed to process job completion",
			"run_id", payload.RunID,
			"instance", payload.InstanceKey,
			"error", err,
		)
		return err
	}

	return nil
}

// processRun обрабатывает новый run: строит граф, создаёт инстансы,
// отправляет стартовый фронтир на выполнение.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	// 1. Загружаем run из БД
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	// 3. Загружаем версию pipeline
	version, err := o.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failRun(ctx, run, fmt.Sprintf("pipeline version not found: %s v%d", run.PipelineID, run.Version))
		}
		return fmt.Errorf("get pipeline version: %w", err)
	}

	// 4. Проверяем trigger inputs против спецификации
	normalized, err := engine.ValidateTriggerInputs(version.Spec.On, run.Inputs)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("trigger validation: %v", err))
	}
	run.Inputs = normalized

	// 5. Строим граф. Ошибка построения фатальна: ни один инстанс
	// не планируется, run сразу FAILED.
	state := NewRunState(run, version)
	if err := state.Initialize(); err != nil {
		return o.failRun(ctx, run, err.Error())
	}

	// 6. Добавляем в активные runs
	if err := o.addActiveRun(state); err != nil {
		return err
	}

	// 7. Переводим run в RUNNING
	run.MarkRunning()
	if err := o.runRepo.Update(ctx, run); err != nil {
		o.removeActiveRun(runID)
		return fmt.Errorf("update run to running: %w", err)
	}
	telemetry.RunsStarted.WithLabelValues(run.PipelineID.String()).Inc()

	// 8. Создаём строки job_instances для всех узлов графа
	if err := o.createInstances(ctx, state); err != nil {
		o.removeActiveRun(runID)
		return o.failRun(ctx, run, fmt.Sprintf("create instances: %v", err))
	}

	o.logger.Info("run started",
		"run_id", runID,
		"pipeline_id", run.PipelineID,
		"version", run.Version,
		"instances", state.Graph.Size(),
	)

	// 9. Отправляем стартовый фронтир
	if err := o.advance(ctx, state); err != nil {
		o.logger.Error("failed to dispatch initial frontier", "run_id", runID, "error", err)
		// Не удаляем из активных — попробуем при следующем событии
	}

	return nil
}

// createInstances создаёт строки job_instances для всех узлов графа.
func (o *Orchestrator) createInstances(ctx context.Context, state *RunState) error {
	now := time.Now()
	instances := make([]*domain.JobInstance, 0, state.Graph.Size())

	for _, node := range state.Graph.Order {
		status, _ := state.Ctx.Status(node.Key)
		inst := &domain.JobInstance{
			ID:         uuid.New(),
			RunID:      state.RunID(),
			JobID:      node.JobID,
			Key:        node.Key,
			Coordinate: node.Coordinate,
			Status:     status,
			CreatedAt:  now,
		}
		state.AttachInstance(inst)
		instances = append(instances, inst)
	}

	return o.jobRepo.CreateBatch(ctx, instances)
}

// processJobCompleted обрабатывает завершение job-инстанса.
func (o *Orchestrator) processJobCompleted(ctx context.Context, payload mq.JobCompletedPayload) error {
	// 1. Получаем активный RunState (или восстанавливаем после рестарта)
	state := o.getActiveRun(payload.RunID)
	if state == nil {
		var err error
		state, err = o.restoreRunState(ctx, payload.RunID)
		if err != nil {
			return fmt.Errorf("restore run state: %w", err)
		}
		if state == nil {
			// Run уже завершён или не существует
			o.logger.Debug("run not active and cannot restore", "run_id", payload.RunID)
			return nil
		}
	}

	node := state.Graph.Node(payload.InstanceKey)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, payload.InstanceKey)
	}

	inst := state.Instance(payload.InstanceKey)
	if inst == nil {
		loaded, err := o.jobRepo.GetByRunAndKey(ctx, payload.RunID, payload.InstanceKey)
		if err != nil {
			return fmt.Errorf("get job instance: %w", err)
		}
		inst = loaded
		state.AttachInstance(inst)
	}

	// 2. Применяем результат
	if payload.Status == string(domain.JobStatusSucceeded) {
		if err := state.RecordOutputs(node, payload.Outputs); err != nil {
			// Повторная запись output — ошибка инстанса, не паника
			o.markInstanceFailed(ctx, state, node, inst, err.Error())
		} else {
			inst.MarkSucceeded(payload.Outputs)
			state.SetStatus(node.Key, domain.JobStatusSucceeded)
			if err := o.jobRepo.Update(ctx, inst); err != nil {
				o.logger.Error("failed to persist instance", "instance", inst.Key, "error", err)
			}
			telemetry.JobsFinished.WithLabelValues(string(domain.JobStatusSucceeded)).Inc()
			o.logger.Debug("instance succeeded",
				"run_id", payload.RunID,
				"instance", node.Key,
			)
		}
	} else {
		// 3. Retry: политика job переопределяет defaults
		if o.tryRetry(ctx, state, node, inst, payload) {
			return nil
		}
		o.markInstanceFailed(ctx, state, node, inst, payload.Error)
	}

	// 4. Продвигаем фронтир и проверяем завершение
	return o.advance(ctx, state)
}

// tryRetry перезапускает упавший инстанс, если политика retry позволяет.
// Возвращает true, если инстанс отправлен на повторную попытку.
func (o *Orchestrator) tryRetry(ctx context.Context, state *RunState, node *engine.Node, inst *domain.JobInstance, payload mq.JobCompletedPayload) bool {
	policy := state.RetryPolicy(node)
	if policy == nil || policy.MaxAttempts <= 1 {
		return false
	}

	if !inst.CanRetry(policy.MaxAttempts) {
		return false
	}

	inst.ResetForRetry()
	if err := o.jobRepo.Update(ctx, inst); err != nil {
		o.logger.Error("failed to reset instance for retry", "instance", inst.Key, "error", err)
		return false
	}

	state.SetStatus(node.Key, domain.JobStatusReady)

	if o.publisher != nil {
		if err := o.publisher.PublishJobReady(ctx, inst.ID, inst.RunID); err != nil {
			o.logger.Warn("failed to publish retry job.ready",
				"instance", inst.Key,
				"error", err,
			)
			// Инстанс в READY — Worker подхватит через повторную доставку
		}
	}

	o.logger.Info("instance retry scheduled",
		"run_id", state.RunID(),
		"instance", node.Key,
		"attempt", inst.Attempt,
		"max_attempts", policy.MaxAttempts,
	)
	return true
}

// markInstanceFailed переводит инстанс в FAILED.
func (o *Orchestrator) markInstanceFailed(ctx context.Context, state *RunState, node *engine.Node, inst *domain.JobInstance, errMsg string) {
	inst.MarkFailed(errMsg)
	state.SetStatus(node.Key, domain.JobStatusFailed)
	if err := o.jobRepo.Update(ctx, inst); err != nil {
		o.logger.Error("failed to persist instance", "instance", inst.Key, "error", err)
	}
	telemetry.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	o.logger.Warn("instance failed",
		"run_id", state.RunID(),
		"instance", node.Key,
		"error", errMsg,
	)
}

// advance продвигает выполнение run: вычисляет условия готовых
// инстансов, отправляет проходящие Worker'ам, пропускает остальные,
// и финализирует run, когда все инстансы терминальны.
//
// Пропуск инстанса (SKIPPED) делает терминальными зависимости его
// dependents, поэтому фронтир пересчитывается до неподвижной точки.
func (o *Orchestrator) advance(ctx context.Context, state *RunState) error {
	for {
		frontier := state.Frontier()
		if len(frontier) == 0 {
			break
		}

		changed := false
		for _, node := range frontier {
			inst := state.Instance(node.Key)
			if inst == nil {
				o.logger.Error("frontier node has no instance", "instance", node.Key)
				continue
			}

			ok, err := state.EvalCondition(node)
			switch {
			case err != nil:
				o.markInstanceFailed(ctx, state, node, inst, fmt.Sprintf("condition: %v", err))
				changed = true

			case !ok:
				inst.MarkSkipped()
				state.SetStatus(node.Key, domain.JobStatusSkipped)
				if err := o.jobRepo.Update(ctx, inst); err != nil {
					o.logger.Error("failed to persist instance", "instance", inst.Key, "error", err)
				}
				telemetry.JobsFinished.WithLabelValues(string(domain.JobStatusSkipped)).Inc()
				o.logger.Debug("instance skipped",
					"run_id", state.RunID(),
					"instance", node.Key,
				)
				changed = true

			default:
				if err := o.dispatchInstance(ctx, state, node, inst); err != nil {
					o.logger.Error("failed to dispatch instance",
						"run_id", state.RunID(),
						"instance", node.Key,
						"error", err,
					)
				}
			}
		}

		if !changed {
			break
		}
	}

	return o.maybeCompleteRun(ctx, state)
}

// dispatchInstance отправляет инстанс Worker'у.
func (o *Orchestrator) dispatchInstance(ctx context.Context, state *RunState, node *engine.Node, inst *domain.JobInstance) error {
	inst.MarkReady()
	state.SetStatus(node.Key, domain.JobStatusReady)

	if err := o.jobRepo.Update(ctx, inst); err != nil {
		return fmt.Errorf("update instance to ready: %w", err)
	}

	if o.publisher != nil {
		if err := o.publisher.PublishJobReady(ctx, inst.ID, inst.RunID); err != nil {
			o.logger.Warn("failed to publish job.ready",
				"instance", inst.Key,
				"run_id", state.RunID(),
				"error", err,
			)
			// Инстанс в READY в БД — Worker может забрать через polling
		}
	}

	o.logger.Debug("instance dispatched",
		"run_id", state.RunID(),
		"instance", node.Key,
	)

	return nil
}

// maybeCompleteRun финализирует run, если все инстансы терминальны.
//
// Run считается FAILED только если упал инстанс с условием, отличным
// от always(): падения rollback/cleanup jobs итог run не меняют.
func (o *Orchestrator) maybeCompleteRun(ctx context.Context, state *RunState) error {
	if !state.IsComplete() {
		return nil
	}

	run := state.Run
	failures := state.BlockingFailures()

	if len(failures) == 0 {
		run.MarkSucceeded()
		o.logger.Info("run succeeded",
			"run_id", run.ID,
			"duration", run.Duration(),
		)
	} else {
		run.MarkFailed(fmt.Sprintf("jobs failed: %s", strings.Join(failures, ", ")))
		o.logger.Warn("run failed",
			"run_id", run.ID,
			"failed_instances", failures,
			"duration", run.Duration(),
		)
	}

	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	telemetry.RunsFinished.WithLabelValues(run.PipelineID.String(), string(run.Status)).Inc()
	telemetry.RunDuration.WithLabelValues(run.PipelineID.String()).Observe(run.Duration().Seconds())

	o.removeActiveRun(run.ID)
	return nil
}

// processCancel отменяет run.
//
// Ещё не отправленные инстансы переводятся в SKIPPED, выполняющиеся —
// в FAILED, сам run — в CANCELLED.
func (o *Orchestrator) processCancel(ctx context.Context, runID uuid.UUID) error {
	state := o.getActiveRun(runID)
	if state == nil {
		// Run не активен: отменяем PENDING run напрямую в БД
		run, err := o.runRepo.GetByID(ctx, runID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			return fmt.Errorf("get run: %w", err)
		}
		if run.IsFinished() {
			return nil
		}
		run.MarkCancelled()
		if err := o.runRepo.Update(ctx, run); err != nil {
			return fmt.Errorf("update run to cancelled: %w", err)
		}
		o.logger.Info("pending run cancelled", "run_id", runID)
		return nil
	}

	undispatched, running := state.NonTerminalKeys()

	for _, key := range undispatched {
		if inst := state.Instance(key); inst != nil {
			inst.MarkSkipped()
			state.SetStatus(key, domain.JobStatusSkipped)
			if err := o.jobRepo.Update(ctx, inst); err != nil {
				o.logger.Error("failed to persist instance", "instance", key, "error", err)
			}
		}
	}

	for _, key := range running {
		if inst := state.Instance(key); inst != nil {
			inst.MarkFailed("run cancelled")
			state.SetStatus(key, domain.JobStatusFailed)
			if err := o.jobRepo.Update(ctx, inst); err != nil {
				o.logger.Error("failed to persist instance", "instance", key, "error", err)
			}
		}
	}

	run := state.Run
	run.MarkCancelled()
	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to cancelled: %w", err)
	}

	telemetry.RunsFinished.WithLabelValues(run.PipelineID.String(), string(run.Status)).Inc()
	o.removeActiveRun(runID)

	o.logger.Info("run cancelled",
		"run_id", runID,
		"skipped", len(undispatched),
		"interrupted", len(running),
	)
	return nil
}

// failRun переводит run в статус FAILED до старта выполнения.
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(errMsg)

	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}

	telemetry.RunsFinished.WithLabelValues(run.PipelineID.String(), string(run.Status)).Inc()

	o.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}

// restoreRunState восстанавливает RunState из БД.
// Используется когда job.completed приходит для run, которого нет
// в памяти (после рестарта Orchestrator).
func (o *Orchestrator) restoreRunState(ctx context.Context, runID uuid.UUID) (*RunState, error) {
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil // Run не существует
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	// Если run уже завершён — ничего не делаем
	if run.IsFinished() {
		return nil, nil
	}

	version, err := o.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		return nil, fmt.Errorf("get pipeline version: %w", err)
	}

	state := NewRunState(run, version)
	if err := state.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	instances, err := o.jobRepo.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list job instances: %w", err)
	}
	state.RestoreFromInstances(instances)

	if err := o.addActiveRun(state); err != nil {
		if errors.Is(err, ErrRunAlreadyActive) {
			// Кто-то уже восстановил — возвращаем его
			return o.getActiveRun(runID), nil
		}
		return nil, err
	}

	o.logger.Info("run state restored",
		"run_id", runID,
		"stats", state.Stats(),
	)

	return state, nil
}
