package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
)

// Runner выполняет job-инстансы: tasks последовательно, через плагины
// из Registry. Реализует engine.JobRunner.
//
// Ответственность: разрешение параметров, условия tasks, таймауты
// и контроль объявленных outputs. Retry-политику применяет вызывающий
// слой (worker), Runner выполняет ровно одну попытку.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner создаёт Runner поверх реестра плагинов.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// RunJob выполняет все tasks инстанса последовательно.
//
// Первая упавшая task завершает job со статусом FAILED, оставшиеся
// tasks не выполняются. Task с ложным условием пропускается, её
// объявленные outputs не публикуются. Каждая успешная task обязана
// опубликовать все объявленные outputs.
func (r *Runner) RunJob(ctx context.Context, exec engine.JobExecution) engine.JobResult {
	var log strings.Builder
	outputs := make(map[string]string)

	logf := func(format string, args ...any) {
		fmt.Fprintf(&log, format+"\n", args...)
	}

	for i := range exec.Spec.Tasks {
		task := &exec.Spec.Tasks[i]
		taskID := task.ID
		if taskID == "" {
			taskID = fmt.Sprintf("task-%d", i)
		}

		if task.If != "" {
			cond := engine.ParseCondition(task.If)
			ok, err := cond.Evaluate(exec.Scope)
			if err != nil {
				logf("[%s] condition error: %v", taskID, err)
				return r.fail(exec.Key, outputs, log.String(),
					fmt.Errorf("task %s: condition: %w", taskID, err))
			}
			if !ok {
				logf("[%s] skipped: condition is false", taskID)
				continue
			}
		}

		resp, err := r.runTask(ctx, exec, task, taskID)
		if resp != nil && resp.Log != "" {
			logf("[%s] %s", taskID, strings.TrimRight(resp.Log, "\n"))
		}
		if err != nil {
			logf("[%s] failed: %v", taskID, err)
			return r.fail(exec.Key, outputs, log.String(),
				fmt.Errorf("task %s: %w", taskID, err))
		}

		// Публикуются только объявленные outputs, каждый обязателен
		for _, key := range task.Outputs {
			value, ok := resp.Outputs[key]
			if !ok {
				return r.fail(exec.Key, outputs, log.String(),
					fmt.Errorf("task %s: %w: %s", taskID, engine.ErrMissingDeclaredOutput, key))
			}
			if _, dup := outputs[key]; dup {
				return r.fail(exec.Key, outputs, log.String(),
					fmt.Errorf("task %s: %w: %s.%s", taskID, engine.ErrDuplicateOutput, exec.Key, key))
			}
			outputs[key] = value
		}

		logf("[%s] ok", taskID)
	}

	return engine.JobResult{
		Key:     exec.Key,
		Status:  domain.JobStatusSucceeded,
		Outputs: outputs,
		Logs:    log.String(),
	}
}

func (r *Runner) runTask(ctx context.Context, exec engine.JobExecution, task *domain.TaskSpec, taskID string) (*Response, error) {
	plugin, err := r.registry.Get(task.Uses)
	if err != nil {
		return nil, err
	}

	params, err := engine.ResolveParams(task.With, exec.Scope)
	if err != nil {
		return nil, fmt.Errorf("resolve params: %w", err)
	}

	timeout := r.taskTimeout(exec, task)
	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.logger.Debug("task started",
		"run_id", exec.RunID,
		"instance", exec.Key,
		"task", taskID,
		"uses", task.Uses,
	)

	started := time.Now()
	resp, err := plugin.Execute(taskCtx, NewRequest(taskID, params, timeout))
	if err != nil {
		// Таймаут самой task отличаем от отмены всего run
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %v", engine.ErrTaskTimeout, timeout, err)
		}
		r.logger.Warn("task failed",
			"run_id", exec.RunID,
			"instance", exec.Key,
			"task", taskID,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return resp, err
	}

	r.logger.Debug("task finished",
		"run_id", exec.RunID,
		"instance", exec.Key,
		"task", taskID,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if resp == nil {
		resp = EmptyResponse()
	}
	return resp, nil
}

// taskTimeout определяет таймаут task: приоритет у task, затем job,
// затем defaults уровня pipeline. 0 — без ограничения.
func (r *Runner) taskTimeout(exec engine.JobExecution, task *domain.TaskSpec) time.Duration {
	switch {
	case task.TimeoutSec > 0:
		return time.Duration(task.TimeoutSec) * time.Second
	case exec.Spec.TimeoutSec > 0:
		return time.Duration(exec.Spec.TimeoutSec) * time.Second
	case exec.Defaults != nil && exec.Defaults.TimeoutSec > 0:
		return time.Duration(exec.Defaults.TimeoutSec) * time.Second
	}
	return 0
}

func (r *Runner) fail(key string, outputs map[string]string, logs string, err error) engine.JobResult {
	return engine.JobResult{
		Key:     key,
		Status:  domain.JobStatusFailed,
		Outputs: outputs,
		Logs:    logs,
		Err:     err,
	}
}
