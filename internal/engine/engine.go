package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
)

// Engine выполняет pipeline от входных параметров до RunReport
// внутри одного процесса.
//
// Последовательность: валидация входных параметров триггера,
// построение графа инстансов, выполнение планировщиком, сборка отчёта.
// Engine не имеет собственного состояния между запусками и безопасен
// для конкурентного использования.
type Engine struct {
	runner JobRunner
	logger *slog.Logger
}

// NewEngine создаёт движок выполнения pipeline.
func NewEngine(runner JobRunner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{runner: runner, logger: logger}
}

// Execute выполняет pipeline и возвращает отчёт о run.
//
// Ошибка возвращается только если run не удалось начать: некорректные
// входные параметры или непроходящий валидацию граф. Падения отдельных
// jobs ошибкой не являются, они отражаются в статусах отчёта.
//
// Отмена ctx переводит run в CANCELLED: выполняющиеся инстансы
// завершаются как FAILED, неотправленные — как SKIPPED.
func (e *Engine) Execute(ctx context.Context, spec *domain.PipelineSpec, run *domain.Run) (*domain.RunReport, error) {
	inputs, err := ValidateTriggerInputs(spec.On, run.Inputs)
	if err != nil {
		return nil, err
	}

	graph, err := BuildGraph(spec)
	if err != nil {
		return nil, err
	}

	e.logger.Info("run started",
		"run_id", run.ID,
		"pipeline", spec.Name,
		"instances", graph.Size(),
	)

	rc := NewRunContext(inputs)
	for jobID, nodes := range graph.ByJob {
		keys := make([]string, len(nodes))
		for i, node := range nodes {
			keys[i] = node.Key
		}
		rc.Register(jobID, keys)
	}
	for _, node := range graph.Order {
		if node.InDegree > 0 {
			rc.SetStatus(node.Key, domain.JobStatusBlocked)
		}
	}

	startedAt := time.Now().UTC()
	sched := NewScheduler(e.runner, spec.Concurrency)
	outcomes := sched.Run(ctx, graph, rc, run.ID.String(), spec.Defaults)
	finishedAt := time.Now().UTC()

	report := e.buildReport(run.ID, graph, outcomes, startedAt, finishedAt, ctx.Err() != nil)

	e.logger.Info("run finished",
		"run_id", run.ID,
		"status", report.Status,
		"duration_ms", finishedAt.Sub(startedAt).Milliseconds(),
	)

	return report, nil
}

// buildReport собирает RunReport из итогов инстансов.
//
// Статус run: CANCELLED при отменённом контексте; FAILED, если упал
// хотя бы один инстанс, условие которого не always() (падение
// компенсирующих always-jobs статус run не меняет, падение остальных —
// меняет); иначе SUCCEEDED.
func (e *Engine) buildReport(runID uuid.UUID, g *JobGraph, outcomes map[string]*InstanceOutcome, startedAt, finishedAt time.Time, cancelled bool) *domain.RunReport {
	report := &domain.RunReport{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Jobs:       make([]domain.JobReport, 0, len(g.Order)),
	}

	failed := false
	for _, node := range g.Order {
		outcome := outcomes[node.Key]
		if outcome == nil {
			outcome = &InstanceOutcome{Status: domain.JobStatusSkipped}
		}

		jr := domain.JobReport{
			JobID:      node.JobID,
			Key:        node.Key,
			Coordinate: node.Coordinate,
			Status:     outcome.Status,
			Outputs:    outcome.Outputs,
			Error:      outcome.Error,
		}
		if !outcome.StartedAt.IsZero() {
			jr.DurationMs = outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds()
		}
		report.Jobs = append(report.Jobs, jr)

		if outcome.Status == domain.JobStatusFailed && !node.Condition.IsAlways() {
			failed = true
		}
	}

	switch {
	case cancelled:
		report.Status = domain.RunStatusCancelled
	case failed:
		report.Status = domain.RunStatusFailed
	default:
		report.Status = domain.RunStatusSucceeded
	}

	return report
}
