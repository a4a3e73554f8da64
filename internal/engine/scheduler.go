package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mkraev/Conveyor/internal/domain"
)

// DefaultMaxParallel — без явного лимита одновременно выполняется
// не больше этого числа инстансов.
const DefaultMaxParallel = 4

// InstanceOutcome — итог выполнения одного job-инстанса.
type InstanceOutcome struct {
	Status     domain.JobStatus
	Outputs    map[string]string
	Logs       string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Scheduler выполняет граф job-инстансов с ограничением параллелизма.
//
// Диспетчеризация непрерывная: инстанс отправляется на выполнение,
// как только все его зависимости терминальны и есть свободный слот,
// не дожидаясь завершения остальных инстансов волны. Применение
// результатов сериализовано в цикле планировщика, поэтому RunContext
// меняется из одной горутины.
type Scheduler struct {
	runner      JobRunner
	maxParallel int
}

// NewScheduler создаёт планировщик поверх runner.
// maxParallel <= 0 заменяется на DefaultMaxParallel.
func NewScheduler(runner JobRunner, maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Scheduler{runner: runner, maxParallel: maxParallel}
}

type instanceResult struct {
	JobResult
	startedAt  time.Time
	finishedAt time.Time
}

// Run выполняет граф до терминального состояния всех инстансов
// и возвращает итоги по ключам инстансов.
//
// Отмена ctx: инстансы в полёте получают отмену через контекст и
// завершаются как FAILED, ещё не отправленные переводятся в SKIPPED.
// Метод возвращается только после завершения всех запущенных инстансов.
func (s *Scheduler) Run(ctx context.Context, g *JobGraph, rc *RunContext, runID string, defaults *domain.JobDefaults) map[string]*InstanceOutcome {
	outcomes := make(map[string]*InstanceOutcome, g.Size())
	results := make(chan instanceResult)

	var queue []*Node
	inFlight := 0
	cancelled := false
	done := ctx.Done()

	for !g.IsComplete(rc) {
		if cancelled {
			s.skipRemaining(g, rc, outcomes)
		} else {
			queue = append(queue, s.admit(g, rc, outcomes)...)

			for len(queue) > 0 && inFlight < s.maxParallel {
				node := queue[0]
				queue = queue[1:]
				rc.SetStatus(node.Key, domain.JobStatusRunning)
				inFlight++
				go s.dispatch(ctx, runID, node, rc.ScopeFor(node.TransitiveNeeds()), defaults, results)
			}
		}

		if g.IsComplete(rc) {
			break
		}

		select {
		case res := <-results:
			inFlight--
			s.apply(rc, res, outcomes)
		case <-done:
			cancelled = true
			done = nil
			// Инстансы из очереди не были отправлены: пропускаем
			queue = nil
		}
	}

	return outcomes
}

// admit переводит готовые инстансы через вычисление условий:
// ложное условие — SKIPPED, ошибка выражения — FAILED, истинное —
// READY и в очередь диспетчеризации. Пропуски каскадируют, поэтому
// повторяем до неподвижной точки.
func (s *Scheduler) admit(g *JobGraph, rc *RunContext, outcomes map[string]*InstanceOutcome) []*Node {
	var admitted []*Node

	for {
		progressed := false

		for _, node := range g.Frontier(rc) {
			scope := rc.ScopeFor(node.TransitiveNeeds())
			ok, err := node.Condition.Evaluate(scope)

			switch {
			case err != nil:
				rc.SetStatus(node.Key, domain.JobStatusFailed)
				now := time.Now().UTC()
				outcomes[node.Key] = &InstanceOutcome{
					Status:     domain.JobStatusFailed,
					Error:      fmt.Sprintf("condition: %v", err),
					StartedAt:  now,
					FinishedAt: now,
				}
				progressed = true
			case !ok:
				rc.SetStatus(node.Key, domain.JobStatusSkipped)
				outcomes[node.Key] = &InstanceOutcome{Status: domain.JobStatusSkipped}
				progressed = true
			default:
				rc.SetStatus(node.Key, domain.JobStatusReady)
				admitted = append(admitted, node)
			}
		}

		if !progressed {
			return admitted
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, runID string, node *Node, scope *Scope, defaults *domain.JobDefaults, results chan<- instanceResult) {
	started := time.Now().UTC()
	res := s.runner.RunJob(ctx, JobExecution{
		RunID:      runID,
		Key:        node.Key,
		Spec:       node.Spec,
		Coordinate: node.Coordinate,
		Scope:      scope,
		Defaults:   defaults,
	})
	res.Key = node.Key
	results <- instanceResult{JobResult: res, startedAt: started, finishedAt: time.Now().UTC()}
}

// apply фиксирует результат инстанса: outputs в RunContext, затем статус.
// Конфликт записи outputs (повторная публикация ключа) фатален для
// инстанса: он помечается FAILED.
func (s *Scheduler) apply(rc *RunContext, res instanceResult, outcomes map[string]*InstanceOutcome) {
	outcome := &InstanceOutcome{
		Status:     res.Status,
		Outputs:    res.Outputs,
		Logs:       res.Logs,
		StartedAt:  res.startedAt,
		FinishedAt: res.finishedAt,
	}
	if res.Err != nil {
		outcome.Error = res.Err.Error()
	}

	if res.Status == domain.JobStatusSucceeded && len(res.Outputs) > 0 {
		if err := rc.SetOutputs(res.Key, res.Outputs); err != nil {
			outcome.Status = domain.JobStatusFailed
			outcome.Error = err.Error()
			outcome.Outputs = nil
		}
	}

	rc.SetStatus(res.Key, outcome.Status)
	outcomes[res.Key] = outcome
}

// skipRemaining переводит все неотправленные инстансы в SKIPPED
// после отмены run.
func (s *Scheduler) skipRemaining(g *JobGraph, rc *RunContext, outcomes map[string]*InstanceOutcome) {
	for _, node := range g.Order {
		status, _ := rc.Status(node.Key)
		switch status {
		case domain.JobStatusPending, domain.JobStatusBlocked, domain.JobStatusReady:
			rc.SetStatus(node.Key, domain.JobStatusSkipped)
			outcomes[node.Key] = &InstanceOutcome{Status: domain.JobStatusSkipped}
		}
	}
}
