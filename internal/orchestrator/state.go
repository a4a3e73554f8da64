package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
)

// RunState — состояние выполнения одного run в памяти Orchestrator.
//
// RunState создаётся когда Orchestrator начинает обработку run
// и удаляется когда run завершается (SUCCEEDED/FAILED/CANCELLED).
//
// Содержит:
//   - Кэш данных из БД (Run, PipelineVersion)
//   - Построенный JobGraph
//   - RunContext с trigger inputs, outputs и статусами инстансов
//   - Строки JobInstance для каждого узла графа
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	// Version — версия pipeline со спецификацией.
	Version *domain.PipelineVersion

	// Graph — граф job-инстансов.
	Graph *engine.JobGraph

	// Ctx — состояние run: inputs, Output Store, статусы.
	Ctx *engine.RunContext

	// instances — строки JobInstance (ключ инстанса → запись БД).
	instances map[string]*domain.JobInstance

	mu sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run, version *domain.PipelineVersion) *RunState {
	return &RunState{
		Run:       run,
		Version:   version,
		instances: make(map[string]*domain.JobInstance),
	}
}

// Initialize строит граф и регистрирует инстансы в RunContext.
// Любая ошибка построения фатальна: run не стартует.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	graph, err := engine.BuildGraph(&s.Version.Spec)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	s.Graph = graph
	s.Ctx = engine.NewRunContext(s.Run.Inputs)

	for jobID, nodes := range graph.ByJob {
		keys := make([]string, len(nodes))
		for i, node := range nodes {
			keys[i] = node.Key
		}
		s.Ctx.Register(jobID, keys)
	}

	// Инстансы с зависимостями ждут в BLOCKED
	for _, node := range graph.Order {
		if node.InDegree > 0 {
			s.Ctx.SetStatus(node.Key, domain.JobStatusBlocked)
		}
	}

	return nil
}

// AttachInstance привязывает строку JobInstance к узлу графа.
func (s *RunState) AttachInstance(inst *domain.JobInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.Key] = inst
}

// Instance возвращает JobInstance по ключу инстанса.
func (s *RunState) Instance(key string) *domain.JobInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[key]
}

// InstanceByID ищет JobInstance по ID записи.
func (s *RunState) InstanceByID(id uuid.UUID) *domain.JobInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// Frontier возвращает инстансы, у которых все зависимости терминальны,
// а сами они ещё не планировались.
func (s *RunState) Frontier() []*engine.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Graph.Frontier(s.Ctx)
}

// EvalCondition вычисляет условие выполнения инстанса.
func (s *RunState) EvalCondition(node *engine.Node) (bool, error) {
	scope := s.Ctx.ScopeFor(node.TransitiveNeeds())
	return node.Condition.Evaluate(scope)
}

// SetStatus обновляет статус инстанса в RunContext.
func (s *RunState) SetStatus(key string, status domain.JobStatus) {
	s.Ctx.SetStatus(key, status)
}

// RecordOutputs атомарно записывает outputs завершённого инстанса.
// Для межджобовых ссылок outputs одиночных jobs дублируются под jobID.
func (s *RunState) RecordOutputs(node *engine.Node, outputs map[string]string) error {
	if len(outputs) == 0 {
		return nil
	}
	return s.Ctx.SetOutputs(node.Key, outputs)
}

// IsComplete возвращает true, когда все инстансы терминальны.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Graph.IsComplete(s.Ctx)
}

// BlockingFailures возвращает ключи упавших инстансов, которые
// проваливают run: FAILED с условием, отличным от always().
// Падение always()-инстансов (rollback/cleanup jobs) run не проваливает.
func (s *RunState) BlockingFailures() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []string
	for _, node := range s.Graph.Order {
		status, _ := s.Ctx.Status(node.Key)
		if status == domain.JobStatusFailed && !node.Condition.IsAlways() {
			failed = append(failed, node.Key)
		}
	}
	return failed
}

// NonTerminalKeys возвращает ключи нетерминальных инстансов,
// сгруппированные по статусу: ещё не отправленные (PENDING/BLOCKED/READY)
// и уже выполняющиеся (RUNNING).
func (s *RunState) NonTerminalKeys() (undispatched, running []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, node := range s.Graph.Order {
		status, _ := s.Ctx.Status(node.Key)
		switch status {
		case domain.JobStatusPending, domain.JobStatusBlocked, domain.JobStatusReady:
			undispatched = append(undispatched, node.Key)
		case domain.JobStatusRunning:
			running = append(running, node.Key)
		}
	}
	return undispatched, running
}

// RetryPolicy возвращает политику retry для job: спецификация job
// переопределяет defaults. Без политики — одна попытка.
func (s *RunState) RetryPolicy(node *engine.Node) *domain.RetryPolicy {
	if node.Spec.Retry != nil {
		return node.Spec.Retry
	}
	if s.Version.Spec.Defaults != nil && s.Version.Spec.Defaults.Retry != nil {
		return s.Version.Spec.Defaults.Retry
	}
	return nil
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// PipelineID возвращает ID pipeline.
func (s *RunState) PipelineID() uuid.UUID {
	return s.Run.PipelineID
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats RunStats
	stats.TotalInstances = len(s.Graph.Order)
	for _, node := range s.Graph.Order {
		status, _ := s.Ctx.Status(node.Key)
		switch status {
		case domain.JobStatusSucceeded:
			stats.Succeeded++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusSkipped:
			stats.Skipped++
		case domain.JobStatusRunning, domain.JobStatusReady:
			stats.Running++
		default:
			stats.Pending++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalInstances int
	Succeeded      int
	Failed         int
	Skipped        int
	Running        int
	Pending        int
}

// RestoreFromInstances восстанавливает состояние из строк job_instances
// (после рестарта Orchestrator).
func (s *RunState) RestoreFromInstances(instances []domain.JobInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range instances {
		inst := &instances[i]
		s.instances[inst.Key] = inst

		switch inst.Status {
		case domain.JobStatusSucceeded:
			s.Ctx.SetStatus(inst.Key, domain.JobStatusSucceeded)
			if len(inst.Outputs) > 0 {
				// Конфликт возможен только при двойной доставке — игнорируем
				_ = s.Ctx.SetOutputs(inst.Key, inst.Outputs)
			}

		case domain.JobStatusFailed:
			s.Ctx.SetStatus(inst.Key, domain.JobStatusFailed)

		case domain.JobStatusSkipped:
			s.Ctx.SetStatus(inst.Key, domain.JobStatusSkipped)

		case domain.JobStatusRunning, domain.JobStatusReady:
			s.Ctx.SetStatus(inst.Key, inst.Status)
		}
	}
}
