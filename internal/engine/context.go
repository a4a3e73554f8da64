package engine

import (
	"fmt"
	"sync"

	"github.com/mkraev/Conveyor/internal/domain"
)

// RunContext — изменяемое состояние одного выполнения pipeline.
//
// Принадлежит ровно одному run: создаётся при его старте, уничтожается
// по завершении, никогда не разделяется между запусками. Содержит
// trigger inputs, Output Store и статусы всех job-инстансов.
//
// Потокобезопасен: outputs могут писаться из параллельных завершений
// jobs, но каждая запись (job, key) атомарна и выполняется ровно один раз.
type RunContext struct {
	// Inputs — входные параметры run (неизменяемы после создания).
	Inputs map[string]string

	mu sync.RWMutex

	// outputs — Output Store: ключ инстанса → (output key → значение).
	outputs map[string]map[string]string

	// statuses — статус каждого инстанса по ключу.
	statuses map[string]domain.JobStatus

	// instances — ключи инстансов каждого job (jobID → ключи).
	// Заполняется при построении графа.
	instances map[string][]string
}

// NewRunContext создаёт контекст с входными параметрами.
func NewRunContext(inputs map[string]string) *RunContext {
	if inputs == nil {
		inputs = map[string]string{}
	}
	return &RunContext{
		Inputs:    inputs,
		outputs:   make(map[string]map[string]string),
		statuses:  make(map[string]domain.JobStatus),
		instances: make(map[string][]string),
	}
}

// Register привязывает инстансы job к контексту.
// Начальный статус каждого инстанса — PENDING.
func (c *RunContext) Register(jobID string, instanceKeys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.instances[jobID] = append(c.instances[jobID], instanceKeys...)
	for _, key := range instanceKeys {
		c.statuses[key] = domain.JobStatusPending
	}
}

// SetStatus обновляет статус инстанса.
// Терминальные статусы неизменяемы: попытка перезаписи игнорируется.
func (c *RunContext) SetStatus(instanceKey string, status domain.JobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.statuses[instanceKey]; ok && cur.IsTerminal() {
		return
	}
	c.statuses[instanceKey] = status
}

// Status возвращает статус инстанса.
func (c *RunContext) Status(instanceKey string) (domain.JobStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.statuses[instanceKey]
	return s, ok
}

// JobResult возвращает агрегированный статус job по всем его инстансам:
// FAILED, если упал хоть один; SKIPPED, если пропущены все;
// SUCCEEDED, если все инстансы терминальны и ни один не упал.
// ok=false — job не зарегистрирован или есть нетерминальные инстансы.
func (c *RunContext) JobResult(jobID string) (domain.JobStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys, ok := c.instances[jobID]
	if !ok || len(keys) == 0 {
		return "", false
	}

	statuses := make([]domain.JobStatus, len(keys))
	for i, key := range keys {
		s := c.statuses[key]
		if !s.IsTerminal() {
			return "", false
		}
		statuses[i] = s
	}

	return domain.AggregateJobStatus(statuses), true
}

// SetOutputs атомарно записывает все outputs инстанса.
// Повторная запись любого (instance, key) — ErrDuplicateOutput;
// в этом случае не записывается ничего.
func (c *RunContext) SetOutputs(instanceKey string, outputs map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.outputs[instanceKey]
	for key := range outputs {
		if _, ok := existing[key]; ok {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateOutput, instanceKey, key)
		}
	}

	if existing == nil {
		existing = make(map[string]string, len(outputs))
		c.outputs[instanceKey] = existing
	}
	for key, value := range outputs {
		existing[key] = value
	}
	return nil
}

// SetOutput записывает один output инстанса.
// Повторная запись (instance, key) — ErrDuplicateOutput.
func (c *RunContext) SetOutput(instanceKey, key, value string) error {
	return c.SetOutputs(instanceKey, map[string]string{key: value})
}

// Output возвращает output инстанса.
// Незаписанный output — ErrMissingOutput.
func (c *RunContext) Output(instanceKey, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.outputs[instanceKey][key]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrMissingOutput, instanceKey, key)
	}
	return v, nil
}

// Outputs возвращает копию всех outputs инстанса.
func (c *RunContext) Outputs(instanceKey string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src := c.outputs[instanceKey]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ScopeFor строит Scope вычисления выражений для инстанса.
// needs — вся цепочка зависимостей по jobID, включая транзитивные:
// success()/failure() должны видеть падение предка даже через
// пропущенные промежуточные jobs.
func (c *RunContext) ScopeFor(needs []string) *Scope {
	return &Scope{
		Inputs: c.Inputs,

		ResultOf: func(jobID string) (domain.JobStatus, bool) {
			return c.JobResult(jobID)
		},

		OutputOf: func(jobID, key string) (string, bool) {
			// Межджобовые ссылки разрешаются по имени job: для одиночных
			// jobs ключ инстанса совпадает с jobID. Ссылки на matrix-jobs
			// отклоняются статически при построении графа.
			v, err := c.Output(jobID, key)
			if err != nil {
				return "", false
			}
			return v, true
		},

		DepStatuses: func() []domain.JobStatus {
			statuses := make([]domain.JobStatus, 0, len(needs))
			for _, jobID := range needs {
				if s, ok := c.JobResult(jobID); ok {
					statuses = append(statuses, s)
				}
			}
			return statuses
		},
	}
}
