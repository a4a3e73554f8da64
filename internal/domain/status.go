package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// JobStatus — статус выполнения job-инстанса.
//
// Жизненный цикл:
//
//	PENDING → BLOCKED → READY → RUNNING → SUCCEEDED
//	                                    ↘ FAILED
//	                  ↘ SKIPPED (условие ложно или run отменён)
//
// Терминальные статусы (SUCCEEDED, FAILED, SKIPPED) неизменяемы.
type JobStatus string

const (
	// JobStatusPending — инстанс создан при построении графа.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusBlocked — инстанс ждёт завершения зависимостей.
	JobStatusBlocked JobStatus = "BLOCKED"

	// JobStatusReady — зависимости терминальны, условие истинно,
	// инстанс поставлен в очередь на выполнение.
	JobStatusReady JobStatus = "READY"

	// JobStatusRunning — инстанс выполняется воркером.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusSucceeded — все tasks инстанса успешно завершены.
	JobStatusSucceeded JobStatus = "SUCCEEDED"

	// JobStatusFailed — task инстанса завершился с ошибкой.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusSkipped — условие ложно либо run отменён до запуска.
	// Skip не является ошибкой и не распространяется как ошибка.
	JobStatusSkipped JobStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}
