package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrPipelineNotFound — pipeline или его версия не найдены.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrVersionNotFound — версия pipeline не найдена.
	ErrVersionNotFound = errors.New("pipeline version not found")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotActive — run не найден в активных.
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrInstanceNotFound — job-инстанс не найден.
	ErrInstanceNotFound = errors.New("job instance not found")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
