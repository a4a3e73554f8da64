package worker

import "errors"

// Ошибки воркера.
var (
	// ErrInstanceNotFound — job-инстанс не найден в БД.
	ErrInstanceNotFound = errors.New("job instance not found")

	// ErrInstanceNotReady — инстанс не в статусе READY.
	ErrInstanceNotReady = errors.New("job instance is not in READY status")

	// ErrJobSpecNotFound — job отсутствует в спецификации pipeline.
	ErrJobSpecNotFound = errors.New("job not found in pipeline spec")
)
