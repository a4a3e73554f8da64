package engine

import "errors"

// Ошибки построения графа. Фатальны для всего run: при любой из них
// run не стартует и ни один job не планируется.
var (
	// ErrEmptyJobs — pipeline не содержит jobs.
	ErrEmptyJobs = errors.New("pipeline spec has no jobs")

	// ErrEmptyJobID — job не имеет ID.
	ErrEmptyJobID = errors.New("job has empty ID")

	// ErrDuplicateJobID — несколько jobs с одинаковым ID.
	ErrDuplicateJobID = errors.New("duplicate job ID")

	// ErrEmptyTasks — job не содержит tasks.
	ErrEmptyTasks = errors.New("job has no tasks")

	// ErrUnknownDependency — job зависит от несуществующего job.
	ErrUnknownDependency = errors.New("job needs unknown job")

	// ErrSelfDependency — job зависит от самого себя.
	ErrSelfDependency = errors.New("job needs itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrInvalidMatrix — некорректное определение matrix.
	ErrInvalidMatrix = errors.New("invalid matrix definition")

	// ErrUnknownOutputRef — выражение ссылается на output, который
	// не объявлен ни одним task указанного job.
	ErrUnknownOutputRef = errors.New("reference to undeclared output")

	// ErrMatrixOutputRef — выражение ссылается на outputs matrix-job.
	// Outputs matrix-инстансов адресуются только по ключу инстанса
	// в отчёте; межджобовые ссылки требуют одиночного производителя.
	ErrMatrixOutputRef = errors.New("reference to outputs of a matrix job")
)

// Ошибки выражений. Фатальны только для вычисляющего job:
// он переходит в FAILED, соседние jobs не затрагиваются.
var (
	// ErrExprSyntax — синтаксическая ошибка выражения.
	ErrExprSyntax = errors.New("expression syntax error")

	// ErrUnresolvedReference — ссылка на несуществующий job/input/output.
	ErrUnresolvedReference = errors.New("unresolved reference")
)

// Ошибки Output Store.
var (
	// ErrDuplicateOutput — повторная запись (job, key).
	// Outputs пишутся ровно один раз.
	ErrDuplicateOutput = errors.New("output already written")

	// ErrMissingOutput — чтение незаписанного output.
	ErrMissingOutput = errors.New("output not found")
)

// Ошибки валидации trigger inputs. Фатальны: run не стартует.
var (
	// ErrInvalidTriggerInput — значение вне списка допустимых choices.
	ErrInvalidTriggerInput = errors.New("invalid trigger input")

	// ErrMissingTriggerInput — не передан обязательный параметр.
	ErrMissingTriggerInput = errors.New("missing required trigger input")

	// ErrUnknownTriggerInput — передан необъявленный параметр.
	ErrUnknownTriggerInput = errors.New("unknown trigger input")
)

// Ошибки выполнения tasks. Контейнятся в одном job-инстансе.
var (
	// ErrUnknownTaskPlugin — нет плагина для данного идентификатора task.
	ErrUnknownTaskPlugin = errors.New("unknown task plugin")

	// ErrMissingDeclaredOutput — task успешен, но не произвёл
	// объявленный output.
	ErrMissingDeclaredOutput = errors.New("declared output not produced")

	// ErrTaskTimeout — task превысил таймаут.
	ErrTaskTimeout = errors.New("task execution timeout")
)

// GraphError — ошибка построения графа с контекстом.
type GraphError struct {
	JobID   string // ID job, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	if e.JobID != "" {
		return "job " + e.JobID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// NewGraphError создаёт новую ошибку построения графа.
func NewGraphError(jobID, field, message string, err error) *GraphError {
	return &GraphError{
		JobID:   jobID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
