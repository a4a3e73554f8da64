package engine

import (
	"context"

	"github.com/mkraev/Conveyor/internal/domain"
)

// JobExecution — задание на выполнение одного job-инстанса.
type JobExecution struct {
	// RunID — идентификатор run.
	RunID string

	// Key — ключ инстанса в графе.
	Key string

	// Spec — определение job.
	Spec *domain.JobSpec

	// Coordinate — координата matrix инстанса.
	Coordinate map[string]string

	// Scope — область видимости выражений с inputs и данными
	// завершённых зависимостей.
	Scope *Scope

	// Defaults — значения по умолчанию на уровне pipeline.
	Defaults *domain.JobDefaults
}

// JobResult — результат выполнения job-инстанса.
type JobResult struct {
	// Key — ключ инстанса.
	Key string

	// Status — терминальный статус: SUCCEEDED или FAILED.
	Status domain.JobStatus

	// Outputs — значения outputs, объявленных tasks этого job.
	Outputs map[string]string

	// Logs — накопленный лог выполнения.
	Logs string

	// Err — причина падения при Status == FAILED.
	Err error
}

// JobRunner выполняет job-инстансы. Реализации: tasks.Runner
// (выполнение задач плагинами внутри процесса) и stub-реализации
// в тестах планировщика.
type JobRunner interface {
	// RunJob выполняет все tasks инстанса последовательно и
	// возвращает результат. Ошибки выполнения приходят в
	// JobResult.Err, а не во втором возвращаемом значении:
	// возврат error означает невозможность запуска как таковую.
	RunJob(ctx context.Context, exec JobExecution) JobResult
}
