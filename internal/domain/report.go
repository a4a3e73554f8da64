package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunReport — итоговый отчёт о выполнении run.
//
// Отчёт всегда отражает терминальный статус каждого инстанса:
// движок не завершает run, пока хоть один инстанс не терминален.
type RunReport struct {
	// RunID — идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// Status — итоговый статус run.
	Status RunStatus `json:"status"`

	// StartedAt — время начала выполнения.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения.
	FinishedAt time.Time `json:"finished_at"`

	// Jobs — отчёты по каждому job-инстансу.
	Jobs []JobReport `json:"jobs"`
}

// JobReport — отчёт по одному job-инстансу.
type JobReport struct {
	// JobID — ID job из спецификации.
	JobID string `json:"job_id"`

	// Key — полный ключ инстанса (с координатой matrix).
	Key string `json:"key"`

	// Coordinate — координата matrix. Пустая для одиночных jobs.
	Coordinate map[string]string `json:"coordinate,omitempty"`

	// Status — терминальный статус инстанса.
	Status JobStatus `json:"status"`

	// Outputs — результаты инстанса.
	Outputs map[string]string `json:"outputs,omitempty"`

	// DurationMs — продолжительность выполнения в миллисекундах.
	DurationMs int64 `json:"duration_ms"`

	// Error — ошибка, если инстанс упал.
	Error string `json:"error,omitempty"`
}

// Duration возвращает общую продолжительность run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AggregateJobStatus агрегирует статусы инстансов одного job
// для отчётности: FAILED, если упал хоть один инстанс; SKIPPED,
// если пропущены все; иначе SUCCEEDED. Статус каждого инстанса
// при этом отчитывается независимо.
func AggregateJobStatus(statuses []JobStatus) JobStatus {
	if len(statuses) == 0 {
		return JobStatusSkipped
	}

	allSkipped := true
	for _, s := range statuses {
		if s == JobStatusFailed {
			return JobStatusFailed
		}
		if s != JobStatusSkipped {
			allSkipped = false
		}
	}

	if allSkipped {
		return JobStatusSkipped
	}
	return JobStatusSucceeded
}
