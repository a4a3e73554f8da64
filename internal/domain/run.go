package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerKind — способ запуска run.
type TriggerKind string

const (
	// TriggerManual — ручной запуск через API/CLI.
	TriggerManual TriggerKind = "manual"

	// TriggerPush — запуск по push-событию.
	TriggerPush TriggerKind = "push"

	// TriggerSchedule — запуск по расписанию.
	TriggerSchedule TriggerKind = "schedule"
)

// Run — экземпляр выполнения pipeline.
//
// Run создаётся когда:
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
// - Приходит push-событие
//
// Run выполняет конкретную версию pipeline. Его состояние
// (trigger inputs, outputs, статусы инстансов) живёт ровно один run
// и не разделяется между запусками.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline, который выполняется.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — версия pipeline, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Trigger — способ запуска.
	Trigger TriggerKind `json:"trigger"`

	// Inputs — входные параметры, переданные при запуске.
	// Проверены против PipelineSpec.On.Inputs до построения графа.
	Inputs map[string]string `json:"inputs,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled runs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
