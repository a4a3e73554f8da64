package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — определение CI/CD-конвейера.
//
// Pipeline — это "шаблон" доставки: граф jobs с зависимостями.
// Один pipeline может иметь множество версий (PipelineVersion).
// Каждый запуск (Run) выполняет конкретную версию pipeline.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя pipeline (например, "release", "security-scan").
	Name string `json:"name"`

	// IsActive — флаг активности. Неактивные pipelines не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineVersion — версия pipeline с конкретной спецификацией.
//
// Версионирование позволяет отслеживать историю изменений
// и запускать старые ревизии для сравнения.
type PipelineVersion struct {
	// PipelineID — ссылка на родительский pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Spec — спецификация pipeline в формате JSON.
	Spec PipelineSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineSpec — спецификация pipeline (содержимое JSONB поля spec).
//
// Это "программа" для Conveyor: набор jobs с зависимостями (needs),
// matrix-раскрытием и условиями выполнения. Неизменяема после загрузки.
type PipelineSpec struct {
	// Version — версия формата спецификации (для обратной совместимости).
	Version string `json:"version,omitempty"`

	// Name — имя pipeline (дублирует Pipeline.Name для удобства).
	Name string `json:"name,omitempty"`

	// Description — описание назначения pipeline.
	Description string `json:"description,omitempty"`

	// On — конфигурация триггеров (manual inputs, push, schedule).
	On *Triggers `json:"on,omitempty"`

	// Defaults — настройки по умолчанию для всех jobs.
	Defaults *JobDefaults `json:"defaults,omitempty"`

	// Concurrency — максимум одновременно выполняемых job-инстансов в run.
	// 0 — лимит по умолчанию.
	Concurrency int `json:"concurrency,omitempty"`

	// Jobs — список jobs для выполнения.
	Jobs []JobSpec `json:"jobs"`
}

// Triggers — конфигурация триггеров pipeline.
type Triggers struct {
	// Inputs — параметры ручного запуска.
	// Ключ — имя параметра, значение — его определение.
	Inputs map[string]InputDef `json:"inputs,omitempty"`

	// Push — триггер по push в указанные ветки.
	Push *PushTrigger `json:"push,omitempty"`

	// Schedule — cron-расписания запуска.
	Schedule []string `json:"schedule,omitempty"`
}

// PushTrigger — триггер по push.
type PushTrigger struct {
	// Branches — ветки, push в которые запускает pipeline.
	Branches []string `json:"branches,omitempty"`

	// Tags — теги (glob-паттерны), публикация которых запускает pipeline.
	Tags []string `json:"tags,omitempty"`
}

// InputDef — определение входного параметра запуска.
type InputDef struct {
	// Type — тип параметра: "string", "choice", "boolean".
	Type string `json:"type,omitempty"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию.
	Default string `json:"default,omitempty"`

	// Choices — допустимые значения (для type="choice").
	// Значение вне списка отклоняется до построения графа.
	Choices []string `json:"choices,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty"`
}

// JobDefaults — настройки по умолчанию для jobs.
type JobDefaults struct {
	// Retry — политика повторных попыток.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут выполнения одного task в секундах.
	// 0 — без ограничения.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// JobSpec — определение job в pipeline.
type JobSpec struct {
	// ID — уникальный идентификатор job в рамках pipeline.
	// Используется в needs и для ссылок на outputs.
	ID string `json:"id"`

	// Name — человекочитаемое имя job.
	Name string `json:"name,omitempty"`

	// Needs — список ID jobs, от которых зависит этот job.
	// Job становится кандидатом на запуск только когда все
	// зависимости в терминальном статусе.
	Needs []string `json:"needs,omitempty"`

	// If — условие выполнения: "always()", "success()", "failure()"
	// или произвольное выражение ("inputs.env == 'prod'").
	// По умолчанию — success(): все зависимости успешны.
	If string `json:"if,omitempty"`

	// Matrix — оси matrix-раскрытия в порядке объявления.
	// Job раскрывается в декартово произведение значений осей.
	Matrix []Axis `json:"matrix,omitempty"`

	// Tasks — упорядоченная последовательность tasks.
	// Tasks внутри одного job выполняются строго последовательно.
	Tasks []TaskSpec `json:"tasks"`

	// Retry — политика повторных попыток для этого job.
	// Переопределяет defaults.retry.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут одного task этого job.
	// Переопределяет defaults.timeout_sec.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// Axis — одна ось matrix.
type Axis struct {
	// Name — имя оси (например, "platform").
	Name string `json:"name"`

	// Values — упорядоченный список значений оси.
	Values []string `json:"values"`
}

// TaskSpec — определение task внутри job.
//
// Task — непрозрачный вызов внешнего действия (сборка, скан,
// публикация, нотификация) через единый интерфейс плагинов.
type TaskSpec struct {
	// ID — идентификатор task в рамках job (опционально, для логов).
	ID string `json:"id,omitempty"`

	// Uses — идентификатор плагина: "http", "command", "delay".
	Uses string `json:"uses"`

	// With — входные параметры плагина.
	// Значения могут содержать выражения вида "${{ needs.build.outputs.tag }}".
	With map[string]any `json:"with,omitempty"`

	// Outputs — имена значений, которые task обязуется произвести.
	// Отсутствие объявленного output при успехе — ошибка выполнения.
	Outputs []string `json:"outputs,omitempty"`

	// If — условие выполнения этого task (поверх условия job).
	If string `json:"if,omitempty"`

	// TimeoutSec — таймаут этого task. Переопределяет job и defaults.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// RetryPolicy — политика повторных попыток job.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

// FindJob возвращает JobSpec по ID или nil.
func (s *PipelineSpec) FindJob(jobID string) *JobSpec {
	for i := range s.Jobs {
		if s.Jobs[i].ID == jobID {
			return &s.Jobs[i]
		}
	}
	return nil
}

// TransitiveNeeds возвращает ID всех jobs в цепочке needs указанного
// job, включая транзитивные. Порядок детерминирован: обход в глубину
// по порядку объявления needs.
func (s *PipelineSpec) TransitiveNeeds(jobID string) []string {
	seen := make(map[string]bool)
	var ids []string

	var visit func(id string)
	visit = func(id string) {
		job := s.FindJob(id)
		if job == nil {
			return
		}
		for _, dep := range job.Needs {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			ids = append(ids, dep)
			visit(dep)
		}
	}
	visit(jobID)

	return ids
}

// DeclaresOutput возвращает true, если какой-либо task этого job
// объявляет output с указанным именем.
func (j *JobSpec) DeclaresOutput(key string) bool {
	for i := range j.Tasks {
		for _, out := range j.Tasks[i].Outputs {
			if out == key {
				return true
			}
		}
	}
	return false
}

// HasMatrix возвращает true, если job раскрывается по matrix.
func (j *JobSpec) HasMatrix() bool {
	return len(j.Matrix) > 0
}
