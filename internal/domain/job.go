package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobInstance — одно конкретное воплощение JobSpec внутри run.
//
// Для job без matrix создаётся ровно один инстанс;
// для matrix-job — по инстансу на каждую комбинацию осей.
// Идентичность инстанса — пара (job ID, координата matrix).
//
// JobInstance создаётся при построении графа и выполняется Worker'ом.
type JobInstance struct {
	// ID — уникальный идентификатор инстанса.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// JobID — ID job из PipelineSpec (соответствует JobSpec.ID).
	JobID string `json:"job_id"`

	// Key — полный ключ инстанса: JobID для одиночных jobs,
	// "JobID[v1,v2]" для matrix-инстансов. Уникален в рамках run.
	Key string `json:"key"`

	// Coordinate — координата matrix (ось → значение).
	// Пустая для jobs без matrix.
	Coordinate map[string]string `json:"coordinate,omitempty"`

	// Attempt — номер попытки (начиная с 1). Увеличивается при retry.
	Attempt int `json:"attempt"`

	// Status — текущий статус инстанса.
	Status JobStatus `json:"status"`

	// Outputs — результаты выполнения (ключ → скалярное значение).
	// Записываются ровно один раз, атомарно, при успехе.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Logs — накопленные строки логов tasks.
	Logs []string `json:"logs,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания инстанса.
	CreatedAt time.Time `json:"created_at"`
}

// InstanceKey строит ключ инстанса из ID job и координаты matrix.
//
// Формат детерминирован: значения осей в лексикографическом порядке
// имён осей: "build[amd64,linux]". Для пустой координаты — сам jobID.
//
// Ключ инъективен по координате: запятая и обратный слэш в значениях
// осей экранируются, поэтому разные координаты никогда не дают
// одинаковый ключ.
func InstanceKey(jobID string, coord map[string]string) string {
	if len(coord) == 0 {
		return jobID
	}

	axes := make([]string, 0, len(coord))
	for name := range coord {
		axes = append(axes, name)
	}
	sort.Strings(axes)

	values := make([]string, len(axes))
	for i, name := range axes {
		values[i] = escapeAxisValue(coord[name])
	}

	return jobID + "[" + strings.Join(values, ",") + "]"
}

// escapeAxisValue экранирует разделители ключа в значении оси.
func escapeAxisValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, ",", `\,`)
}

// Duration возвращает продолжительность выполнения.
func (j *JobInstance) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// IsFinished возвращает true, если инстанс в терминальном статусе.
func (j *JobInstance) IsFinished() bool {
	return j.Status.IsTerminal()
}

// MarkReady переводит инстанс в статус READY (очередь на выполнение).
func (j *JobInstance) MarkReady() {
	j.Status = JobStatusReady
}

// MarkRunning переводит инстанс в статус RUNNING.
func (j *JobInstance) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Attempt++
}

// MarkSucceeded переводит инстанс в статус SUCCEEDED с результатами.
func (j *JobInstance) MarkSucceeded(outputs map[string]string) {
	now := time.Now()
	j.Status = JobStatusSucceeded
	j.FinishedAt = &now
	j.Outputs = outputs
}

// MarkFailed переводит инстанс в статус FAILED с ошибкой.
func (j *JobInstance) MarkFailed(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.FinishedAt = &now
	j.Error = err
}

// MarkSkipped переводит инстанс в статус SKIPPED.
func (j *JobInstance) MarkSkipped() {
	now := time.Now()
	j.Status = JobStatusSkipped
	j.FinishedAt = &now
}

// ResetForRetry подготавливает инстанс к повторной попытке.
// Сбрасывает статус в READY, очищает ошибку.
func (j *JobInstance) ResetForRetry() {
	j.Status = JobStatusReady
	j.StartedAt = nil
	j.FinishedAt = nil
	j.Error = ""
	// Attempt увеличится при следующем MarkRunning()
}

// CanRetry проверяет, можно ли сделать ещё одну попытку.
func (j *JobInstance) CanRetry(maxAttempts int) bool {
	return j.Attempt < maxAttempts
}
