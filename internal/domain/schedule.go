package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматического запуска pipeline.
//
// Тайминг задаётся одним из двух способов: cron-выражением
// ("0 9 * * *" с учётом timezone) или фиксированным интервалом
// в секундах. Scheduler-сервис хранит в NextDueAt следующий момент
// срабатывания и создаёт run, когда он наступает; создание
// идемпотентно по паре (schedule, момент срабатывания), поэтому
// несколько реплик scheduler не породят дублирующих runs.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// PipelineID — pipeline, который запускает это расписание.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Name — человекочитаемое имя расписания.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение из 5 полей
	// (минуты часы дни месяцы дни_недели). Приоритетнее IntervalSec.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал между запусками в секундах.
	// Действует, только если CronExpr пуст.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс cron-выражения. По умолчанию UTC.
	Timezone string `json:"timezone"`

	// Enabled — выключенное расписание не создаёт runs,
	// но NextDueAt продолжает пересчитываться при изменениях.
	Enabled bool `json:"enabled"`

	// NextDueAt — следующий момент срабатывания (UTC).
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — когда расписание сработало в последний раз.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRunID — run, созданный последним срабатыванием.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	// Inputs — входные параметры каждого создаваемого run.
	Inputs map[string]string `json:"inputs,omitempty"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate проверяет, что расписание описывает хоть какой-то тайминг
// и его timezone существует.
func (s *Schedule) Validate() error {
	if s.CronExpr == "" && s.IntervalSec <= 0 {
		return fmt.Errorf("schedule %q: either cron_expr or positive interval_sec is required", s.Name)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("schedule %q: unknown timezone %q", s.Name, s.Timezone)
		}
	}
	return nil
}

// IsCron возвращает true, если тайминг задан cron-выражением.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если тайминг задан интервалом.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// Interval возвращает интервал как Duration (0 для cron-расписаний).
func (s *Schedule) Interval() time.Duration {
	if !s.IsInterval() {
		return 0
	}
	return time.Duration(s.IntervalSec) * time.Second
}

// Describe возвращает краткое описание тайминга для логов:
// cron-выражение или "@every 30s".
func (s *Schedule) Describe() string {
	if s.IsCron() {
		return s.CronExpr
	}
	if s.IsInterval() {
		return "@every " + s.Interval().String()
	}
	return "none"
}

// IsDue возвращает true, когда расписание включено и его время пришло.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun фиксирует срабатывание: созданный run и следующий момент.
func (s *Schedule) RecordRun(runID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	s.LastRunID = &runID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
