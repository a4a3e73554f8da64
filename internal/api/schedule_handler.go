package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/scheduler"
)

// ListSchedules возвращает список schedules.
//
// Query-параметр pipeline_id ограничивает выборку одним pipeline.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	var pipelineID *uuid.UUID
	if raw := r.URL.Query().Get("pipeline_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		pipelineID = &id
	}

	schedules, err := h.scheduleRepo.List(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	resp := make([]ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		resp = append(resp, ScheduleFromDomain(&schedules[i]))
	}

	List(w, resp, len(resp))
}

// CreateSchedule создаёт расписание для pipeline.
//
// Требуется либо cron_expr, либо interval_sec. Timezone по умолчанию UTC.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(req.CronExpr); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	if _, err := h.pipelineRepo.GetByID(r.Context(), pipelineID); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	now := time.Now().UTC()
	sched := domain.Schedule{
		ID:          uuid.New(),
		PipelineID:  pipelineID,
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    req.Timezone,
		Enabled:     req.Enabled,
		Inputs:      req.Inputs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := sched.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	nextDue, err := scheduler.CalculateInitialNextDue(&sched)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	sched.NextDueAt = &nextDue

	if err := h.scheduleRepo.Create(r.Context(), &sched); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	Created(w, ScheduleFromDomain(&sched))
}

// GetSchedule возвращает schedule по ID.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// UpdateSchedule обновляет параметры schedule.
//
// При смене cron/interval/timezone время следующего запуска
// пересчитывается.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	timingChanged := false
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			BadRequest(w, "name must not be empty")
			return
		}
		sched.Name = name
	}
	if req.CronExpr != nil {
		if *req.CronExpr != "" {
			if err := scheduler.ValidateCronExpr(*req.CronExpr); err != nil {
				BadRequest(w, err.Error())
				return
			}
		}
		sched.CronExpr = *req.CronExpr
		timingChanged = true
	}
	if req.IntervalSec != nil {
		sched.IntervalSec = *req.IntervalSec
		timingChanged = true
	}
	if req.Timezone != nil {
		sched.Timezone = *req.Timezone
		timingChanged = true
	}
	if req.Inputs != nil {
		sched.Inputs = *req.Inputs
	}

	if err := sched.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if timingChanged {
		nextDue, err := scheduler.CalculateInitialNextDue(sched)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		sched.NextDueAt = &nextDue
	}
	sched.UpdatedAt = time.Now().UTC()

	if err := h.scheduleRepo.Update(r.Context(), sched); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// DeleteSchedule удаляет schedule.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if err := h.scheduleRepo.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает schedule.
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	sched.Enabled = req.Enabled
	if req.Enabled {
		// Пересчитываем, чтобы не выстрелить залпом за время простоя.
		nextDue, err := scheduler.CalculateInitialNextDue(sched)
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		sched.NextDueAt = &nextDue
	}
	sched.UpdatedAt = time.Now().UTC()

	if err := h.scheduleRepo.Update(r.Context(), sched); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	Success(w, ScheduleFromDomain(sched))
}
