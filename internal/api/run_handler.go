package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
	"github.com/mkraev/Conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
//
// Query-параметры: pipeline_id, status, limit (по умолчанию 50), offset.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Limit:  mustParseInt(r.URL.Query().Get("limit"), 50),
		Offset: mustParseInt(r.URL.Query().Get("offset"), 0),
	}

	if raw := r.URL.Query().Get("pipeline_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Status = domain.RunStatus(raw)
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, RunFromDomain(run))
	}

	List(w, resp, len(resp))
}

// CreateRun запускает pipeline вручную.
//
// Если версия не указана, берётся последняя. Inputs проверяются
// против спецификации триггеров до постановки в очередь. Повторный
// запрос с тем же idempotency_key возвращает существующий run.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.IdempotencyKey != "" {
		existing, err := h.runRepo.GetByIdempotencyKey(r.Context(), pipelineID, req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	var version *domain.PipelineVersion
	if req.Version != nil {
		version, err = h.pipelineRepo.GetVersion(r.Context(), pipelineID, *req.Version)
	} else {
		version, err = h.pipelineRepo.GetLatestVersion(r.Context(), pipelineID)
	}
	if HandleRepoError(w, h.logger, err, "pipeline version not found") {
		return
	}

	inputs, err := engine.ValidateTriggerInputs(version.Spec.On, req.Inputs)
	if err != nil {
		InvalidInputs(w, err)
		return
	}

	run := domain.Run{
		ID:             uuid.New(),
		PipelineID:     pipelineID,
		Version:        version.Version,
		Status:         domain.RunStatusPending,
		Trigger:        domain.TriggerManual,
		Inputs:         inputs,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.runRepo.Create(r.Context(), &run); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunPending(r.Context(), run.ID); err != nil {
			// Оркестратор подхватит run через polling.
			h.logger.Warn("publish run.pending failed", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(run))
}

// GetRun возвращает run по ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run.
//
// PENDING run отменяется сразу в базе. RUNNING run отменяется через
// оркестратор: публикуется run.cancel, оркестратор пропускает
// незапущенные инстансы и помечает активные как упавшие.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run already finished")
		return
	}

	if run.Status == domain.RunStatusPending {
		run.MarkCancelled()
		if err := h.runRepo.Update(r.Context(), run); err != nil {
			HandleRepoError(w, h.logger, err, "run not found")
			return
		}
		Success(w, RunFromDomain(*run))
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunCancel(r.Context(), run.ID); err != nil {
			InternalError(w, h.logger, err)
			return
		}
	}

	Success(w, RunFromDomain(*run))
}

// ListRunJobs возвращает все job-инстансы run.
func (h *Handler) ListRunJobs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if _, err := h.runRepo.GetByID(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "run not found")
		return
	}

	instances, err := h.jobRepo.GetByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	resp := make([]JobInstanceResponse, 0, len(instances))
	for _, inst := range instances {
		resp = append(resp, JobInstanceFromDomain(inst))
	}

	List(w, resp, len(resp))
}

// GetRunReport возвращает итоговый отчёт по завершённому run.
func (h *Handler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if !run.IsFinished() {
		InvalidState(w, "run not finished")
		return
	}

	instances, err := h.jobRepo.GetByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	report := domain.RunReport{
		RunID:  run.ID,
		Status: run.Status,
		Jobs:   make([]domain.JobReport, 0, len(instances)),
	}
	if run.StartedAt != nil {
		report.StartedAt = *run.StartedAt
	}
	if run.FinishedAt != nil {
		report.FinishedAt = *run.FinishedAt
	}

	for _, inst := range instances {
		report.Jobs = append(report.Jobs, domain.JobReport{
			JobID:      inst.JobID,
			Key:        inst.Key,
			Coordinate: inst.Coordinate,
			Status:     inst.Status,
			Outputs:    inst.Outputs,
			DurationMs: inst.Duration().Milliseconds(),
			Error:      inst.Error,
		})
	}

	Success(w, report)
}

// mustParseInt парсит query-параметр в int с фолбэком на значение по умолчанию.
func mustParseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
