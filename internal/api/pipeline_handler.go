package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
)

// ListPipelines возвращает список всех pipelines.
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelineRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	resp := make([]PipelineResponse, 0, len(pipelines))
	for _, p := range pipelines {
		resp = append(resp, PipelineFromDomain(p))
	}

	List(w, resp, len(resp))
}

// CreatePipeline создаёт новый pipeline.
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	pipeline := domain.Pipeline{
		ID:        uuid.New(),
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.pipelineRepo.Create(r.Context(), &pipeline); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	Created(w, PipelineFromDomain(pipeline))
}

// GetPipeline возвращает pipeline по ID.
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// UpdatePipeline обновляет имя и флаг активности pipeline.
func (h *Handler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req UpdatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			BadRequest(w, "name must not be empty")
			return
		}
		pipeline.Name = name
	}
	if req.IsActive != nil {
		pipeline.IsActive = *req.IsActive
	}

	if err := h.pipelineRepo.Update(r.Context(), pipeline); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// DeletePipeline удаляет pipeline вместе с версиями, runs и schedules.
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.pipelineRepo.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	NoContent(w)
}

// ListPipelineVersions возвращает все версии pipeline.
func (h *Handler) ListPipelineVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	versions, err := h.pipelineRepo.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	resp := make([]PipelineVersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, PipelineVersionFromDomain(v))
	}

	List(w, resp, len(resp))
}

// CreatePipelineVersion создаёт новую версию со спецификацией.
//
// Спецификация проверяется статически до сохранения: структура графа,
// matrix, условия и ссылки на outputs. Невалидная спецификация
// отклоняется с 400.
func (h *Handler) CreatePipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreatePipelineVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if _, err := engine.BuildGraph(&req.Spec); err != nil {
		SpecInvalid(w, err)
		return
	}

	// Проверяем существование pipeline до вставки версии.
	if _, err := h.pipelineRepo.GetByID(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	version, err := h.pipelineRepo.CreateVersion(r.Context(), id, req.Spec)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Created(w, PipelineVersionFromDomain(*version))
}

// GetPipelineVersion возвращает конкретную версию pipeline.
func (h *Handler) GetPipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || versionNum < 1 {
		BadRequest(w, "invalid version number")
		return
	}

	version, err := h.pipelineRepo.GetVersion(r.Context(), id, versionNum)
	if HandleRepoError(w, h.logger, err, "version not found") {
		return
	}

	Success(w, PipelineVersionFromDomain(*version))
}
