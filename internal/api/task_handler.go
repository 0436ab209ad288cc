package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/api/shared"
	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/scheduler"
)

// TaskHandler serves the batch task CRUD and lifecycle endpoints.
type TaskHandler struct {
	scheduler *scheduler.Scheduler
	defaults  TaskDefaults
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(sched *scheduler.Scheduler, defaults TaskDefaults, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		scheduler: sched,
		defaults:  defaults,
		logger:    logger.With("component", "task_handler"),
	}
}

// CreateTask handles POST /tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	items := make([]*domain.TaskItem, 0, len(req.Items))
	for _, ir := range req.Items {
		item, err := domain.NewTaskItem(ir.Prompt, ir.SourceImages, ir.Mask)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
			return
		}
		items = append(items, item)
	}

	task, err := h.scheduler.CreateTask(r.Context(), req.Name, domain.TaskType(req.Type),
		items, req.Config.toDomain(h.defaults))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// ListTasks handles GET /tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.scheduler.ListTasks())
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, err := h.scheduler.GetTask(taskID)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// DeleteTask handles DELETE /tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := h.scheduler.DeleteTask(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartTask handles POST /tasks/{id}/start.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduler.StartTask)
}

// PauseTask handles POST /tasks/{id}/pause.
func (h *TaskHandler) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduler.PauseTask)
}

// ResumeTask handles POST /tasks/{id}/resume.
func (h *TaskHandler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduler.ResumeTask)
}

// StopTask handles POST /tasks/{id}/stop.
func (h *TaskHandler) StopTask(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduler.StopTask)
}

// RetryTask handles POST /tasks/{id}/retry. With ?scope=failed only the
// failed items are reset; the default resets the whole task.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scope") == "failed" {
		h.lifecycle(w, r, h.scheduler.RetryFailedItems)
		return
	}
	h.lifecycle(w, r, h.scheduler.RetryTask)
}

// RetryTaskItem handles POST /tasks/{id}/items/{itemID}/retry.
func (h *TaskHandler) RetryTaskItem(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid item ID")
		return
	}

	if err := h.scheduler.RetryTaskItem(r.Context(), taskID, itemID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	h.respondTask(w, r, taskID)
}

// CountTasks handles GET /tasks/count.
func (h *TaskHandler) CountTasks(w http.ResponseWriter, r *http.Request) {
	count, err := h.scheduler.CountTasks(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: count})
}

// CleanupTasks handles POST /tasks/cleanup.
func (h *TaskHandler) CleanupTasks(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	removed, err := h.scheduler.CleanupOldTasks(r.Context(), req.MaxKeep)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CleanupResponse{Removed: removed})
}

// ClearTasks handles DELETE /tasks. Unlike cleanup it removes every
// task, active ones included.
func (h *TaskHandler) ClearTasks(w http.ResponseWriter, r *http.Request) {
	removed, err := h.scheduler.ClearTasks(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CleanupResponse{Removed: removed})
}

// lifecycle runs one scheduler state-transition operation and responds
// with the resulting task snapshot.
func (h *TaskHandler) lifecycle(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, taskID uuid.UUID) error,
) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	h.respondTask(w, r, taskID)
}

// respondTask writes the current snapshot of a task.
func (h *TaskHandler) respondTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	task, err := h.scheduler.GetTask(taskID)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// taskID parses the {id} URL parameter.
func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}
