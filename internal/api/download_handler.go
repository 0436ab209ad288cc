package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/api/shared"
	"github.com/imgbatch/imgbatch/internal/download"
)

// DownloadHandler serves the download queue endpoints.
type DownloadHandler struct {
	queue  *download.Queue
	logger *slog.Logger
}

// NewDownloadHandler creates a DownloadHandler.
func NewDownloadHandler(queue *download.Queue, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		queue:  queue,
		logger: logger.With("component", "download_handler"),
	}
}

// ListJobs handles GET /downloads. It returns the jobs currently queued
// or in flight.
func (h *DownloadHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.queue.Jobs())
}

// RetryDownloads handles POST /downloads/retry. With a task ID in the
// body only that task's missing downloads are re-enqueued; without one
// every completed-but-undownloaded result across all tasks is.
func (h *DownloadHandler) RetryDownloads(w http.ResponseWriter, r *http.Request) {
	var req RetryDownloadsRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	var (
		accepted int
		err      error
	)
	if req.TaskID != "" {
		taskID, parseErr := uuid.Parse(req.TaskID)
		if parseErr != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
			return
		}
		accepted, err = h.queue.RetryFailed(r.Context(), taskID)
	} else {
		accepted, err = h.queue.RetryAll(r.Context())
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, RetryDownloadsResponse{Accepted: accepted})
}
