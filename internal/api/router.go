package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apimiddleware "github.com/imgbatch/imgbatch/internal/api/middleware"
	"github.com/imgbatch/imgbatch/internal/api/shared"
)

// RouterDeps bundles everything the HTTP surface needs. Auth is
// optional; a nil value leaves the API open, which is only sensible for
// local single-user deployments.
type RouterDeps struct {
	Tasks     *TaskHandler
	Downloads *DownloadHandler
	Auth      *apimiddleware.AuthMiddleware
}

// NewRouter creates and configures the application router with all
// routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.Auth != nil {
				r.Use(deps.Auth.Authenticate)
			}

			// Task endpoints
			r.Post("/tasks", deps.Tasks.CreateTask)
			r.Get("/tasks", deps.Tasks.ListTasks)
			r.Delete("/tasks", deps.Tasks.ClearTasks)
			r.Get("/tasks/count", deps.Tasks.CountTasks)
			r.Post("/tasks/cleanup", deps.Tasks.CleanupTasks)
			r.Get("/tasks/{id}", deps.Tasks.GetTask)
			r.Delete("/tasks/{id}", deps.Tasks.DeleteTask)
			r.Post("/tasks/{id}/start", deps.Tasks.StartTask)
			r.Post("/tasks/{id}/pause", deps.Tasks.PauseTask)
			r.Post("/tasks/{id}/resume", deps.Tasks.ResumeTask)
			r.Post("/tasks/{id}/stop", deps.Tasks.StopTask)
			r.Post("/tasks/{id}/retry", deps.Tasks.RetryTask)
			r.Post("/tasks/{id}/items/{itemID}/retry", deps.Tasks.RetryTaskItem)

			// Download queue endpoints
			r.Get("/downloads", deps.Downloads.ListJobs)
			r.Post("/downloads/retry", deps.Downloads.RetryDownloads)
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
