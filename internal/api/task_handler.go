package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/tasktrack/internal/api/shared"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/service"
)

// TaskHandler serves the /api/tasks endpoints.
type TaskHandler struct {
	taskService service.TaskService
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(taskService service.TaskService, logger *slog.Logger) *TaskHandler {
	if taskService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("taskService cannot be nil for TaskHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskHandler{
		taskService: taskService,
		logger:      logger.With(slog.String("component", "task_handler")),
	}
}

// Routes registers the task endpoints on r. The caller is expected to have
// installed the authentication middleware.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/admin", h.AdminListTasks)
		r.Get("/stats", h.Stats)
		r.Get("/summary", h.Summary)
		r.Get("/{id}", h.GetTask)
		r.Delete("/{id}", h.DeleteTask)
	})
}

// CreateTask handles POST /api/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("malformed create task body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, SanitizeValidationError(err))
		return
	}

	resp, err := h.taskService.CreateTask(r.Context(), principal, service.CreateTaskRequest{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, CreateTaskResponse{
		Task:    taskToResponse(resp.Task),
		Message: resp.Message,
	})
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp, err := h.taskService.GetTask(r.Context(), principal, id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, GetTaskResponse{
		Task:   taskToResponse(resp.Task),
		Cached: resp.Cached,
	})
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	req, err := parseListRequest(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp, err := h.taskService.ListTasks(r.Context(), principal, req)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ListTasksResponse{Tasks: tasksToListItems(resp.Tasks)})
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp, err := h.taskService.DeleteTask(r.Context(), principal, id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DeleteTaskResponse{Message: resp.Message})
}

// AdminListTasks handles GET /api/tasks/admin.
func (h *TaskHandler) AdminListTasks(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req service.AdminListRequest
	var err error
	if req.Status, err = parseStatusParam(r); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if req.Limit, err = parseIntParam(r, "limit"); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if req.Offset, err = parseIntParam(r, "offset"); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp, err := h.taskService.AdminListTasks(r.Context(), principal, req)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, AdminListResponse{
		Count: resp.Count,
		Tasks: tasksToResponses(resp.Tasks),
	})
}

// Stats handles GET /api/tasks/stats.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	resp, err := h.taskService.Stats(r.Context(), principal)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{Stats: resp.Stats, Total: resp.Total})
}

// Summary handles GET /api/tasks/summary.
func (h *TaskHandler) Summary(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	summary, err := h.taskService.AdminSummary(r.Context(), principal)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SummaryResponse{
		Stats:       summary.Rows(),
		Total:       summary.Total,
		GeneratedAt: summary.GeneratedAt,
	})
}

// HealthHandler answers GET /health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
