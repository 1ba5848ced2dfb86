package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/audit"
	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"go.uber.org/zap"
)

// Version is reported by /health.
var Version = "0.1.0"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
	Active  int    `json:"active_tasks"`
}

// Server provides the HTTP API for cowork.
type Server struct {
	service *Service
	bus     *audit.Broadcaster
	addr    string
	server  *http.Server
	log     *logger.Logger

	heartbeat time.Duration
}

// NewServer creates a new HTTP server. bus may be nil, in which case the
// event stream endpoint is unavailable.
func NewServer(service *Service, bus *audit.Broadcaster, addr string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		service:   service,
		bus:       bus,
		addr:      addr,
		log:       log.Component("http"),
		heartbeat: 15 * time.Second,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/workspaces", s.handleWorkspaces)

	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	mux.HandleFunc("/approvals", s.handleApprovals)
	mux.HandleFunc("/approvals/", s.handleApprovalByID)

	mux.HandleFunc("/events/stream", s.handleEventStream)

	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves the API on ln and blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the event stream is long-lived.
	}
	s.log.Info("starting cowork daemon", zap.String("addr", ln.Addr().String()))
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Active:  len(s.service.orch.ActiveTaskIDs()),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Workspace Handlers ---

type createWorkspaceRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createWorkspaceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ws, err := s.service.CreateWorkspace(r.Context(), req.Name, req.Path)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ws)
	case http.MethodGet:
		list, err := s.service.ListWorkspaces(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []models.Workspace{}
		}
		writeJSON(w, http.StatusOK, list)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Task Handlers ---

type createTaskRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
	Prompt      string `json:"prompt"`
	// Start hands the task to an executor right away.
	Start bool `json:"start"`
}

type messageRequest struct {
	Message string `json:"message"`
}

// handleTasks handles POST /tasks and GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		tasks, err := s.service.ListTasks(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := s.service.CreateTask(r.Context(), req.WorkspaceID, req.Title, req.Prompt)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if req.Start {
		task, err = s.service.StartTask(r.Context(), task.ID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleTaskByID handles /tasks/{id}/*
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	ctx := r.Context()
	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err := s.service.GetTask(ctx, taskID)
		s.respondTask(w, task, err)
	case action == "events" && r.Method == http.MethodGet:
		events, err := s.service.ListEvents(ctx, taskID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if events == nil {
			events = []models.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	case action == "start" && r.Method == http.MethodPost:
		task, err := s.service.StartTask(ctx, taskID)
		s.respondTask(w, task, err)
	case action == "cancel" && r.Method == http.MethodPost:
		task, err := s.service.CancelTask(ctx, taskID)
		s.respondTask(w, task, err)
	case action == "pause" && r.Method == http.MethodPost:
		task, err := s.service.PauseTask(ctx, taskID)
		s.respondTask(w, task, err)
	case action == "resume" && r.Method == http.MethodPost:
		task, err := s.service.ResumeTask(ctx, taskID)
		s.respondTask(w, task, err)
	case action == "complete" && r.Method == http.MethodPost:
		task, err := s.service.CompleteTask(ctx, taskID)
		s.respondTask(w, task, err)
	case action == "message" && r.Method == http.MethodPost:
		var req messageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		task, err := s.service.SendMessage(ctx, taskID, req.Message)
		s.respondTask(w, task, err)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) respondTask(w http.ResponseWriter, task *models.Task, err error) {
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Approval Handlers ---

type respondRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list, err := s.service.ListApprovals(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []models.Approval{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleApprovalByID handles POST /approvals/{id}/respond
func (s *Server) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	id, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/approvals/"), "/")
	if id == "" || action != "respond" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req respondRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}

	a, err := s.service.RespondToApproval(r.Context(), id, *req.Approved)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// statusFor maps service and orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orchestrator.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, orchestrator.ErrTaskAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrApprovalDenied):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}
