// Package httpserver exposes the conversation and task API over JSON HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mouimet-infinisoft/ibrain2024/internal/events"
	"github.com/mouimet-infinisoft/ibrain2024/internal/orchestrator"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskstore"
	"github.com/mouimet-infinisoft/ibrain2024/internal/workflow"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/id"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// messageIDs produces time-ordered ids so history scans come back in
// chronological order.
var messageIDs = id.NewGenerator()

// Deps are the collaborators the server surfaces.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Workflows    *workflow.Registry
	Store        *taskstore.Store
	Tasks        orchestrator.Enqueuer
	Hub          *events.Hub
	Health       func(ctx context.Context) error
	Logger       log.Logger
}

type Server struct {
	deps Deps
	log  log.Logger
	srv  *http.Server
	lis  net.Listener
}

// New builds the Server and its routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, log: deps.Logger.WithComponent("http")}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/v1/tasks/enqueue", s.handleTaskEnqueue)
	mux.HandleFunc("/v1/tasks/get", s.handleTaskGet)
	mux.HandleFunc("/v1/workflows", s.handleWorkflows)
	mux.HandleFunc("/v1/workflows/pause", s.handlePause)
	mux.HandleFunc("/v1/workflows/resume", s.handleResume)
	mux.HandleFunc("/v1/notifications", s.handleNotificationsSSE)
	s.srv = &http.Server{Handler: cors(mux)}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.log.Info("http server listening", log.F("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type messageReq struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// handleMessages serves POST (process one message) and GET (history).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.processMessage(w, r)
	case http.MethodGet:
		s.messageHistory(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) processMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "userId and message are required")
		return
	}
	if err := s.deps.Store.InsertMessage(taskstore.Message{
		ID:             messageIDs.Next().String(),
		ConversationID: req.UserID,
		Role:           "user",
		Content:        req.Message,
	}); err != nil {
		s.log.Error("record user message", log.Err(err), log.F("userId", req.UserID))
	}
	reply := s.deps.Orchestrator.ProcessMessage(r.Context(), req.UserID, req.Message)
	writeJSON(w, http.StatusOK, map[string]string{
		"userId": req.UserID,
		"reply":  reply,
	})
}

func (s *Server) messageHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.deps.Store.Messages(userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load messages failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type enqueueReq struct {
	Queue    string          `json:"queue"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	JobID    string          `json:"jobId"`
	Priority string          `json:"priority"`
	DelayMs  int64           `json:"delayMs"`
}

func (s *Server) handleTaskEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Queue == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "queue and action are required")
		return
	}
	task, err := s.deps.Tasks.Enqueue(r.Context(), req.Queue, req.Action, req.Payload, taskqueue.JobOptions{
		JobID:    req.JobID,
		Priority: taskqueue.Priority(req.Priority),
		Delay:    time.Duration(req.DelayMs) * time.Millisecond,
	})
	if errors.Is(err, taskqueue.ErrUnknownQueue) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	rec, err := s.deps.Store.Get(id)
	if errors.Is(err, taskstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load task failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defs := s.deps.Workflows.All()
	// semantic vectors are large and internal; strip them from the listing
	for i := range defs {
		defs[i].SemanticVector = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": defs})
}

type userReq struct {
	UserID string `json:"userId"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.instanceStateChange(w, r, s.deps.Orchestrator.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.instanceStateChange(w, r, s.deps.Orchestrator.Resume)
}

func (s *Server) instanceStateChange(w http.ResponseWriter, r *http.Request, change func(string) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req userReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := change(req.UserID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotificationsSSE streams task notifications for one user (or all
// users without a userId) as server-sent events.
func (s *Server) handleNotificationsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Hub == nil {
		writeError(w, http.StatusNotFound, "notifications disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, cancel := s.deps.Hub.Subscribe(r.URL.Query().Get("userId"), 32)
	defer cancel()
	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), b...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
