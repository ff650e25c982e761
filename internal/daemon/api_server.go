package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"scribed/internal/api"
	"scribed/internal/config"
	"scribed/internal/discovery"
	"scribed/internal/logging"
	"scribed/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware(cfg.Paths.APIToken, next)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", auth(srv.handleStatus))
	mux.HandleFunc("/api/queue", auth(srv.handleQueue))
	mux.HandleFunc("/api/queue/", auth(srv.handleQueueItem))
	mux.HandleFunc("/api/transcripts/", auth(srv.handleTranscript))
	mux.HandleFunc("/api/channels", auth(srv.handleChannels))
	mux.HandleFunc("/api/channels/", auth(srv.handleChannelItem))
	mux.HandleFunc("/api/process", auth(srv.handleProcess))
	mux.HandleFunc("/api/cleanup", auth(srv.handleCleanup))
	mux.HandleFunc("/api/run-once", auth(srv.handleRunOnce))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	tasks, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Tasks: api.FromTasks(tasks)})
}

// handleQueueItem serves /api/queue/{id}, /api/queue/{id}/retry, and the
// collection-wide /api/queue/retry and /api/queue/clear actions.
func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	switch rest {
	case "retry":
		s.handleRetryAll(w, r)
		return
	case "clear":
		s.handleClear(w, r)
		return
	}

	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetTask(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		s.handleRemoveTask(w, r, id)
	case action == "retry" && r.Method == http.MethodPost:
		s.handleRetryTask(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request, id int64) {
	task, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(task)})
}

func (s *apiServer) handleRemoveTask(w http.ResponseWriter, r *http.Request, id int64) {
	removed, err := s.daemon.store.Remove(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: 1})
}

func (s *apiServer) handleRetryTask(w http.ResponseWriter, r *http.Request, id int64) {
	retried, err := s.daemon.store.RetryFailed(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if retried == 0 {
		s.writeError(w, http.StatusConflict, "task is not failed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.RetryResponse{Retried: retried})
}

func (s *apiServer) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	retried, err := s.daemon.store.RetryFailed(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RetryResponse{Retried: retried})
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var (
		removed int64
		err     error
	)
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "completed":
		removed, err = s.daemon.store.ClearCompleted(r.Context())
	case "failed":
		removed, err = s.daemon.store.ClearFailed(r.Context())
	case "all":
		removed, err = s.daemon.store.Clear(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown scope %q", scope))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	videoID := strings.TrimPrefix(r.URL.Path, "/api/transcripts/")
	if videoID == "" || strings.Contains(videoID, "/") {
		s.writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	transcript, err := s.daemon.store.GetTranscript(r.Context(), videoID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if transcript == nil {
		s.writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.TranscriptResponse{Transcript: api.FromTranscript(transcript)})
}

func (s *apiServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channels, err := s.daemon.store.ListChannels(r.Context(), false)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.ChannelListResponse{Channels: api.FromChannels(channels)})
	case http.MethodPost:
		var req api.AddChannelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		channelID := strings.TrimSpace(req.ChannelID)
		if channelID == "" {
			s.writeError(w, http.StatusBadRequest, "channelId is required")
			return
		}
		feedURL := strings.TrimSpace(req.URL)
		if feedURL == "" {
			feedURL = discovery.FeedURL(channelID)
		}
		channel, err := s.daemon.store.AddChannel(r.Context(), channelID, strings.TrimSpace(req.Name), feedURL)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, api.ChannelResponse{Channel: api.FromChannel(channel)})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleChannelItem serves /api/channels/{channelId} and
// /api/channels/{channelId}/active.
func (s *apiServer) handleChannelItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	channelID, action, _ := strings.Cut(rest, "/")
	if channelID == "" {
		s.writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		removed, err := s.daemon.store.RemoveChannel(r.Context(), channelID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !removed {
			s.writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		s.writeJSON(w, http.StatusOK, nil)
	case action == "active" && r.Method == http.MethodPost:
		var req api.SetChannelActiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		changed, err := s.daemon.store.SetChannelActive(r.Context(), channelID, req.Active)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !changed {
			s.writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		channel, err := s.daemon.store.GetChannel(r.Context(), channelID)
		if err != nil || channel == nil {
			s.writeError(w, http.StatusInternalServerError, "channel lookup failed")
			return
		}
		s.writeJSON(w, http.StatusOK, api.ChannelResponse{Channel: api.FromChannel(channel)})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	videoURL := strings.TrimSpace(req.URL)
	if videoURL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	task, err := s.daemon.workflow.ProcessSingle(r.Context(), videoURL, req.Force)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(task)})
}

func (s *apiServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.CleanupRequest
	if r.Body != nil {
		// Body is optional; an empty body means a threshold sweep.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	result, err := s.daemon.reclaimer.Sweep(r.Context(), req.Force)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSweepResult(result))
}

func (s *apiServer) handleRunOnce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	admitted, processed, err := s.daemon.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunOnceResponse{Admitted: admitted, Processed: processed})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
