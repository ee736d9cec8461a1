package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"counsel/internal/api"
	"counsel/internal/config"
	"counsel/internal/logging"
	"counsel/internal/services"
	"counsel/internal/services/docparse"
	"counsel/internal/stream"
	"counsel/internal/workflow"
)

const (
	// multipartSlack covers form boundaries and headers around the file part.
	multipartSlack   = 1 << 20
	maxChatBody      = 64 << 10
	keepAliveEvery   = 15 * time.Second
	retryAfterSecond = "5"
	requestIDHeader  = "X-Request-ID"
)

type apiServer struct {
	bind     string
	token    string
	maxBytes int64
	logger   *slog.Logger
	daemon   *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:     bind,
		token:    cfg.Paths.APIToken,
		maxBytes: cfg.Parser.MaxBytes,
		logger:   logger,
		daemon:   d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      cfg.InferenceTimeout() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/sessions", s.handleSubmit)
	protected.HandleFunc("GET /api/sessions", s.handleSessions)
	protected.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	protected.HandleFunc("DELETE /api/sessions/{id}", s.handleEnd)
	protected.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	protected.HandleFunc("POST /api/sessions/{id}/chat", s.handleChat)
	protected.HandleFunc("GET /api/sessions/{id}/chat", s.handleHistory)
	protected.HandleFunc("GET /api/status", s.handleStatus)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("/api/", authMiddleware(s.token, protected))
	return s.withRequestID(mux)
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
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
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
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		APIBind:      status.APIBind,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Health:       api.HealthSlice(status.Health),
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	if status.Cache != nil {
		payload.Cache = api.FromCacheStats(status.CachePath, *status.Cache)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.readUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxBytes))
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID, _ := services.RequestIDFromContext(r.Context())
	id, err := s.daemon.workflow.Submit(r.Context(), workflow.Submission{
		Filename:  filename,
		Data:      data,
		RequestID: requestID,
	})
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+id)
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{SessionID: id})
}

// readUpload accepts either a multipart form with a "file" part or a raw
// body named by the filename query parameter.
func (s *apiServer) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := s.maxBytes
	if limit <= 0 {
		limit = docparse.DefaultMaxBytes
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, fmt.Errorf("multipart upload requires a file part: %w", err)
		}
		defer file.Close()
		if header.Size > limit {
			return "", nil, &http.MaxBytesError{Limit: limit}
		}
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		return filepath.Base(header.Filename), data, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		filename = "upload.txt"
	}
	return filepath.Base(filename), data, nil
}

func (s *apiServer) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: api.FromResults(s.daemon.workflow.Sessions())})
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.daemon.workflow.Result(r.PathValue("id"))
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromResult(res))
}

func (s *apiServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.workflow.End(r.Context(), r.PathValue("id")); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "chat body must be {\"message\": \"...\"}")
		return
	}
	reply, err := s.daemon.workflow.Chat(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ChatResponse{Reply: reply})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.daemon.workflow.ChatHistory(r.PathValue("id"))
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ChatHistoryResponse{Messages: api.FromMessages(history)})
}

// handleEvents relays the session stream as Server-Sent Events. Returning
// before the terminal event (client gone, server shutdown) detaches the
// consumer, which lets the orchestrator cancel an abandoned session.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, release, err := s.daemon.workflow.Stream(id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	defer release()

	rc := http.NewResponseController(w)
	// Streams outlive the server-wide write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	logger := s.log().With(logging.String(logging.FieldSessionID, id))
	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event stream client disconnected")
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				logger.Debug("event stream write failed", logging.Error(err))
				return
			}
			_ = rc.Flush()
			if evt.Kind.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, evt stream.Event) error {
	data, err := json.Marshal(api.FromEvent(evt))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Sequence, evt.Kind, data)
	return err
}

// statusFor maps orchestrator and collaborator errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound), errors.Is(err, stream.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrEmptyMessage), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrBusy), errors.Is(err, workflow.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, workflow.ErrChatNotReady), errors.Is(err, stream.ErrAttached):
		return http.StatusConflict
	case errors.Is(err, stream.ErrGone):
		return http.StatusGone
	case errors.Is(err, context.Canceled):
		return 499
	case services.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, services.ErrExternalTool), errors.Is(err, services.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeWorkflowError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSecond)
	}
	if status >= http.StatusInternalServerError {
		s.log().Warn("api request failed", logging.Error(err), logging.Int("status", status))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := services.WithRequestID(r.Context(), requestID)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		s.log().Debug("api request",
			logging.String(logging.FieldCorrelationID, requestID),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", sw.status),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

// statusWriter records the response status. Unwrap keeps
// http.ResponseController able to flush and clear deadlines.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
