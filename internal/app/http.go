package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/auth"
	"noteforge/api/internal/authpw"
	"noteforge/api/internal/export"
	"noteforge/api/internal/history"
	"noteforge/api/internal/metrics"
	"noteforge/api/internal/projectkey"
	"noteforge/api/internal/rbac"
	"noteforge/api/internal/search"
	"noteforge/api/internal/store"
	"noteforge/api/internal/util"
)

const maxRequestBody = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	webhook    http.Handler
}

// NewHTTPServer builds the API handler. webhook serves the messaging-bot
// endpoint and may be nil when the bot is disabled.
func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger, m *metrics.Metrics, webhook http.Handler) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     logger.Named("http"),
		metrics:    m,
		webhook:    webhook,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Readiness(ctx)
		status := "ready"
		statusCode := http.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		if s.metrics == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.URL.Path == "/api/bot/telegram/webhook" {
		if s.webhook == nil {
			writeError(w, http.StatusNotFound, "BOT_DISABLED", "Bot is not configured", nil)
			return
		}
		s.webhook.ServeHTTP(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/auth/") && s.handleAuth(w, r) {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	action := rbac.ActionRead
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		action = rbac.ActionWrite
	}
	if !s.service.Can(session.Role, action) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	parts := splitPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/auth/me":
		payload, err := s.service.Me(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/dashboard":
		payload, err := s.service.Dashboard(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		limit, offset, ok := pagination(w, r, 20)
		if !ok {
			return
		}
		q := r.URL.Query()
		payload, err := s.service.Search(r.Context(), session, q.Get("q"), strings.TrimSpace(q.Get("type")), limit, offset)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/admin/search/reindex":
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		payload, err := s.service.ReindexSearch(r.Context())
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/bot/link-code":
		payload, err := s.service.IssueLinkCode(r.Context(), session)
		s.respond(w, r, http.StatusCreated, payload, err)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "notes" {
		s.handleNotes(w, r, session, parts[2:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjects(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleAuth serves the unauthenticated auth routes and reports whether it
// wrote a response.
func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	ctx := r.Context()
	switch r.URL.Path {
	case "/api/auth/signup":
		var body SignUpInput
		if !decodeOrFail(w, r, &body) {
			return true
		}
		payload, err := s.service.SignUp(ctx, body)
		s.respond(w, r, http.StatusCreated, payload, err)

	case "/api/auth/signin":
		var body SignInInput
		if !decodeOrFail(w, r, &body) {
			return true
		}
		session, err := s.service.SignIn(ctx, body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))

	case "/api/auth/verify-email":
		var body struct {
			Token string `json:"token"`
		}
		if !decodeOrFail(w, r, &body) {
			return true
		}
		if err := s.service.VerifyEmail(ctx, body.Token); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Email verified successfully"})

	case "/api/auth/resend-verification":
		var body struct {
			Email string `json:"email"`
		}
		if !decodeOrFail(w, r, &body) {
			return true
		}
		payload, err := s.service.ResendVerification(ctx, body.Email)
		s.respond(w, r, http.StatusOK, payload, err)

	case "/api/auth/reset-password/request":
		var body struct {
			Email string `json:"email"`
		}
		if !decodeOrFail(w, r, &body) {
			return true
		}
		payload, err := s.service.RequestPasswordReset(ctx, body.Email)
		s.respond(w, r, http.StatusOK, payload, err)

	case "/api/auth/reset-password":
		var body ResetPasswordInput
		if !decodeOrFail(w, r, &body) {
			return true
		}
		if err := s.service.ResetPassword(ctx, body); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})

	case "/api/auth/refresh":
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeOrFail(w, r, &body) {
			return true
		}
		session, err := s.service.Refresh(ctx, body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return true
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))

	case "/api/auth/logout":
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(ctx, token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(ctx, session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		return false
	}
	return true
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

// handleNotes serves /api/notes and everything below it. rest is the path
// after /api/notes.
func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			limit, offset, ok := pagination(w, r, 50)
			if !ok {
				return
			}
			payload, err := s.service.ListNotes(ctx, session, strings.TrimSpace(r.URL.Query().Get("status")), limit, offset)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodPost:
			var body CreateNoteInput
			if !decodeOrFail(w, r, &body) {
				return
			}
			payload, err := s.service.CreateNote(ctx, session, body)
			s.respond(w, r, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	noteID := rest[0]
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetNote(ctx, session, noteID)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var body UpdateNoteInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.UpdateNote(ctx, session, noteID, body)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteNote(ctx, session, noteID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case len(rest) == 2 && rest[1] == "summarize" && r.Method == http.MethodPost:
		payload, err := s.service.SummarizeNote(ctx, session, noteID)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 2 && rest[1] == "convert" && r.Method == http.MethodPost:
		var body ConvertNoteInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.ConvertNote(ctx, session, noteID, body)
		s.respond(w, r, http.StatusCreated, payload, err)

	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		payload, err := s.service.NoteHistory(ctx, session, noteID)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 3 && rest[1] == "history" && r.Method == http.MethodGet:
		payload, err := s.service.NoteRevision(ctx, session, noteID, rest[2])
		s.respond(w, r, http.StatusOK, payload, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleProjects serves /api/projects and its sub-resources: tasks, streak,
// scenarios and export.
func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListProjects(ctx, session)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodPost:
			var body CreateProjectInput
			if !decodeOrFail(w, r, &body) {
				return
			}
			payload, err := s.service.CreateProject(ctx, session, body)
			s.respond(w, r, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	projectID := rest[0]
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProject(ctx, session, projectID)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodPut:
			var body UpdateProjectInput
			if !decodeOrFail(w, r, &body) {
				return
			}
			payload, err := s.service.UpdateProject(ctx, session, projectID, body)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			if err := s.service.DeleteProject(ctx, session, projectID); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[1] {
	case "generate-tasks":
		if r.Method != http.MethodPost || len(rest) != 2 {
			break
		}
		var body GenerateTasksInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.GenerateTasks(ctx, session, projectID, body)
		s.respond(w, r, http.StatusCreated, payload, err)
		return

	case "streak":
		if r.Method != http.MethodGet || len(rest) != 2 {
			break
		}
		payload, err := s.service.GetStreak(ctx, session, projectID)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case "activity":
		if r.Method != http.MethodPost || len(rest) != 2 {
			break
		}
		payload, err := s.service.RecordActivity(ctx, session, projectID)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case "export":
		if r.Method != http.MethodGet || len(rest) != 2 {
			break
		}
		s.handleExport(w, r, session, projectID)
		return

	case "tasks":
		s.handleTasks(w, r, session, projectID, rest[2:])
		return

	case "scenarios":
		s.handleScenarios(w, r, session, projectID, rest[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, projectID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListTasks(ctx, session, projectID, strings.TrimSpace(r.URL.Query().Get("status")))
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateTaskInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.CreateTask(ctx, session, projectID, body)
		s.respond(w, r, http.StatusCreated, payload, err)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var body UpdateTaskInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.UpdateTask(ctx, session, projectID, rest[0], body)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteTask(ctx, session, projectID, rest[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleScenarios(w http.ResponseWriter, r *http.Request, session Session, projectID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListScenarios(ctx, session, projectID)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateScenarioInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.CreateScenario(ctx, session, projectID, body)
		s.respond(w, r, http.StatusCreated, payload, err)

	case len(rest) == 1 && rest[0] == "analyze" && r.Method == http.MethodPost:
		var body AnalyzeScenarioInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		payload, err := s.service.AnalyzeScenario(ctx, session, projectID, body)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteScenario(ctx, session, projectID, rest[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case len(rest) == 2 && rest[1] == "convert" && r.Method == http.MethodPost:
		payload, err := s.service.ConvertScenario(ctx, session, projectID, rest[0])
		s.respond(w, r, http.StatusOK, payload, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleExport answers with a presigned link when the artifact was uploaded,
// otherwise with the file itself.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	result, err := s.service.ExportProject(r.Context(), session, projectID, strings.TrimSpace(r.URL.Query().Get("format")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if result.URL != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"url":       result.URL,
			"filename":  result.Filename,
			"mimeType":  result.MimeType,
			"expiresAt": result.ExpiresAt,
		})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// respond writes payload with status, or the mapped error.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = util.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.metrics.ObserveHTTP(routeLabel(r.URL.Path), r.Method, writer.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeSegments are the literal path segments; anything else is an id and
// collapses to ":id" so metric labels stay bounded.
var routeSegments = map[string]bool{
	"api": true, "metrics": true, "health": true, "ready": true, "session": true,
	"auth": true, "signup": true, "signin": true, "verify-email": true, "resend-verification": true,
	"reset-password": true, "request": true, "refresh": true, "logout": true, "me": true,
	"dashboard": true, "search": true, "admin": true, "reindex": true,
	"bot": true, "link-code": true, "telegram": true, "webhook": true,
	"notes": true, "summarize": true, "convert": true, "history": true,
	"projects": true, "generate-tasks": true, "streak": true, "activity": true, "export": true,
	"tasks": true, "scenarios": true, "analyze": true,
}

func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	for i, part := range parts {
		if !routeSegments[part] {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody reads a JSON body of at most maxRequestBody bytes. An empty body
// leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// pagination reads limit and offset, writing a 422 when either is not a
// non-negative integer.
func pagination(w http.ResponseWriter, r *http.Request, defaultLimit int) (limit, offset int, ok bool) {
	limit = defaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
			return 0, 0, false
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be a non-negative integer", nil)
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrWrongType):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil

	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", "Token is invalid or expired", nil
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrMissingFields):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil

	case errors.Is(err, projectkey.ErrConflict):
		return http.StatusConflict, "KEY_CONFLICT", "Project key already in use", nil
	case errors.Is(err, projectkey.ErrExhausted):
		return http.StatusConflict, "KEYS_EXHAUSTED", "No project keys left for this prefix", nil
	case errors.Is(err, store.ErrNoteConverted):
		return http.StatusConflict, "NOTE_CONVERTED", "Note was already converted", nil
	case errors.Is(err, store.ErrChatLinked):
		return http.StatusConflict, "CHAT_LINKED", "Chat is linked to another account", nil

	case errors.Is(err, history.ErrNoRepo), errors.Is(err, history.ErrRevisionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Revision not found", nil

	case errors.Is(err, ai.ErrDisabled):
		return http.StatusServiceUnavailable, "AI_DISABLED", "AI features are not configured", nil
	case errors.Is(err, ai.ErrEmptyResponse):
		return http.StatusBadGateway, "AI_FAILED", "The model returned no answer", nil
	case errors.Is(err, ai.ErrUpstream):
		return http.StatusBadGateway, "AI_FAILED", "The model request failed", nil

	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be markdown or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil

	case errors.Is(err, search.ErrUnavailable):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search index is not available", nil

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Upstream timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
