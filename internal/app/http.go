package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agitracker/api/internal/auth"
	"agitracker/api/internal/images"
	"agitracker/api/internal/metrics"
	"agitracker/api/internal/ratelimit"
	"agitracker/api/internal/search"
	"agitracker/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    ratelimit.Limiter
}

// NewHTTPServer builds the API server. A nil limiter disables rate limiting.
func NewHTTPServer(service *Service, corsOrigin string, limiter ratelimit.Limiter) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, limiter: limiter}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action string) {
	zerolog.Ctx(r.Context()).Warn().Str("user_id", session.UserID).Str("role", session.Role).Str("action", action).Msg("http: forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		w.Header().Del("Content-Type")
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/feed.xml" {
		body, err := s.service.Feed(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeXML(w, "application/rss+xml; charset=utf-8", body)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/sitemap.xml" {
		body, err := s.service.Sitemap(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeXML(w, "application/xml; charset=utf-8", body)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "auth":
		if !s.allow(w, r, ratelimit.Auth) {
			return
		}
		s.handleAuth(w, r, parts[2:])
		return
	case "admin":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleAdmin(w, r, session, parts[2:])
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/submissions" {
		if !s.allow(w, r, ratelimit.Submissions) {
			return
		}
		s.handleSubmit(w, r)
		return
	}

	if !s.allow(w, r, ratelimit.API) {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tools" {
		query := r.URL.Query()
		result, err := s.service.ListTools(r.Context(), store.ToolFilter{
			Page:     queryInt(query.Get("page")),
			Limit:    queryInt(query.Get("limit")),
			Category: query.Get("category"),
			Tag:      query.Get("tag"),
			Pricing:  query.Get("pricing"),
			License:  query.Get("license"),
			Sort:     query.Get("sort"),
			Query:    query.Get("q"),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "tools" {
		tool, err := s.service.ViewTool(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tool": tool})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/blog" {
		query := r.URL.Query()
		result, err := s.service.ListArticles(r.Context(), store.ArticleFilter{
			Page:  queryInt(query.Get("page")),
			Limit: queryInt(query.Get("limit")),
			Tag:   query.Get("tag"),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "blog" {
		article, err := s.service.ViewArticle(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"article": article})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), searchQuery(r)))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/upload/public" {
		s.handleUpload(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && len(parts) == 3 && parts[1] == "images" {
		s.handleImage(w, r, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// Search degrades to Postgres, so it never fails readiness.
	searchStatus := "disabled"
	if s.service.search != nil && s.service.search.Enabled() {
		searchStatus = "ok"
	}
	checks["search"] = map[string]any{"status": searchStatus}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmissionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.RemoteIP = clientIP(r)

	submission, err := s.service.Submit(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"message":      "Submission received! We'll review it shortly.",
		"submissionId": submission.ID,
	})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.service.images == nil {
		writeError(w, http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Image uploads not configured", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, images.MaxSize+(1<<20))
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "FILE_TOO_LARGE", "File too large (max 10MB)", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "NO_FILE", "No file provided", nil)
		return
	}
	defer file.Close()

	uploaded, err := s.service.images.Upload(r.Context(), file)
	switch {
	case errors.Is(err, images.ErrEmpty):
		writeError(w, http.StatusBadRequest, "NO_FILE", "No file provided", nil)
	case errors.Is(err, images.ErrTooLarge):
		writeError(w, http.StatusBadRequest, "FILE_TOO_LARGE", "File too large (max 10MB)", nil)
	case errors.Is(err, images.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "Invalid file type. Allowed: "+strings.Join(images.AllowedTypes, ", "), nil)
	case err != nil:
		s.fail(w, r, err)
	default:
		writeJSON(w, http.StatusOK, uploaded)
	}
}

func (s *HTTPServer) handleImage(w http.ResponseWriter, r *http.Request, id string) {
	if s.service.images == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
		return
	}
	image, err := s.service.images.Get(r.Context(), id)
	if errors.Is(err, images.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", image.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(image.Data)))
	header.Set("Cache-Control", images.CacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(image.Data)
	}
}

func searchQuery(r *http.Request) search.Query {
	query := r.URL.Query()
	q := search.Query{
		Text:         query.Get("q"),
		Category:     query.Get("category"),
		Tag:          query.Get("tags"),
		Pricing:      query.Get("pricing"),
		License:      query.Get("license"),
		Integrations: query.Get("integrations"),
		Sort:         splitList(query.Get("sort")),
		Page:         queryInt(query.Get("page")),
		Limit:        queryInt(query.Get("limit")),
		Facets:       splitList(query.Get("facets")),
	}
	if featured, err := strconv.ParseBool(query.Get("featured")); err == nil {
		q.Featured = &featured
	}
	return q
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func queryInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}

// allow applies a rate limit rule to the client. Limiter failures let the
// request through.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	allowed, err := s.limiter.Allow(r.Context(), rule, clientIP(r))
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("rule", rule.Name).Msg("http: rate limiter unavailable")
		return true
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := auth.FromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("http: session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		logger := log.With().Str("request_id", requestID).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(logger.WithContext(ctx))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), writer.status, elapsed)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel collapses ids and slugs so request metrics stay low cardinality.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "api" {
		switch parts[0] {
		case "metrics", "feed.xml", "sitemap.xml":
			return "/" + parts[0]
		}
		return "other"
	}
	for i := 2; i < len(parts); i++ {
		if i == 2 && (parts[1] == "tools" || parts[1] == "blog" || parts[1] == "images") {
			parts[i] = ":id"
			continue
		}
		if _, err := strconv.ParseInt(parts[i], 10, 64); err == nil {
			parts[i] = ":id"
		}
		if i == 3 && parts[2] == "users" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeXML(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
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

// fail maps err to its response. Unexpected errors are logged and reported generically.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(value string) (int64, bool) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrNotPending) {
		return http.StatusNotFound, "NOT_FOUND", "Submission not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
