package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"agitracker/api/internal/auth"
	"agitracker/api/internal/authpw"
	"agitracker/api/internal/images"
	"agitracker/api/internal/ratelimit"
	"agitracker/api/internal/store"
)

type fakeLimiter struct {
	allowed bool
	err     error
	rules   []string
}

func (f *fakeLimiter) Allow(_ context.Context, rule ratelimit.Rule, _ string) (bool, error) {
	f.rules = append(f.rules, rule.Name)
	return f.allowed, f.err
}

func newTestServer(fs *fakeStore) (*Service, http.Handler) {
	svc := newTestService(fs)
	svc.now = time.Now
	return svc, NewHTTPServer(svc, "*", nil).Handler()
}

func signedInToken(t *testing.T, svc *Service, fs *fakeStore, id, role string) string {
	t.Helper()
	issued, err := svc.issueSession(context.Background(), seedUser(fs, id, role))
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return issued.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeResponse(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(newFakeStore())

	res := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	payload := decodeResponse(t, res)
	if payload["status"] != "ok" || payload["ok"] != true {
		t.Fatalf("unexpected health payload: %v", payload)
	}
	if res.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected CORS origin %q", res.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestReadyEndpoint(t *testing.T) {
	fs := newFakeStore()
	_, handler := newTestServer(fs)

	res := doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	checks := decodeResponse(t, res)["checks"].(map[string]any)
	if checks["search"].(map[string]any)["status"] != "disabled" {
		t.Fatalf("expected disabled search check, got %v", checks["search"])
	}

	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	res = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	payload := decodeResponse(t, res)
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected ready payload: %v", payload)
	}
}

func TestUnknownRoutes(t *testing.T) {
	_, handler := newTestServer(newFakeStore())

	for _, path := range []string{"/", "/api", "/api/nothing", "/elsewhere"} {
		res := doJSON(t, handler, http.MethodGet, path, "", nil)
		if res.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, res.Code)
		}
	}
}

func TestSubmitThenApproveThroughHTTP(t *testing.T) {
	fs := newFakeStore()
	svc, handler := newTestServer(fs)
	token := signedInToken(t, svc, fs, "editor", "editor")

	res := doJSON(t, handler, http.MethodPost, "/api/submissions", "", validSubmission("Test Tool"))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	payload := decodeResponse(t, res)
	if payload["success"] != true || payload["message"] != "Submission received! We'll review it shortly." {
		t.Fatalf("unexpected submit payload: %v", payload)
	}
	id := int64(payload["submissionId"].(float64))

	res = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/admin/moderation/%d/approve", id), token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	tool := decodeResponse(t, res)["tool"].(map[string]any)
	if tool["slug"] != "test-tool" || tool["approved"] != true {
		t.Fatalf("unexpected tool: %v", tool)
	}

	res = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/admin/moderation/%d/approve", id), token, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second approve, got %d", res.Code)
	}

	res = doJSON(t, handler, http.MethodGet, "/api/tools/test-tool", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected public tool, got %d", res.Code)
	}
}

func TestSubmitHoneypotThroughHTTP(t *testing.T) {
	fs := newFakeStore()
	_, handler := newTestServer(fs)
	input := validSubmission("Test Tool")
	input.Honeypot = "filled"

	res := doJSON(t, handler, http.MethodPost, "/api/submissions", "", input)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	payload := decodeResponse(t, res)
	if payload["code"] != "SPAM_DETECTED" || payload["error"] != "Spam detected" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if fs.createSubmitted != 0 {
		t.Fatal("expected no submission to be stored")
	}
}

func TestSubmitValidationDetails(t *testing.T) {
	_, handler := newTestServer(newFakeStore())
	input := validSubmission("Test Tool")
	input.SubmitterEmail = ""

	res := doJSON(t, handler, http.MethodPost, "/api/submissions", "", input)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	payload := decodeResponse(t, res)
	details, ok := payload["details"].([]any)
	if !ok || len(details) != 1 {
		t.Fatalf("expected one field error, got %v", payload["details"])
	}
	if details[0].(map[string]any)["field"] != "submitterEmail" {
		t.Fatalf("unexpected field error: %v", details[0])
	}
}

func TestAdminRequiresSession(t *testing.T) {
	_, handler := newTestServer(newFakeStore())

	res := doJSON(t, handler, http.MethodGet, "/api/admin/moderation", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	res = doJSON(t, handler, http.MethodGet, "/api/admin/moderation", "garbage", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.Code)
	}
}

func TestAdminRoleChecks(t *testing.T) {
	fs := newFakeStore()
	svc, handler := newTestServer(fs)
	member := signedInToken(t, svc, fs, "member", "user")
	editor := signedInToken(t, svc, fs, "editor", "editor")
	admin := signedInToken(t, svc, fs, "admin", "admin")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "user cannot moderate", method: http.MethodGet, path: "/api/admin/moderation", token: member, want: http.StatusForbidden},
		{name: "editor moderates", method: http.MethodGet, path: "/api/admin/moderation", token: editor, want: http.StatusOK},
		{name: "editor reads stats", method: http.MethodGet, path: "/api/admin/stats", token: editor, want: http.StatusOK},
		{name: "editor cannot list users", method: http.MethodGet, path: "/api/admin/users", token: editor, want: http.StatusForbidden},
		{name: "admin lists users", method: http.MethodGet, path: "/api/admin/users", token: admin, want: http.StatusOK},
		{name: "editor cannot resync search", method: http.MethodPost, path: "/api/admin/search/sync", token: editor, want: http.StatusForbidden},
		{name: "admin resync without index", method: http.MethodPost, path: "/api/admin/search/sync", token: admin, want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := doJSON(t, handler, tc.method, tc.path, tc.token, nil)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, res.Code, res.Body.String())
			}
		})
	}
}

func TestBulkDeleteThroughHTTP(t *testing.T) {
	fs := newFakeStore()
	svc, handler := newTestServer(fs)
	token := signedInToken(t, svc, fs, "admin", "admin")

	res := doJSON(t, handler, http.MethodPost, "/api/admin/moderation/bulk-delete", token, map[string]any{"ids": "1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if decodeResponse(t, res)["error"] != "Invalid IDs provided" {
		t.Fatalf("unexpected body %s", res.Body.String())
	}

	res = doJSON(t, handler, http.MethodPost, "/api/admin/moderation/bulk-delete", token, map[string]any{"ids": []any{42}})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	payload := decodeResponse(t, res)
	if payload["deleted"] != float64(0) || payload["failed"] != float64(1) {
		t.Fatalf("unexpected batch result: %v", payload)
	}
}

func TestRateLimitedRequest(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	limiter := &fakeLimiter{allowed: false}
	handler := NewHTTPServer(svc, "*", limiter).Handler()

	res := doJSON(t, handler, http.MethodPost, "/api/submissions", "", validSubmission("Test Tool"))
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") != "3600" {
		t.Fatalf("unexpected Retry-After %q", res.Header().Get("Retry-After"))
	}
	if fs.createSubmitted != 0 {
		t.Fatal("expected limited submission to be dropped")
	}

	res = doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", res.Code)
	}
	if strings.Join(limiter.rules, ",") != "submissions" {
		t.Fatalf("unexpected rules consulted: %v", limiter.rules)
	}
}

func TestRateLimiterFailureLetsRequestsThrough(t *testing.T) {
	svc := newTestService(newFakeStore())
	handler := NewHTTPServer(svc, "*", &fakeLimiter{err: errors.New("redis down")}).Handler()

	res := doJSON(t, handler, http.MethodGet, "/api/tools", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestLocalLimiterExhaustsSubmissionBudget(t *testing.T) {
	svc := newTestService(newFakeStore())
	handler := NewHTTPServer(svc, "https://agitracker.io", ratelimit.NewLocalLimiter()).Handler()

	var last int
	for i := 0; i <= ratelimit.Submissions.Limit; i++ {
		res := doJSON(t, handler, http.MethodPost, "/api/submissions", "", validSubmission(fmt.Sprintf("Tool %d", i)))
		last = res.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected the request past the budget to be limited, got %d", last)
	}
}

func TestSignInSetsSessionCookie(t *testing.T) {
	fs := newFakeStore()
	svc, handler := newTestServer(fs)
	svc.passwords = authpw.NewService(fs)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fs.users["admin"] = store.User{ID: "admin", Email: "admin@agitracker.io", Name: "Admin", Role: "admin", PasswordHash: string(hash)}

	res := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "admin@agitracker.io", "password": "wrong"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "admin@agitracker.io", "password": "correct horse"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range res.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected http-only session cookie, got %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	sessionRes := httptest.NewRecorder()
	handler.ServeHTTP(sessionRes, req)
	if sessionRes.Code != http.StatusOK {
		t.Fatalf("expected session lookup to succeed, got %d", sessionRes.Code)
	}
	user := decodeResponse(t, sessionRes)["user"].(map[string]any)
	if user["role"] != "admin" {
		t.Fatalf("unexpected session user: %v", user)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/auth/signout", cookie.Value, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected sign out to succeed, got %d", res.Code)
	}
	res = doJSON(t, handler, http.MethodGet, "/api/auth/session", cookie.Value, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked session to be rejected, got %d", res.Code)
	}
}

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestUploadAndServeImage(t *testing.T) {
	fs := newFakeStore()
	svc, handler := newTestServer(fs)
	svc.images = images.NewService(fs, nil)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "icon.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(testPNG)
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload/public", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	uploaded := decodeResponse(t, res)
	url, _ := uploaded["url"].(string)
	if !strings.HasPrefix(url, "/api/images/") {
		t.Fatalf("unexpected upload url %q", url)
	}

	res = doJSON(t, handler, http.MethodGet, url, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected image, got %d", res.Code)
	}
	if res.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if res.Header().Get("Cache-Control") != images.CacheControl {
		t.Fatalf("unexpected cache control %q", res.Header().Get("Cache-Control"))
	}
	if !bytes.Equal(res.Body.Bytes(), testPNG) {
		t.Fatal("served bytes differ from upload")
	}

	res = doJSON(t, handler, http.MethodGet, "/api/images/not-an-id", "", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadRejectsMissingFileAndBadType(t *testing.T) {
	fs := newFakeStore()
	svc, handler := newTestServer(fs)
	svc.images = images.NewService(fs, nil)

	res := doJSON(t, handler, http.MethodPost, "/api/upload/public", "", nil)
	if res.Code != http.StatusBadRequest || decodeResponse(t, res)["code"] != "NO_FILE" {
		t.Fatalf("expected NO_FILE, got %d: %s", res.Code, res.Body.String())
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, _ := form.CreateFormFile("file", "notes.txt")
	_, _ = part.Write([]byte("plain text is not an image"))
	_ = form.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/upload/public", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeResponse(t, rec)["code"] != "INVALID_FILE_TYPE" {
		t.Fatalf("expected INVALID_FILE_TYPE, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSearchWithoutIndexReturnsEmptyResult(t *testing.T) {
	_, handler := newTestServer(newFakeStore())

	res := doJSON(t, handler, http.MethodGet, "/api/search?q=agent&featured=true", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	payload := decodeResponse(t, res)
	if payload["total"] != float64(0) {
		t.Fatalf("unexpected search payload: %v", payload)
	}
}

func TestFeedAndSitemapRoutes(t *testing.T) {
	_, handler := newTestServer(newFakeStore())

	for path, contentType := range map[string]string{
		"/feed.xml":    "application/rss+xml; charset=utf-8",
		"/sitemap.xml": "application/xml; charset=utf-8",
	} {
		res := doJSON(t, handler, http.MethodGet, path, "", nil)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, res.Code)
		}
		if res.Header().Get("Content-Type") != contentType {
			t.Fatalf("%s: unexpected content type %q", path, res.Header().Get("Content-Type"))
		}
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/tools/test-tool":                "/api/tools/:id",
		"/api/admin/moderation/12/approve":    "/api/admin/moderation/:id/approve",
		"/api/images/7f0c1a2b-aaaa-bbbb-cccc": "/api/images/:id",
		"/feed.xml":                           "/feed.xml",
		"/wp-login.php":                       "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
	req.Header.Set("X-Real-IP", "192.0.2.7")
	if got := clientIP(req); got != "192.0.2.7" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
