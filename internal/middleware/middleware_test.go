package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/quoteworks/internal/identity"
)

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/quotes/1/workspace", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Unexpected allow-origin %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials for explicit origin, got %q", got)
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Expected no credentials header, got %q", got)
	}
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	called := false
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/quotes/1/workspace", nil)
	req.Header.Set("Origin", "https://other.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Fatal("Expected the request to reach the handler")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no allow-origin, got %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Expected Vary: Origin, got %q", got)
	}
}

func TestCORSPreflightListsWorkspaceHeaders(t *testing.T) {
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/quotes/1/workspace/items/A", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPatch) {
		t.Errorf("Expected PATCH in allowed methods, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-User-ID") {
		t.Errorf("Expected X-User-ID in allowed headers, got %q", got)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	pool := NewLimiterPool(0.001, 2)
	h := RateLimit(pool)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(method string, userID int64) int {
		req := httptest.NewRequest(method, "/api/quotes/1/workspace/draft", nil)
		req = req.WithContext(identity.WithUser(req.Context(), userID, ""))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(http.MethodPost, 1); code != http.StatusOK {
		t.Fatalf("first request: got %d", code)
	}
	if code := do(http.MethodPost, 1); code != http.StatusOK {
		t.Fatalf("second request: got %d", code)
	}
	if code := do(http.MethodPost, 1); code != http.StatusTooManyRequests {
		t.Errorf("third request: expected 429, got %d", code)
	}
	if code := do(http.MethodPost, 2); code != http.StatusOK {
		t.Errorf("other user: expected 200, got %d", code)
	}
	if code := do(http.MethodGet, 1); code != http.StatusOK {
		t.Errorf("reads are not limited: got %d", code)
	}
}
