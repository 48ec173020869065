package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/question/1", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS_ExplicitOrigin(t *testing.T) {
	rec := serve([]string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials for explicit origin")
	}
}

func TestCORS_WildcardNoCredentials(t *testing.T) {
	rec := serve([]string{"*"}, http.MethodGet, "https://any.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://any.example.com" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Expected no credentials for wildcard match")
	}
}

func TestCORS_RejectedOrigin(t *testing.T) {
	rec := serve([]string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Expected request to pass through, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	rec := serve([]string{"*"}, http.MethodOptions, "https://app.example.com")

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
}
