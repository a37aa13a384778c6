package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peteollama/jamie-gateway/internal/httputil"
)

func authHarness(secret string) http.Handler {
	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(func() string { return secret })(next)
}

func decodeAuthError(t *testing.T, res *httptest.ResponseRecorder) httputil.APIError {
	t.Helper()
	var apiErr httputil.APIError
	if err := json.Unmarshal(res.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return apiErr
}

func TestMiddleware_ValidToken(t *testing.T) {
	h := authHarness("jamie-test-secret")

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	req.Header.Set("Authorization", "Bearer jamie-test-secret")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", res.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	h := authHarness("jamie-test-secret")

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	apiErr := decodeAuthError(t, res)
	if apiErr.Error.Type != "authentication_error" {
		t.Errorf("expected authentication_error, got %q", apiErr.Error.Type)
	}
	if apiErr.Error.Code != "invalid_api_key" {
		t.Errorf("expected invalid_api_key, got %q", apiErr.Error.Code)
	}
}

func TestMiddleware_NotBearer(t *testing.T) {
	h := authHarness("jamie-test-secret")

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for non-Bearer scheme, got %d", res.Code)
	}
}

func TestMiddleware_EmptyBearer(t *testing.T) {
	h := authHarness("jamie-test-secret")

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	req.Header.Set("Authorization", "Bearer ")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for empty token, got %d", res.Code)
	}
}

func TestMiddleware_WrongToken(t *testing.T) {
	h := authHarness("jamie-test-secret")

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	req.Header.Set("Authorization", "Bearer jamie-test-wrong")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	apiErr := decodeAuthError(t, res)
	if apiErr.Error.Message != "Invalid API key" {
		t.Errorf("unexpected message %q", apiErr.Error.Message)
	}
}

func TestMiddleware_NoSecretConfigured(t *testing.T) {
	h := authHarness("")

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	req.Header.Set("Authorization", "Bearer anything")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with no configured secret, got %d", res.Code)
	}
}

func TestMiddleware_SecretReadPerRequest(t *testing.T) {
	secret := "old-secret"
	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(func() string { return secret })(next)

	req := httptest.NewRequest(http.MethodPost, "/vapi/webhook", nil)
	req.Header.Set("Authorization", "Bearer new-secret")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before rotation, got %d", res.Code)
	}

	secret = "new-secret"
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Errorf("expected 200 after rotation, got %d", res.Code)
	}
}
