package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/jwt"
)

func TestAuthMiddlewareAllowsValidAccessToken(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	token, err := jwtSvc.GenerateAccessToken("owner-1", jwt.RoleEVOwner)
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}

	var gotUser string
	protected := Auth(jwtSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUser != "owner-1" {
		t.Fatalf("expected owner-1 in context, got %q", gotUser)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	protected := Auth(jwt.NewService("secret", time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestServiceAuth(t *testing.T) {
	var called bool
	h := ServiceAuth("svc-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = IsServiceCall(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/wallet/credits/issue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", w.Code)
	}

	req.Header.Set("Authorization", "Bearer svc-secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || !called {
		t.Fatalf("expected service call to pass, got %d called=%v", w.Code, called)
	}
}

func TestRequireVerifier(t *testing.T) {
	h := RequireVerifier()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/verification/approve", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req.WithContext(WithUser(req.Context(), "u1", jwt.RoleEVOwner)))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ev owner, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req.WithContext(WithUser(req.Context(), "cva-1", jwt.RoleCVA)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for cva, got %d", w.Code)
	}
}
