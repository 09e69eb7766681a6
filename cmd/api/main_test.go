package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/config"
	"github.com/evcarbon/carbon-credit-api/internal/domain/verification"
	"github.com/evcarbon/carbon-credit-api/internal/middleware"
)

func passthrough(next http.Handler) http.Handler { return next }

func testConfig(services ...string) *config.Config {
	return &config.Config{
		AllowedOrigins:  []string{"http://localhost:3000"},
		EnabledServices: services,
	}
}

func serve(t *testing.T, router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthAndPing(t *testing.T) {
	router := newRouter(testConfig("all"), &handlers{auth: passthrough, serviceAuth: passthrough})

	rr := serve(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
	assert.Contains(t, rr.Body.String(), `"version":"1.0.0"`)

	rr = serve(t, router, http.MethodGet, "/api/v1/ping", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pong")
}

func TestRouterExposesMetrics(t *testing.T) {
	router := newRouter(testConfig("all"), &handlers{auth: passthrough, serviceAuth: passthrough})

	serve(t, router, http.MethodGet, "/api/v1/ping", "")
	rr := serve(t, router, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestRouterSkipsDisabledServices(t *testing.T) {
	router := newRouter(testConfig(config.ServicePayment), &handlers{auth: passthrough, serviceAuth: passthrough})

	for _, path := range []string{
		"/api/v1/wallet/balance",
		"/api/v1/listings",
		"/api/v1/vehicles",
		"/api/v1/verification/pending",
	} {
		rr := serve(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestRouterMountsVerifyIntakeWithoutCreditService(t *testing.T) {
	svc := verification.NewService(nil, nil, nil, nil, 0)
	h := &handlers{
		auth:         passthrough,
		serviceAuth:  middleware.ServiceAuth("internal-secret"),
		verification: verification.NewHandler(svc),
	}
	router := newRouter(testConfig(config.ServiceVerification), h)

	rr := serve(t, router, http.MethodPost, "/api/v1/credits/verify", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// authenticated, but the empty body is rejected before reaching the service
	rr = serve(t, router, http.MethodPost, "/api/v1/credits/verify", "internal-secret")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodPost, "/api/v1/calculate/co2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
