package vehicle

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
)

func withOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), owner, "user")))
	})
}

func TestImportHandlerReplayReturns200(t *testing.T) {
	svc, _, _, _, v := setup(t)
	router := NewHandler(svc).Routes(withOwner)

	body := `{"trips":[{"start_time":"2026-03-01T08:00:00Z","end_time":"2026-03-01T09:00:00Z","distance_km":30}]}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/"+v.ID+"/trips/import", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "batch-7")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusCreated, first.Code)

	second := send()
	require.Equal(t, http.StatusOK, second.Code)

	var resp struct {
		Data ImportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "Import previously processed", resp.Data.Message)
	assert.Equal(t, 1, resp.Data.Totals.TotalTrips)
}

func TestImportHandlerMultipartCSV(t *testing.T) {
	svc, _, _, _, v := setup(t)
	router := NewHandler(svc).Routes(withOwner)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "trips.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("start_time,end_time,distance_km\n2026-03-01 08:00:00,2026-03-01 09:00:00,20\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/"+v.ID+"/trips/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Data ImportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Imported)
}

func TestGenerateCreditsHandlerInsufficientCO2(t *testing.T) {
	svc, _, _, _, v := setup(t)
	router := NewHandler(svc).Routes(withOwner)

	req := httptest.NewRequest(http.MethodPost, "/"+v.ID+"/credits/generate", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSUFFICIENT_CO2")
}

func TestGetVehicleOfOtherOwnerIs404(t *testing.T) {
	svc, _, _, _, v := setup(t)
	stranger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), "stranger", "user")))
		})
	}
	router := NewHandler(svc).Routes(stranger)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+v.ID, nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
