package billing

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *memoryRepo) http.Handler {
	handler := NewHandler(slog.Default(), newTestService(repo))
	r := chi.NewRouter()
	r.Route("/billing", handler.MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSessionLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	h := newTestHandler(repo)

	rec := doJSON(t, h, http.MethodPost, "/billing/sessions",
		`{"account_id":2,"date":"2026-03-02","member_count":100,"attended":true,"evidence_ref":"rec-001"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int64(2), created.AccountID)
	require.Equal(t, "2026-03-02", created.Date)
	require.NotNil(t, created.CascadeAccountID)

	rec = doJSON(t, h, http.MethodGet, "/billing/due/2/2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var due dailyDueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Equal(t, "80", due.Gross)
	require.Equal(t, "80", due.Net)
	require.Equal(t, 1, due.SessionCount)

	rec = doJSON(t, h, http.MethodDelete, "/billing/sessions/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/billing/due/2/2026-03-02", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerValidation(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	h := newTestHandler(repo)

	rec := doJSON(t, h, http.MethodPost, "/billing/sessions", `{"date":"2026-03-02"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/billing/sessions",
		`{"account_id":2,"date":"03/02/2026","member_count":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/billing/sessions",
		`{"account_id":2,"date":"2026-03-02","member_count":1,"status":"paused"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/billing/sessions/not-a-number", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/billing/sessions/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerEvidenceAndAdvance(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	h := newTestHandler(repo)

	rec := doJSON(t, h, http.MethodPost, "/billing/advances",
		`{"account_id":2,"amount":"50","effective_from":"2026-03-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/billing/advances",
		`{"account_id":2,"amount":"-50","effective_from":"2026-03-01"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/billing/sessions",
		`{"account_id":2,"date":"2026-03-02","member_count":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, "/billing/sessions/1/evidence", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.True(t, updated.Attended)
	require.NotEmpty(t, updated.EvidenceRef)

	rec = doJSON(t, h, http.MethodGet, "/billing/due/2/2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var due dailyDueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Equal(t, "80", due.Gross)
	require.Equal(t, "50", due.AdvanceAmortized)
	require.Equal(t, "30", due.Net)
}

func TestHandlerMaterialize(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	seedTemplate(repo, 10, 2, 0)
	h := newTestHandler(repo)

	rec := doJSON(t, h, http.MethodPost, "/billing/materialize", `{"as_of":"2026-03-02"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp materializeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.CreatedCount)
	require.Equal(t, 0, resp.FailedCount)

	rec = doJSON(t, h, http.MethodPost, "/billing/materialize", `{"as_of":"2026-03-02"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.CreatedCount)
}
