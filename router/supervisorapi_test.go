package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/supervisor"
)

func newTestSupervisorAPI() (*SupervisorAPI, *supervisor.Supervisor) {
	sup := supervisor.New(5, 100)
	sup.Register(supervisor.Config{Name: "fetcher", Command: "true"})
	return &SupervisorAPI{Sup: sup, JWTSecret: "test-secret"}, sup
}

func TestServiceStatusReportsRegisteredServices(t *testing.T) {
	api, _ := newTestSupervisorAPI()
	r := mux.NewRouter()
	api.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/service/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Services []struct {
			Name         string `json:"name"`
			Status       string `json:"status"`
			RestartCount int    `json:"restartCount"`
			LastExitCode *int   `json:"lastExitCode"`
		} `json:"services"`
	}
	require.NoError(t, cmn.UnmarshalJSON(rec.Body.Bytes(), &out))
	require.Len(t, out.Services, 1)
	require.Equal(t, "fetcher", out.Services[0].Name)
	require.Equal(t, "stopped", out.Services[0].Status)
	require.NotNil(t, out.Services[0].LastExitCode)
}

func TestServiceLogsFiltersByLevelAndSourceAndLimit(t *testing.T) {
	api, sup := newTestSupervisorAPI()
	r := mux.NewRouter()
	api.Register(r)

	sup.AddLog("fetcher", "info", "starting up")
	sup.AddLog("fetcher", "error", "boom")
	sup.AddLog("other", "info", "unrelated")

	req := httptest.NewRequest(http.MethodGet, "/service/logs?source=fetcher", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Logs []struct {
			Level   string `json:"level"`
			Source  string `json:"source"`
			Message string `json:"message"`
		} `json:"logs"`
	}
	require.NoError(t, cmn.UnmarshalJSON(rec.Body.Bytes(), &out))
	require.Len(t, out.Logs, 2)

	req = httptest.NewRequest(http.MethodGet, "/service/logs?source=fetcher&level=error", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.NoError(t, cmn.UnmarshalJSON(rec.Body.Bytes(), &out))
	require.Len(t, out.Logs, 1)
	require.Equal(t, "boom", out.Logs[0].Message)

	req = httptest.NewRequest(http.MethodGet, "/service/logs?limit=1", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.NoError(t, cmn.UnmarshalJSON(rec.Body.Bytes(), &out))
	require.Len(t, out.Logs, 1)
	require.Equal(t, "unrelated", out.Logs[0].Message)
}

func TestRestartRequiresAdminAuth(t *testing.T) {
	api, _ := newTestSupervisorAPI()
	r := mux.NewRouter()
	api.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/restart", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueAdminToken(api.JWTSecret, "n1")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/admin/restart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
