package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/groupauth-agent/watcher"
)

func newTestServer(t *testing.T, status func() *watcher.Status) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.Default(),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, status, nil)
	require.NoError(t, err)
	return srv
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t, func() *watcher.Status {
		return &watcher.Status{
			Status:         "ok",
			MemberID:       "0xabc",
			Address:        "0xdef",
			AppID:          "0x123",
			OnboardedCount: 3,
			LastSeenBlock:  42,
		}
	})

	rr := httptest.NewRecorder()
	srv.getRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "0xabc", body["memberId"])
	assert.Equal(t, "0x123", body["app_id"])
	assert.Equal(t, float64(3), body["onboarded_count"])
}

func TestLivenessAndReadiness(t *testing.T) {
	srv := newTestServer(t, func() *watcher.Status { return &watcher.Status{} })
	router := srv.getRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDrainUndrain(t *testing.T) {
	srv := newTestServer(t, func() *watcher.Status { return &watcher.Status{} })
	router := srv.getRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
