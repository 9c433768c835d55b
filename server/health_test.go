package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantor/scheduler/errors"
)

type stubBroker struct{ connected bool }

func (b stubBroker) Connected() bool { return b.connected }

type stubStore struct{ err error }

func (s stubStore) Ping() error { return s.err }

func newTestServer(t *testing.T, brokerUp bool, storeErr error) *Server {
	t.Helper()
	return New(":0", stubBroker{connected: brokerUp}, stubStore{err: storeErr}, "test", zaptest.NewLogger(t).Sugar())
}

func doRequest(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthHealthy(t *testing.T) {
	s := newTestServer(t, true, nil)

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["broker_connected"])
	assert.Equal(t, true, body["store_reachable"])
}

func TestHealthBrokerDown(t *testing.T) {
	s := newTestServer(t, false, nil)

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, false, body["broker_connected"])
}

func TestHealthStoreDown(t *testing.T) {
	s := newTestServer(t, true, errors.New("disk on fire"))

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["store_reachable"])
	assert.Contains(t, body["store_error"], "disk on fire")
}

func TestRootBanner(t *testing.T) {
	s := newTestServer(t, true, nil)

	rec, body := doRequest(t, s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job_scheduler", body["service"])
	assert.Equal(t, "test", body["version"])
}
