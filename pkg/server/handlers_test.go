package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

func newTestRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := &handler{svc: svc, notifier: svc, logger: zap.NewNop()}
	registerRoutes(router, h)
	return router
}

func TestGetMode(t *testing.T) {
	svc := &fakeService{mode: v1.ModeHybrid}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/mode", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(v1.ModeHybrid), body["mode"])
}

func TestSetMode(t *testing.T) {
	svc := &fakeService{action: v1.ActionLogout}
	router := newTestRouter(svc)

	payload, _ := json.Marshal(setModeRequest{Mode: v1.ModeIntegrated})
	req := httptest.NewRequest(http.MethodPut, "/v1/mode", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(v1.ActionLogout), body["required_action"])
	assert.Equal(t, []v1.Mode{v1.ModeIntegrated}, svc.setModeCalls)
}

func TestSetModeBadBody(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPut, "/v1/mode", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetModeError(t *testing.T) {
	svc := &fakeService{setModeErr: assertErr("boom")}
	router := newTestRouter(svc)

	payload, _ := json.Marshal(setModeRequest{Mode: v1.ModeVfio})
	req := httptest.NewRequest(http.MethodPut, "/v1/mode", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetSupported(t *testing.T) {
	svc := &fakeService{supported: []v1.Mode{v1.ModeHybrid, v1.ModeIntegrated}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/supported", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Supported []v1.Mode `json:"supported"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, svc.supported, body.Supported)
}

func TestPendingModeNone(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/pending", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["pending"])
}

func TestPendingModeSet(t *testing.T) {
	svc := &fakeService{pending: v1.ModeAsusMuxDgpu, hasPend: true}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/pending", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["pending"])
	assert.Equal(t, string(v1.ModeAsusMuxDgpu), body["mode"])
}

func TestGetSetConfig(t *testing.T) {
	svc := &fakeService{cfg: &v1.Config{HotplugType: v1.HotplugStd}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	newCfg := v1.Config{HotplugType: v1.HotplugAsus, VfioEnable: true}
	payload, _ := json.Marshal(newCfg)
	req = httptest.NewRequest(http.MethodPut, "/v1/config", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, v1.HotplugAsus, svc.cfg.HotplugType)
}

func TestHealthz(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
