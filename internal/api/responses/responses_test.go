package responses

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	router := gin.New()
	router.POST("/runs/:id", handler)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs/abc", nil))
	return w, logs
}

func TestSuccessLogsRunID(t *testing.T) {
	w, logs := serve(t, func(c *gin.Context) {
		WithRunID(c, "run-1")
		Success(c, gin.H{"n": 1}, "ok")
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "ok", body.Message)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "/runs/:id", fields["route"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}

func TestErrorWithoutRunID(t *testing.T) {
	w, logs := serve(t, func(c *gin.Context) {
		WithRunID(c, "")
		Error(c, http.StatusNotFound, "nada", "sem processamento")
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"sem processamento"}, body.Errors)

	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.NotContains(t, entry.ContextMap(), "run_id")
}

func TestPartialKeepsData(t *testing.T) {
	w, logs := serve(t, func(c *gin.Context) {
		WithRunID(c, "run-2")
		Partial(c, http.StatusInsufficientStorage, gin.H{"runId": "run-2"}, "cheio", "quota")
	})

	assert.Equal(t, http.StatusInsufficientStorage, w.Code)
	var body struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "run-2", body.Data["runId"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}
