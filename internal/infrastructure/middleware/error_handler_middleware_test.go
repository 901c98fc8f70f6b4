package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"talkmix/internal/core/domain"
	"talkmix/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func errorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(RecoveryMiddleware(log), RequestLogger("s-1", logger.NewContextLogger(log)), ErrorHandlerMiddleware(log))
	router.GET("/x", handler)
	return router
}

func serve(t *testing.T, router http.Handler) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestErrorHandler_MapsSessionErrors(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("%w: zz", domain.ErrStreamNotFound))
	})

	w, body := serve(t, router)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
	assert.Contains(t, body["message"], "zz")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestErrorHandler_HidesInternalErrors(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("connection refused to 10.0.0.3"))
	})

	w, body := serve(t, router)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", body["error"])
	assert.NotContains(t, body["message"], "10.0.0.3")
}

func TestErrorHandler_KeepsWrittenResponses(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		_ = c.Error(domain.ErrNotRunning)
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})

	w, body := serve(t, router)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["ok"])
}

func TestRecoveryMiddleware(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		panic("boom")
	})

	w, body := serve(t, router)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", body["error"])
}
