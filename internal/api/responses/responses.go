// internal/api/responses/responses.go
package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var logger = zap.NewNop()

// APIResponse defines the standard envelope for API responses.
type APIResponse struct {
	Status  string   `json:"status"` // "success" or "error"
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// InitLogger initializes the structured logger for API responses and returns
// it so the rest of the service can share it.
func InitLogger() (*zap.Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	logger = l
	return l, nil
}

// SetLogger replaces the response logger. A nil logger disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// runIDKey is the gin context key holding the run a request worked on.
const runIDKey = "fiscal.runId"

// WithRunID tags the request with the run it served so the response log
// carries it.
func WithRunID(c *gin.Context, runID string) {
	if runID != "" {
		c.Set(runIDKey, runID)
	}
}

func requestFields(c *gin.Context, code int) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("route", c.FullPath()),
		zap.Int("status", code),
	}
	if id := c.GetString(runIDKey); id != "" {
		fields = append(fields, zap.String("run_id", id))
	}
	return fields
}

// Success sends a 200 envelope with data.
func Success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, APIResponse{Status: "success", Data: data, Message: message})
	logger.Info("requisição atendida", requestFields(c, http.StatusOK)...)
}

// Error sends an error envelope. errs carries the underlying causes.
func Error(c *gin.Context, code int, message string, errs ...string) {
	c.JSON(code, APIResponse{Status: "error", Message: message, Errors: errs})
	logger.Error("requisição falhou", append(requestFields(c, code), zap.Strings("errors", errs))...)
}

// Partial sends data that was produced but could not be fully handled, such
// as a run that is kept in memory because it could not be saved.
func Partial(c *gin.Context, code int, data any, message string, errs ...string) {
	c.JSON(code, APIResponse{Status: "error", Data: data, Message: message, Errors: errs})
	logger.Warn("resultado mantido apenas em memória", append(requestFields(c, code), zap.Strings("errors", errs))...)
}
