package middleware

import (
	"net/http"

	apperrors "talkmix/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error. Session errors are mapped onto HTTP statuses.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr := apperrors.FromDomain(err)

		kv := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err.Error(),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", kv...)
		} else {
			logger.Debugw("request rejected", kv...)
		}

		if appErr.Code == apperrors.ErrCodeInternal {
			appErr = apperrors.NewInternalError("internal server error")
		}
		abortWith(c, appErr)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWith(c, apperrors.NewInternalError("internal server error"))
			}
		}()

		c.Next()
	}
}
