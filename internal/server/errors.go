package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"go.uber.org/zap"
)

const (
	msgMessageRequired = "Message is required"
	msgQueryRequired   = "Query is required"
	msgConfiguration   = "Configuration error"
	msgAIModel         = "Error communicating with AI model"
	msgInternal        = "Internal server error"
	msgInvalidBody     = "Invalid request body"
	msgInvalidParams   = "Invalid search parameters"
)

// errorHandler renders every error as {"error": msg}. Internal detail is logged, never returned.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := msgInternal
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
			if he.Internal != nil {
				err = he.Internal
			}
		}

		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}

		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}

// chatError maps an orchestration failure to the status and message the chat UI expects.
func chatError(err error) *echo.HTTPError {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, rag.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, msgMessageRequired).SetInternal(err)
	case errors.Is(err, rag.ErrInvalidParams):
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidParams).SetInternal(err)
	case errors.Is(err, llm.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusInternalServerError, msgConfiguration).SetInternal(err)
	case errors.As(err, &apiErr):
		code := apiErr.Status
		if code < 400 || code > 599 {
			code = http.StatusInternalServerError
		}
		return echo.NewHTTPError(code, msgAIModel).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, msgInternal).SetInternal(err)
	}
}
