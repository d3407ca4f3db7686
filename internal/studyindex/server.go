package studyindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"go.uber.org/zap"
)

// NewServer exposes ix over HTTP with FastAPI-style {"detail": ...} errors.
func NewServer(ix *Index, logger *zap.Logger) *echo.Echo {
	logger = logging.OrNop(logger).Named("studyindex")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		detail := "Internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = fmt.Sprint(he.Message)
		}
		if code >= http.StatusInternalServerError {
			logger.Error("search failed", zap.Error(err))
		}
		_ = c.JSON(code, map[string]string{"detail": detail})
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "healthy", "search_module": ix != nil})
	})
	e.POST("/search", func(c echo.Context) error {
		if ix == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Search module not initialized")
		}
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "could not read body")
		}
		var p Params
		if err := json.Unmarshal(raw, &p); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "request body must be a JSON object")
		}
		res, err := ix.Search(c.Request().Context(), p)
		if err != nil {
			if IsValidation(err) {
				return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
		}
		return c.JSON(http.StatusOK, res)
	})
	return e
}

// Serve runs the index server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, ix *Index, logger *zap.Logger) error {
	e := NewServer(ix, logger)
	errCh := make(chan error, 1)
	go func() {
		logging.OrNop(logger).Info("study index listening", zap.String("addr", addr), zap.Int("studies", ix.Len()))
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
