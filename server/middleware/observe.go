package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
	"github.com/hrygo/shelfscan/server/internal/observability"
)

// Observe attaches a request context to every request, logs its outcome and records it
// in metrics.
func Observe(logger *slog.Logger, metrics *observability.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reqCtx := observability.NewRequestContext(logger, req.Header.Get(echo.HeaderXRequestID), c.Path())
			c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), reqCtx)))
			c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)

			err := next(c)

			status := c.Response().Status
			attrs := []any{
				"method", req.Method,
				observability.LogFieldDuration, reqCtx.Duration().Milliseconds(),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
				attrs = append(attrs, "error", err)
			} else if err != nil {
				apiErr := apierrors.From(err)
				status = apiErr.HTTPStatus()
				attrs = append(attrs, observability.LogFieldErrorCode, string(apiErr.Code), "error", err)
			}
			attrs = append(attrs, observability.LogFieldStatus, status)
			if metrics != nil {
				metrics.Record(c.Path(), reqCtx.Duration(), status >= 500)
			}
			if status >= 500 {
				reqCtx.Logger.Error("request failed", attrs...)
			} else {
				reqCtx.Logger.Info("request completed", attrs...)
			}
			return err
		}
	}
}
