package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

func RegisterRoutes(server *echo.Echo, h *JobHandler) {
	imports := server.Group("/api/v1/imports")
	imports.POST("", h.SubmitImport)
	imports.GET("", h.ListImports)
	imports.GET("/:id", h.GetImport)
	imports.POST("/:id/cancel", h.CancelImport)

	server.GET("/metrics", h.GetMetrics)
	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// NewHTTPServer builds the echo instance with the standard middleware stack
// and every import route registered.
func NewHTTPServer(h *JobHandler, bodyLimit string) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	if bodyLimit != "" {
		server.Use(middleware.BodyLimit(bodyLimit))
	}
	server.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency.Round(time.Microsecond)).
				Msg("request")
			return nil
		},
	}))

	RegisterRoutes(server, h)
	return server
}
