// Package http provides the HTTP server for the assistant.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/internal/service"
)

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := NewHandler(svc, logger)
	h.RegisterRoutes(e)

	return e
}
