package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/taskmesh/master/internal/dispatcher"
)

// NewServer creates and configures the master's HTTP server.
func NewServer(d *dispatcher.Dispatcher) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := NewHandler(d)
	h.RegisterRoutes(e)

	return e
}
