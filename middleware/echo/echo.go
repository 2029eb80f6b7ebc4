// Package echo mounts the bookingsync endpoints on an Echo instance
package echo

import (
	"github.com/labstack/echo/v4"

	httpmw "github.com/mihaimyh/bookingsync/middleware/http"
)

// Register adds the webhook, confirmation, health and metrics routes to e.
func Register(e *echo.Echo, config httpmw.Config) {
	for _, route := range httpmw.Routes(config) {
		handler := route.Handler
		if config.Logger != nil {
			handler = httpmw.RequestLogger(*config.Logger)(handler)
		}

		h := echo.WrapHandler(handler)
		if route.Method == "" {
			e.Any(route.Path, h)
			continue
		}
		e.Add(route.Method, route.Path, h)
	}
}
