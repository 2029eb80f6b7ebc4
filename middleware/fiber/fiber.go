// Package fiber mounts the bookingsync endpoints on a Fiber app or router.
// Fiber runs on fasthttp; requests are converted to net/http with the adaptor
// middleware, which keeps the raw body intact for signature verification.
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	httpmw "github.com/mihaimyh/bookingsync/middleware/http"
)

// Register adds the webhook, confirmation, health and metrics routes to r.
func Register(r fiber.Router, config httpmw.Config) {
	for _, route := range httpmw.Routes(config) {
		handler := route.Handler
		if config.Logger != nil {
			handler = httpmw.RequestLogger(*config.Logger)(handler)
		}

		h := adaptor.HTTPHandler(handler)
		if route.Method == "" {
			r.All(route.Path, h)
			continue
		}
		r.Add(route.Method, route.Path, h)
	}
}
