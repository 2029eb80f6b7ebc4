// Package gin mounts the bookingsync endpoints on a Gin engine or route group
package gin

import (
	gongin "github.com/gin-gonic/gin"

	httpmw "github.com/mihaimyh/bookingsync/middleware/http"
)

// Register adds the webhook, confirmation, health and metrics routes to r.
// Handlers receive the untouched *http.Request, so webhook signatures are
// verified over the exact bytes the provider sent.
func Register(r gongin.IRoutes, config httpmw.Config) {
	for _, route := range httpmw.Routes(config) {
		handler := route.Handler
		if config.Logger != nil {
			handler = httpmw.RequestLogger(*config.Logger)(handler)
		}

		h := gongin.WrapH(handler)
		if route.Method == "" {
			r.Any(route.Path, h)
			continue
		}
		r.Handle(route.Method, route.Path, h)
	}
}
