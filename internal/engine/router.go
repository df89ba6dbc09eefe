package engine

import "github.com/gofiber/fiber/v2"

// RegisterDynamicRoutes mounts the generic CRUD handlers at the root. These
// must be registered after every static route group so reserved segments win
// the match. Whether a given entity name actually serves is decided per
// request by the registry: registering a contract publishes the routes,
// unregistering withdraws them.
func RegisterDynamicRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	handlers := func(final fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, middleware...), final)
	}

	app.Get("/:entity", handlers(h.List)...)
	app.Post("/:entity", handlers(h.Create)...)
	app.Get("/:entity/:id", handlers(h.GetByID)...)
	app.Put("/:entity/:id", handlers(h.Update)...)
	app.Patch("/:entity/:id", handlers(h.Update)...)
	app.Delete("/:entity/:id", handlers(h.Delete)...)
}
