// Package admin exposes the schema management surface. Schemas are compiled
// before they are persisted, so a definition that reaches the registry is
// always servable.
package admin

import (
	"github.com/gofiber/fiber/v2"

	"univera-backend/internal/auth"
	"univera-backend/internal/engine"
	"univera-backend/internal/schema"
	"univera-backend/internal/store"
)

type Handler struct {
	schemas  *schema.Store
	registry *schema.Registry
	db       *store.Store
}

func NewHandler(schemas *schema.Store, reg *schema.Registry, db *store.Store) *Handler {
	return &Handler{schemas: schemas, registry: reg, db: db}
}

// Create handles POST /schemas. Registering a name that already exists
// replaces the stored definition and the live contract in one step.
func (h *Handler) Create(c *fiber.Ctx) error {
	user := auth.GetUser(c)

	var es schema.EntitySchema
	if err := c.BodyParser(&es); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}
	es.TenantID = user.TenantID

	return h.publish(c, &es, fiber.StatusCreated)
}

// Update handles PUT /schemas/:name. The path name wins over any name in the
// body.
func (h *Handler) Update(c *fiber.Ctx) error {
	user := auth.GetUser(c)

	var es schema.EntitySchema
	if err := c.BodyParser(&es); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}
	es.TenantID = user.TenantID
	es.Name = c.Params("name")

	return h.publish(c, &es, fiber.StatusOK)
}

func (h *Handler) publish(c *fiber.Ctx, es *schema.EntitySchema, status int) error {
	contract, err := schema.Compile(es)
	if err != nil {
		return engine.NewAppError("INVALID_DEFINITION", fiber.StatusBadRequest, err.Error())
	}

	if err := h.schemas.Put(c.Context(), es); err != nil {
		return err
	}
	// Persist first, publish second. A registry entry without a stored row
	// would vanish on restart.
	h.registry.Register(contract)

	return c.Status(status).JSON(fiber.Map{"data": es})
}

// List handles GET /schemas.
func (h *Handler) List(c *fiber.Ctx) error {
	user := auth.GetUser(c)

	rows, err := h.schemas.List(c.Context(), user.TenantID)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// Get handles GET /schemas/:name.
func (h *Handler) Get(c *fiber.Ctx) error {
	user := auth.GetUser(c)
	name := c.Params("name")

	es, err := h.schemas.Get(c.Context(), user.TenantID, name)
	if err != nil {
		if schema.IsNotFound(err) {
			return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Schema not found: "+name)
		}
		return err
	}
	return c.JSON(fiber.Map{"data": es})
}

// Delete handles DELETE /schemas/:name. Withdrawing a schema makes the
// entity's routes answer unknown-entity immediately; existing records stay in
// place.
func (h *Handler) Delete(c *fiber.Ctx) error {
	user := auth.GetUser(c)
	name := c.Params("name")

	if err := h.schemas.Delete(c.Context(), user.TenantID, name); err != nil {
		if schema.IsNotFound(err) {
			return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Schema not found: "+name)
		}
		return err
	}
	h.registry.Unregister(user.TenantID, name)

	return c.JSON(fiber.Map{"data": fiber.Map{"name": name, "deleted": true}})
}

// GetPermissions handles GET /schemas/:name/permissions.
func (h *Handler) GetPermissions(c *fiber.Ctx) error {
	user := auth.GetUser(c)
	name := c.Params("name")

	if h.registry.Resolve(user.TenantID, name) == nil {
		return engine.UnknownEntityError(name)
	}

	policies := h.registry.GetPolicies(user.TenantID, name)
	if policies == nil {
		policies = []schema.Policy{}
	}
	return c.JSON(fiber.Map{"data": policies})
}

// SetPermissions handles PUT /schemas/:name/permissions. The body replaces
// the whole grid for the entity; an empty list reverts it to default-open.
func (h *Handler) SetPermissions(c *fiber.Ctx) error {
	user := auth.GetUser(c)
	name := c.Params("name")

	if h.registry.Resolve(user.TenantID, name) == nil {
		return engine.UnknownEntityError(name)
	}

	var body struct {
		Permissions []schema.Policy `json:"permissions"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}

	seen := make(map[string]bool, len(body.Permissions))
	for i := range body.Permissions {
		p := &body.Permissions[i]
		if p.Role == "" {
			return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Permission entry missing role")
		}
		if seen[p.Role] {
			return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Duplicate role in permission grid: "+p.Role)
		}
		seen[p.Role] = true
		p.TenantID = user.TenantID
		p.Entity = name
	}

	if err := h.replacePermissions(c, user.TenantID, name, body.Permissions); err != nil {
		return err
	}
	h.registry.SetPolicies(user.TenantID, name, body.Permissions)

	return c.JSON(fiber.Map{"data": body.Permissions})
}

func (h *Handler) replacePermissions(c *fiber.Ctx, tenant, entity string, policies []schema.Policy) error {
	ctx := c.Context()
	tx, err := h.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM _permissions WHERE tenant_id = $1 AND entity_name = $2",
		tenant, entity); err != nil {
		return err
	}
	for _, p := range policies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO _permissions (tenant_id, entity_name, role, can_read, can_create, can_update, can_delete)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			tenant, entity, p.Role, p.CanRead, p.CanCreate, p.CanUpdate, p.CanDelete); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RegisterAdminRoutes mounts the schema management endpoints. All of them
// require an authenticated admin.
func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	grp := app.Group("/schemas", middleware...)
	grp.Get("/", h.List)
	grp.Post("/", h.Create)
	grp.Get("/:name", h.Get)
	grp.Put("/:name", h.Update)
	grp.Delete("/:name", h.Delete)
	grp.Get("/:name/permissions", h.GetPermissions)
	grp.Put("/:name/permissions", h.SetPermissions)
}
