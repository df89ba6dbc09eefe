package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"univera-backend/internal/record"
	"univera-backend/internal/schema"
	"univera-backend/internal/store"
)

// RecordStore is the persistence surface the generic handlers drive. Satisfied
// by *record.Store; faked in tests.
type RecordStore interface {
	Create(ctx context.Context, tenant, entity string, doc map[string]any, actor string) (map[string]any, error)
	Get(ctx context.Context, tenant, entity, id string) (map[string]any, error)
	List(ctx context.Context, tenant, entity string, opts record.ListOptions) ([]map[string]any, int64, error)
	Update(ctx context.Context, tenant, entity, id string, partial map[string]any, actor string) (map[string]any, error)
	Delete(ctx context.Context, tenant, entity, id string) error
}

// Handler serves the five CRUD operations for every published entity. There
// is one handler set for all entities; the contract is resolved from the
// registry per request, so publishing or withdrawing a schema needs no route
// changes.
type Handler struct {
	records  RecordStore
	registry *schema.Registry
}

func NewHandler(records RecordStore, reg *schema.Registry) *Handler {
	return &Handler{records: records, registry: reg}
}

// List handles GET /:entity
func (h *Handler) List(c *fiber.Ctx) error {
	user, contract, err := h.resolveContract(c)
	if err != nil {
		return err
	}
	if err := CheckPermission(user, contract.Name, "read", h.registry); err != nil {
		return err
	}

	opts, err := ParseListOptions(c, contract)
	if err != nil {
		return err
	}

	rows, total, err := h.records.List(c.Context(), user.TenantID, contract.Name, opts)
	if err != nil {
		return h.mapStoreError(c, contract.Name, "", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     opts.Page,
			"per_page": opts.PerPage,
			"total":    total,
		},
	})
}

// GetByID handles GET /:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	user, contract, err := h.resolveContract(c)
	if err != nil {
		return err
	}
	if err := CheckPermission(user, contract.Name, "read", h.registry); err != nil {
		return err
	}

	id := c.Params("id")
	row, err := h.records.Get(c.Context(), user.TenantID, contract.Name, id)
	if err != nil {
		return h.mapStoreError(c, contract.Name, id, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	user, contract, err := h.resolveContract(c)
	if err != nil {
		return err
	}
	if err := CheckPermission(user, contract.Name, "create", h.registry); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	row, err := h.records.Create(c.Context(), user.TenantID, contract.Name, body, user.ID)
	if err != nil {
		return h.mapStoreError(c, contract.Name, "", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": row})
}

// Update handles PUT and PATCH /:entity/:id with partial-merge semantics.
func (h *Handler) Update(c *fiber.Ctx) error {
	user, contract, err := h.resolveContract(c)
	if err != nil {
		return err
	}
	if err := CheckPermission(user, contract.Name, "update", h.registry); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	id := c.Params("id")
	row, err := h.records.Update(c.Context(), user.TenantID, contract.Name, id, body, user.ID)
	if err != nil {
		return h.mapStoreError(c, contract.Name, id, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// Delete handles DELETE /:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	user, contract, err := h.resolveContract(c)
	if err != nil {
		return err
	}
	if err := CheckPermission(user, contract.Name, "delete", h.registry); err != nil {
		return err
	}

	id := c.Params("id")
	if err := h.records.Delete(c.Context(), user.TenantID, contract.Name, id); err != nil {
		return h.mapStoreError(c, contract.Name, id, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// resolveContract looks up the live contract for the tenant of the request's
// principal. The entity name never crosses tenants: the tenant comes from the
// token, the name from the URL.
func (h *Handler) resolveContract(c *fiber.Ctx) (*schema.UserContext, *schema.Contract, error) {
	user := getUser(c)
	if user == nil {
		return nil, nil, UnauthorizedError("Authentication required")
	}
	name := c.Params("entity")
	contract := h.registry.Resolve(user.TenantID, name)
	if contract == nil {
		return nil, nil, UnknownEntityError(name)
	}
	return user, contract, nil
}

// mapStoreError translates record store outcomes into the response
// vocabulary. Anything unrecognized propagates to the top-level handler as a
// generic server error.
func (h *Handler) mapStoreError(c *fiber.Ctx, entity, id string, err error) error {
	var valErr *record.ValidationError
	if errors.As(err, &valErr) {
		return respondError(c, ValidationError(detailsFromFieldErrors(valErr.Details)))
	}
	if errors.Is(err, record.ErrSchemaNotFound) {
		return respondError(c, UnknownEntityError(entity))
	}
	if errors.Is(err, record.ErrNotFound) {
		return respondError(c, NotFoundError(entity, id))
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return respondError(c, ConflictError("A record with this value already exists"))
	}
	return fmt.Errorf("%s: %w", entity, err)
}

func getUser(c *fiber.Ctx) *schema.UserContext {
	user, _ := c.Locals("user").(*schema.UserContext)
	return user
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}
