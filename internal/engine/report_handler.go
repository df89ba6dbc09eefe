package engine

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"univera-backend/internal/schema"
	"univera-backend/internal/store"
)

// ReportHandler serves tenant-scoped group-by aggregations over the stored
// documents of one entity.
type ReportHandler struct {
	db       *store.Store
	registry *schema.Registry
}

func NewReportHandler(db *store.Store, reg *schema.Registry) *ReportHandler {
	return &ReportHandler{db: db, registry: reg}
}

type reportRequest struct {
	Entity     string            `json:"entity"`
	GroupBy    string            `json:"group_by"`
	Aggregates []reportAggregate `json:"aggregates"`
	Filters    map[string]any    `json:"filters"`
	Order      string            `json:"order"`
}

type reportAggregate struct {
	Field string `json:"field"`
	Fn    string `json:"fn"` // sum, avg, min, max
}

// Summary handles POST /reports/summary.
func (h *ReportHandler) Summary(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return UnauthorizedError("Authentication required")
	}

	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	if req.Entity == "" || req.GroupBy == "" {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400,
			"Missing required parameters: entity or group_by"))
	}

	contract := h.registry.Resolve(user.TenantID, req.Entity)
	if contract == nil {
		return respondError(c, UnknownEntityError(req.Entity))
	}
	if err := CheckPermission(user, contract.Name, "read", h.registry); err != nil {
		return err
	}

	if contract.Field(req.GroupBy) == nil {
		return respondError(c, NewAppError("UNKNOWN_FIELD", 400,
			fmt.Sprintf("Unknown group_by field: %s", req.GroupBy)))
	}

	// Declared field names are the only SQL-injected identifiers; the
	// contract restricts them to [a-zA-Z0-9_].
	selects := []string{
		fmt.Sprintf("data->>'%s' AS group_value", req.GroupBy),
		"COUNT(*) AS count",
	}
	for _, agg := range req.Aggregates {
		field := contract.Field(agg.Field)
		if field == nil {
			return respondError(c, NewAppError("UNKNOWN_FIELD", 400,
				fmt.Sprintf("Unknown aggregate field: %s", agg.Field)))
		}
		switch agg.Fn {
		case "sum", "avg", "min", "max":
			selects = append(selects, fmt.Sprintf("%s((data->>'%s')::numeric) AS %s_%s",
				strings.ToUpper(agg.Fn), agg.Field, agg.Fn, agg.Field))
		default:
			return respondError(c, NewAppError("INVALID_PAYLOAD", 400,
				fmt.Sprintf("Unknown aggregate function: %s", agg.Fn)))
		}
	}

	params := []any{user.TenantID, req.Entity}
	where := []string{"tenant_id = $1", "entity_name = $2"}
	for field, val := range req.Filters {
		if contract.Field(field) == nil {
			return respondError(c, NewAppError("UNKNOWN_FIELD", 400,
				fmt.Sprintf("Unknown filter field: %s", field)))
		}
		params = append(params, fmt.Sprintf("%v", val))
		where = append(where, fmt.Sprintf("data->>'%s' = $%d", field, len(params)))
	}

	order := "ASC"
	if strings.EqualFold(req.Order, "desc") {
		order = "DESC"
	}

	sql := fmt.Sprintf("SELECT %s FROM _records WHERE %s GROUP BY 1 ORDER BY 1 %s",
		strings.Join(selects, ", "), strings.Join(where, " AND "), order)

	rows, err := store.QueryRows(c.Context(), h.db.Pool, sql, params...)
	if err != nil {
		return fmt.Errorf("report %s: %w", req.Entity, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{"data": rows})
}
