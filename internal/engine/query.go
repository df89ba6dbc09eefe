package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"univera-backend/internal/record"
	"univera-backend/internal/schema"
)

var filterOperators = map[string]bool{
	"eq": true, "neq": true,
	"gt": true, "gte": true,
	"lt": true, "lte": true,
	"like": true,
}

// ParseListOptions parses pagination, filter and sort query parameters into
// record.ListOptions. Filter values are coerced to the field's declared type
// so range predicates compare numerically, not lexically.
func ParseListOptions(c *fiber.Ctx, contract *schema.Contract) (record.ListOptions, error) {
	opts := record.ListOptions{
		Page:    1,
		PerPage: record.DefaultPerPage,
	}

	// Parse filters: filter[field]=val or filter[field.op]=val
	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		field, op := parseFilterKey(inner)

		if !filterOperators[op] {
			return opts, NewAppError("INVALID_PAYLOAD", 400,
				fmt.Sprintf("Unknown filter operator: %s", op))
		}
		if contract.Field(field) == nil {
			return opts, NewAppError("UNKNOWN_FIELD", 400,
				fmt.Sprintf("Unknown filter field: %s", field))
		}

		coerced, err := contract.CoerceQueryValue(field, val)
		if err != nil {
			return opts, NewAppError("INVALID_PAYLOAD", 400,
				fmt.Sprintf("Invalid filter value for %s: %v", field, err))
		}

		opts.Filters = append(opts.Filters, record.Filter{
			Field:    field,
			Operator: op,
			Value:    coerced,
		})
	}

	// Parse sort: sort=-created_at,name
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !isSystemSortField(field) && contract.Field(field) == nil {
				return opts, NewAppError("UNKNOWN_FIELD", 400,
					fmt.Sprintf("Unknown sort field: %s", field))
			}
			opts.Sorts = append(opts.Sorts, record.Sort{Field: field, Dir: dir})
		}
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			opts.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			opts.PerPage = v
			if opts.PerPage > record.MaxPerPage {
				opts.PerPage = record.MaxPerPage
			}
		}
	}

	return opts, nil
}

// parseFilterKey splits "age.gte" into ("age", "gte") or "status" into
// ("status", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

func isSystemSortField(field string) bool {
	return field == "created_at" || field == "updated_at" || field == "id"
}
