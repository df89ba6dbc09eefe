package record

import (
	"fmt"
	"strings"
)

// Filter is one equality/range predicate against a top-level document field.
// Value is already coerced to the field's type.
type Filter struct {
	Field    string
	Operator string
	Value    any
}

type Sort struct {
	Field string
	Dir   string // ASC or DESC
}

type ListOptions struct {
	Filters []Filter
	Sorts   []Sort
	Page    int
	PerPage int
}

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

type sqlQuery struct {
	SQL    string
	Params []any
}

type paramBuilder struct {
	params []any
	n      int
}

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

// fieldExpr returns the SQL expression extracting a top-level document field,
// cast to match the filter value's type. The casts are guarded: a stored
// value written under an earlier schema with a different type yields NULL and
// drops out of the match instead of aborting the query with a cast error.
func fieldExpr(field string, value any) string {
	base := fmt.Sprintf("data->>'%s'", field)
	switch value.(type) {
	case int64, float64:
		return fmt.Sprintf(`(CASE WHEN %s ~ '^-?[0-9]+(\.[0-9]+)?$' THEN (%s)::numeric END)`, base, base)
	case bool:
		return fmt.Sprintf("(CASE WHEN %s IN ('true', 'false') THEN (%s)::boolean END)", base, base)
	default:
		return base
	}
}

func buildWhere(tenant, entity string, filters []Filter, pb *paramBuilder) []string {
	where := []string{
		fmt.Sprintf("tenant_id = %s", pb.Add(tenant)),
		fmt.Sprintf("entity_name = %s", pb.Add(entity)),
	}
	for _, f := range filters {
		expr := fieldExpr(f.Field, f.Value)
		switch f.Operator {
		case "eq", "":
			where = append(where, fmt.Sprintf("%s = %s", expr, pb.Add(f.Value)))
		case "neq":
			where = append(where, fmt.Sprintf("%s != %s", expr, pb.Add(f.Value)))
		case "gt":
			where = append(where, fmt.Sprintf("%s > %s", expr, pb.Add(f.Value)))
		case "gte":
			where = append(where, fmt.Sprintf("%s >= %s", expr, pb.Add(f.Value)))
		case "lt":
			where = append(where, fmt.Sprintf("%s < %s", expr, pb.Add(f.Value)))
		case "lte":
			where = append(where, fmt.Sprintf("%s <= %s", expr, pb.Add(f.Value)))
		case "like":
			where = append(where, fmt.Sprintf("%s LIKE %s", expr, pb.Add(f.Value)))
		default:
			where = append(where, fmt.Sprintf("%s = %s", expr, pb.Add(f.Value)))
		}
	}
	return where
}

// buildListSQL builds the paginated SELECT for a tenant's entity records.
// Creation order is the default so pages are stable across requests.
func buildListSQL(tenant, entity string, opts ListOptions) sqlQuery {
	pb := &paramBuilder{}
	where := buildWhere(tenant, entity, opts.Filters, pb)

	sql := "SELECT id, data, created_at, updated_at FROM _records WHERE " +
		strings.Join(where, " AND ")

	if len(opts.Sorts) > 0 {
		var orderParts []string
		for _, s := range opts.Sorts {
			orderParts = append(orderParts, fmt.Sprintf("%s %s", sortExpr(s.Field), s.Dir))
		}
		orderParts = append(orderParts, "id ASC")
		sql += " ORDER BY " + strings.Join(orderParts, ", ")
	} else {
		sql += " ORDER BY created_at ASC, id ASC"
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", pb.Add(perPage), pb.Add((page-1)*perPage))

	return sqlQuery{SQL: sql, Params: pb.params}
}

// buildCountSQL builds the COUNT query with the same predicates as the list.
func buildCountSQL(tenant, entity string, filters []Filter) sqlQuery {
	pb := &paramBuilder{}
	where := buildWhere(tenant, entity, filters, pb)
	sql := "SELECT COUNT(*) AS count FROM _records WHERE " + strings.Join(where, " AND ")
	return sqlQuery{SQL: sql, Params: pb.params}
}

// sortExpr maps a sort field to a SQL expression. System timestamps are real
// columns; everything else is a document key.
func sortExpr(field string) string {
	switch field {
	case "created_at", "updated_at", "id":
		return field
	default:
		return fmt.Sprintf("data->>'%s'", field)
	}
}
