package engine

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"univera-backend/internal/record"
	"univera-backend/internal/schema"
)

func parseOptions(t *testing.T, query string) (record.ListOptions, error) {
	t.Helper()
	contract, err := schema.Compile(&schema.EntitySchema{
		TenantID: "t1",
		Name:     "person",
		Fields: []schema.FieldDefinition{
			{Name: "name", Type: "string"},
			{Name: "age", Type: "integer"},
			{Name: "active", Type: "boolean"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var opts record.ListOptions
	var parseErr error
	app := fiber.New()
	app.Get("/person", func(c *fiber.Ctx) error {
		opts, parseErr = ParseListOptions(c, contract)
		return c.SendStatus(200)
	})

	req, _ := http.NewRequest("GET", "/person"+query, nil)
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("request: %v", err)
	}
	return opts, parseErr
}

func TestParseListOptions_Defaults(t *testing.T) {
	opts, err := parseOptions(t, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Page != 1 || opts.PerPage != record.DefaultPerPage {
		t.Fatalf("expected defaults, got page=%d per_page=%d", opts.Page, opts.PerPage)
	}
	if len(opts.Filters) != 0 || len(opts.Sorts) != 0 {
		t.Fatal("no filters or sorts expected")
	}
}

func TestParseListOptions_FiltersCoerced(t *testing.T) {
	opts, err := parseOptions(t, "?filter[age.gte]=18&filter[name]=Ada&filter[active]=true")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(opts.Filters) != 3 {
		t.Fatalf("expected 3 filters, got %d", len(opts.Filters))
	}

	byField := map[string]record.Filter{}
	for _, f := range opts.Filters {
		byField[f.Field] = f
	}
	if f := byField["age"]; f.Operator != "gte" || f.Value != int64(18) {
		t.Fatalf("age filter wrong: %+v", f)
	}
	// Bare filter key means equality.
	if f := byField["name"]; f.Operator != "eq" || f.Value != "Ada" {
		t.Fatalf("name filter wrong: %+v", f)
	}
	if f := byField["active"]; f.Value != true {
		t.Fatalf("boolean filter should coerce: %+v", f)
	}
}

func TestParseListOptions_BadFilters(t *testing.T) {
	if _, err := parseOptions(t, "?filter[age.between]=1"); err == nil {
		t.Fatal("unknown operator should fail")
	}
	if _, err := parseOptions(t, "?filter[salary]=1"); err == nil {
		t.Fatal("undeclared filter field should fail")
	}
	if _, err := parseOptions(t, "?filter[age]=ten"); err == nil {
		t.Fatal("uncoercible filter value should fail")
	}
}

func TestParseListOptions_Sort(t *testing.T) {
	opts, err := parseOptions(t, "?sort=-age,name,created_at")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(opts.Sorts) != 3 {
		t.Fatalf("expected 3 sorts, got %d", len(opts.Sorts))
	}
	if opts.Sorts[0].Field != "age" || opts.Sorts[0].Dir != "DESC" {
		t.Fatalf("leading -field should sort DESC: %+v", opts.Sorts[0])
	}
	if opts.Sorts[1].Dir != "ASC" {
		t.Fatalf("bare field should sort ASC: %+v", opts.Sorts[1])
	}
	// System columns are sortable without being declared.
	if opts.Sorts[2].Field != "created_at" {
		t.Fatalf("system sort field rejected: %+v", opts.Sorts[2])
	}

	if _, err := parseOptions(t, "?sort=salary"); err == nil {
		t.Fatal("undeclared sort field should fail")
	}
}

func TestParseListOptions_PaginationClamped(t *testing.T) {
	opts, err := parseOptions(t, "?page=3&per_page=50")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Page != 3 || opts.PerPage != 50 {
		t.Fatalf("pagination not applied: %+v", opts)
	}

	opts, _ = parseOptions(t, "?per_page=1000")
	if opts.PerPage != record.MaxPerPage {
		t.Fatalf("per_page should clamp to %d, got %d", record.MaxPerPage, opts.PerPage)
	}

	// Garbage values fall back to defaults rather than erroring.
	opts, err = parseOptions(t, "?page=abc&per_page=-5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Page != 1 || opts.PerPage != record.DefaultPerPage {
		t.Fatalf("bad pagination should fall back to defaults: %+v", opts)
	}
}
