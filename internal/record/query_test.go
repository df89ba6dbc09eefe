package record

import (
	"strings"
	"testing"
)

func TestBuildListSQL_Defaults(t *testing.T) {
	q := buildListSQL("t1", "book", ListOptions{})

	if !strings.Contains(q.SQL, "tenant_id = $1") || !strings.Contains(q.SQL, "entity_name = $2") {
		t.Fatalf("tenant and entity predicates missing: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "ORDER BY created_at ASC, id ASC") {
		t.Fatalf("default order must be stable: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "LIMIT $3 OFFSET $4") {
		t.Fatalf("pagination params missing: %s", q.SQL)
	}
	want := []any{"t1", "book", DefaultPerPage, 0}
	if len(q.Params) != len(want) {
		t.Fatalf("params: got %v want %v", q.Params, want)
	}
	for i := range want {
		if q.Params[i] != want[i] {
			t.Fatalf("param %d: got %v want %v", i, q.Params[i], want[i])
		}
	}
}

func TestBuildListSQL_TypedFilters(t *testing.T) {
	q := buildListSQL("t1", "book", ListOptions{
		Filters: []Filter{
			{Field: "pages", Operator: "gte", Value: int64(100)},
			{Field: "title", Operator: "like", Value: "%dune%"},
			{Field: "in_print", Operator: "eq", Value: true},
		},
	})

	// Numeric comparisons must not compare lexically.
	if !strings.Contains(q.SQL, "(data->>'pages')::numeric") || !strings.Contains(q.SQL, ">= $3") {
		t.Fatalf("numeric filter missing cast: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "data->>'title' LIKE $4") {
		t.Fatalf("like filter wrong: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "(data->>'in_print')::boolean") {
		t.Fatalf("boolean filter missing cast: %s", q.SQL)
	}
}

// A field's type can change across schema versions, leaving old rows with
// values the new cast cannot parse. The cast is guarded so those rows fall
// out of the result instead of failing the whole query.
func TestFieldExpr_GuardedCasts(t *testing.T) {
	numeric := fieldExpr("pages", int64(100))
	if !strings.Contains(numeric, "CASE WHEN data->>'pages' ~") {
		t.Fatalf("numeric cast must be pattern-guarded: %s", numeric)
	}
	if !strings.Contains(numeric, "(data->>'pages')::numeric") {
		t.Fatalf("guarded expression must still cast: %s", numeric)
	}

	boolean := fieldExpr("in_print", true)
	if !strings.Contains(boolean, "CASE WHEN data->>'in_print' IN ('true', 'false')") {
		t.Fatalf("boolean cast must be value-guarded: %s", boolean)
	}

	// Text comparisons need no guard.
	if got := fieldExpr("title", "dune"); got != "data->>'title'" {
		t.Fatalf("string filter should be the bare extraction: %s", got)
	}
}

func TestBuildListSQL_SortAndPagination(t *testing.T) {
	q := buildListSQL("t1", "book", ListOptions{
		Sorts:   []Sort{{Field: "title", Dir: "DESC"}, {Field: "created_at", Dir: "ASC"}},
		Page:    3,
		PerPage: 10,
	})

	if !strings.Contains(q.SQL, "ORDER BY data->>'title' DESC, created_at ASC, id ASC") {
		t.Fatalf("sort clause wrong (id tiebreaker required): %s", q.SQL)
	}
	// Page 3 of 10 means offset 20.
	last := q.Params[len(q.Params)-1]
	if last != 20 {
		t.Fatalf("expected offset 20, got %v", last)
	}
}

func TestBuildListSQL_PerPageClamped(t *testing.T) {
	q := buildListSQL("t1", "book", ListOptions{PerPage: 5000})
	for _, p := range q.Params {
		if p == 5000 {
			t.Fatalf("per_page must clamp to %d: %v", MaxPerPage, q.Params)
		}
	}
	found := false
	for _, p := range q.Params {
		if p == MaxPerPage {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected clamped limit %d in params: %v", MaxPerPage, q.Params)
	}
}

func TestBuildCountSQL_SharesPredicates(t *testing.T) {
	q := buildCountSQL("t1", "book", []Filter{{Field: "pages", Operator: "lt", Value: int64(50)}})

	if !strings.HasPrefix(q.SQL, "SELECT COUNT(*)") {
		t.Fatalf("not a count query: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "(data->>'pages')::numeric") || !strings.Contains(q.SQL, "< $3") {
		t.Fatalf("count must apply the same filters: %s", q.SQL)
	}
	if strings.Contains(q.SQL, "LIMIT") || strings.Contains(q.SQL, "OFFSET") {
		t.Fatalf("count must not paginate: %s", q.SQL)
	}
	if len(q.Params) != 3 {
		t.Fatalf("expected 3 params, got %v", q.Params)
	}
}
