package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"univera-backend/internal/record"
	"univera-backend/internal/schema"
)

// fakeRecordStore keeps records in memory, keyed per tenant and entity, and
// runs contract validation the way the real store does.
type fakeRecordStore struct {
	registry *schema.Registry
	records  map[string]map[string]any
	nextID   int
}

func newFakeRecordStore(reg *schema.Registry) *fakeRecordStore {
	return &fakeRecordStore{registry: reg, records: map[string]map[string]any{}}
}

func (f *fakeRecordStore) key(tenant, entity, id string) string {
	return tenant + "/" + entity + "/" + id
}

func (f *fakeRecordStore) Create(ctx context.Context, tenant, entity string, doc map[string]any, actor string) (map[string]any, error) {
	contract := f.registry.Resolve(tenant, entity)
	if contract == nil {
		return nil, record.ErrSchemaNotFound
	}
	coerced, errs := contract.Validate(doc, false)
	if errs != nil {
		return nil, &record.ValidationError{Details: errs}
	}
	f.nextID++
	id := fmt.Sprintf("id-%d", f.nextID)
	stored := map[string]any{"id": id}
	for k, v := range coerced {
		stored[k] = v
	}
	f.records[f.key(tenant, entity, id)] = stored
	return stored, nil
}

func (f *fakeRecordStore) Get(ctx context.Context, tenant, entity, id string) (map[string]any, error) {
	if f.registry.Resolve(tenant, entity) == nil {
		return nil, record.ErrSchemaNotFound
	}
	row, ok := f.records[f.key(tenant, entity, id)]
	if !ok {
		return nil, record.ErrNotFound
	}
	return row, nil
}

func (f *fakeRecordStore) List(ctx context.Context, tenant, entity string, opts record.ListOptions) ([]map[string]any, int64, error) {
	if f.registry.Resolve(tenant, entity) == nil {
		return nil, 0, record.ErrSchemaNotFound
	}
	prefix := tenant + "/" + entity + "/"
	var rows []map[string]any
	for k, v := range f.records {
		if strings.HasPrefix(k, prefix) {
			rows = append(rows, v)
		}
	}
	return rows, int64(len(rows)), nil
}

func (f *fakeRecordStore) Update(ctx context.Context, tenant, entity, id string, partial map[string]any, actor string) (map[string]any, error) {
	contract := f.registry.Resolve(tenant, entity)
	if contract == nil {
		return nil, record.ErrSchemaNotFound
	}
	row, ok := f.records[f.key(tenant, entity, id)]
	if !ok {
		return nil, record.ErrNotFound
	}
	coerced, errs := contract.Validate(partial, true)
	if errs != nil {
		return nil, &record.ValidationError{Details: errs}
	}
	for k, v := range coerced {
		row[k] = v
	}
	return row, nil
}

func (f *fakeRecordStore) Delete(ctx context.Context, tenant, entity, id string) error {
	if f.registry.Resolve(tenant, entity) == nil {
		return record.ErrSchemaNotFound
	}
	k := f.key(tenant, entity, id)
	if _, ok := f.records[k]; !ok {
		return record.ErrNotFound
	}
	delete(f.records, k)
	return nil
}

// newTestApp wires the dynamic routes behind a stub auth middleware that
// injects the given user, mirroring the production route order.
func newTestApp(reg *schema.Registry, user *schema.UserContext) (*fiber.App, *fakeRecordStore) {
	store := newFakeRecordStore(reg)
	h := NewHandler(store, reg)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *AppError
			if ok := asAppError(err, &appErr); ok {
				return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
			}
			return c.Status(500).JSON(ErrorResponse{Error: NewAppError("INTERNAL_ERROR", 500, "Internal server error")})
		},
	})
	authStub := func(c *fiber.Ctx) error {
		if user != nil {
			c.Locals("user", user)
		}
		return c.Next()
	}
	RegisterDynamicRoutes(app, h, authStub)
	return app, store
}

func asAppError(err error, target **AppError) bool {
	ae, ok := err.(*AppError)
	if ok {
		*target = ae
	}
	return ok
}

func registerBook(t *testing.T, reg *schema.Registry, tenant string) {
	t.Helper()
	c, err := schema.Compile(&schema.EntitySchema{
		TenantID: tenant,
		Name:     "book",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: "string", Required: true},
			{Name: "pages", Type: "integer"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	reg.Register(c)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var parsed map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("%s %s: bad response body %q: %v", method, path, raw, err)
		}
	}
	return resp, parsed
}

func TestHandler_RequiresAuth(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	app, _ := newTestApp(reg, nil)

	resp, body := doJSON(t, app, "GET", "/book", nil)
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401 without principal, got %d", resp.StatusCode)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", errObj["code"])
	}
}

func TestHandler_UnknownEntity(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	resp, body := doJSON(t, app, "GET", "/invoice", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for unpublished entity, got %d", resp.StatusCode)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "UNKNOWN_ENTITY" {
		t.Fatalf("expected UNKNOWN_ENTITY, got %v", errObj["code"])
	}
	if !strings.Contains(errObj["message"].(string), "invoice") {
		t.Fatalf("message should name the entity: %v", errObj["message"])
	}
}

func TestHandler_CreateAndGet(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	resp, body := doJSON(t, app, "POST", "/book", map[string]any{"title": "Dune", "pages": 412})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("created record should carry an id")
	}
	if data["title"] != "Dune" {
		t.Fatalf("expected title Dune, got %v", data["title"])
	}

	resp, body = doJSON(t, app, "GET", "/book/"+id, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["data"].(map[string]any)["title"] != "Dune" {
		t.Fatal("fetched record should match created record")
	}
}

func TestHandler_ValidationFailure(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	// Missing required title plus a bad pages value: both reported at once.
	resp, body := doJSON(t, app, "POST", "/book", map[string]any{"pages": "lots"})
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %v", errObj["code"])
	}
	details := errObj["details"].([]any)
	if len(details) != 2 {
		t.Fatalf("expected 2 details, got %d: %v", len(details), details)
	}
}

func TestHandler_UnknownFieldRejected(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	resp, body := doJSON(t, app, "POST", "/book", map[string]any{"title": "Dune", "publisher": "x"})
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422 for unknown field, got %d: %v", resp.StatusCode, body)
	}
}

func TestHandler_UpdatePartial(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	_, body := doJSON(t, app, "POST", "/book", map[string]any{"title": "Dune", "pages": 412})
	id := body["data"].(map[string]any)["id"].(string)

	// PATCH with only pages keeps the title.
	resp, body := doJSON(t, app, "PATCH", "/book/"+id, map[string]any{"pages": 500})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["title"] != "Dune" {
		t.Fatalf("partial update must not drop absent fields: %v", data)
	}
	if data["pages"] != float64(500) {
		t.Fatalf("expected pages 500, got %v", data["pages"])
	}

	// PUT has the same merge semantics.
	resp, body = doJSON(t, app, "PUT", "/book/"+id, map[string]any{"pages": 600})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["data"].(map[string]any)["title"] != "Dune" {
		t.Fatal("PUT should merge, not replace")
	}
}

func TestHandler_DeleteTwice(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	_, body := doJSON(t, app, "POST", "/book", map[string]any{"title": "Dune"})
	id := body["data"].(map[string]any)["id"].(string)

	resp, body := doJSON(t, app, "DELETE", "/book/"+id, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["data"].(map[string]any)["deleted"] != true {
		t.Fatalf("expected deleted ack, got %v", body)
	}

	resp, body = doJSON(t, app, "DELETE", "/book/"+id, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("second delete should 404, got %d: %v", resp.StatusCode, body)
	}
}

func TestHandler_TenantIsolation(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	registerBook(t, reg, "t2")

	store := newFakeRecordStore(reg)
	h := NewHandler(store, reg)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *AppError
			if asAppError(err, &appErr) {
				return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
			}
			return c.SendStatus(500)
		},
	})
	// Tenant comes from a header here so one app can impersonate both users.
	RegisterDynamicRoutes(app, h, func(c *fiber.Ctx) error {
		c.Locals("user", &schema.UserContext{ID: "u", TenantID: c.Get("X-Tenant"), Roles: []string{"user"}})
		return c.Next()
	})

	req, _ := http.NewRequest("POST", "/book", strings.NewReader(`{"title":"Secret"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant", "t1")
	resp, _ := app.Test(req, -1)
	raw, _ := io.ReadAll(resp.Body)
	var created map[string]any
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("parse create response: %v", err)
	}
	id := created["data"].(map[string]any)["id"].(string)

	// The other tenant cannot read it even with the same entity name.
	req2, _ := http.NewRequest("GET", "/book/"+id, nil)
	req2.Header.Set("X-Tenant", "t2")
	resp2, _ := app.Test(req2, -1)
	if resp2.StatusCode != 404 {
		t.Fatalf("cross-tenant read should 404, got %d", resp2.StatusCode)
	}
}

func TestHandler_PublishThenWithdraw(t *testing.T) {
	reg := schema.NewRegistry()
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	// Before publishing, the entity does not exist.
	resp, _ := doJSON(t, app, "GET", "/book", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 before publish, got %d", resp.StatusCode)
	}

	// Publishing through the registry makes the routes answer immediately,
	// with no route changes.
	registerBook(t, reg, "t1")
	resp, _ = doJSON(t, app, "GET", "/book", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 after publish, got %d", resp.StatusCode)
	}

	reg.Unregister("t1", "book")
	resp, _ = doJSON(t, app, "GET", "/book", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 after withdraw, got %d", resp.StatusCode)
	}
}

func TestHandler_ListMeta(t *testing.T) {
	reg := schema.NewRegistry()
	registerBook(t, reg, "t1")
	user := &schema.UserContext{ID: "u1", TenantID: "t1", Roles: []string{"user"}}
	app, _ := newTestApp(reg, user)

	for i := 0; i < 3; i++ {
		doJSON(t, app, "POST", "/book", map[string]any{"title": fmt.Sprintf("Book %d", i)})
	}

	resp, body := doJSON(t, app, "GET", "/book?page=1&per_page=2", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	meta := body["meta"].(map[string]any)
	if meta["page"] != float64(1) || meta["per_page"] != float64(2) {
		t.Fatalf("pagination meta wrong: %v", meta)
	}
	if meta["total"] != float64(3) {
		t.Fatalf("expected total 3, got %v", meta["total"])
	}
}
