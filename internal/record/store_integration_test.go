//go:build integration

package record_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"univera-backend/internal/config"
	"univera-backend/internal/record"
	"univera-backend/internal/schema"
	"univera-backend/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Host:     "localhost",
		Port:     5433,
		User:     "univera",
		Password: "univera",
		Name:     "univera",
		PoolSize: 4,
	})
	if err != nil {
		t.Fatalf("connect to test db: %v", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func registerCounter(t *testing.T, reg *schema.Registry, tenant string) {
	t.Helper()
	c, err := schema.Compile(&schema.EntitySchema{
		TenantID: tenant,
		Name:     "counter",
		Fields: []schema.FieldDefinition{
			{Name: "x", Type: "integer"},
			{Name: "y", Type: "integer"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	reg.Register(c)
}

// Two concurrent partial updates on the same record must both survive: the
// row lock taken by the update's fetch serializes the read-merge-write
// cycles, so neither merge happens against a stale document.
func TestUpdate_ConcurrentPartialsBothSurvive(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	defer db.Close()

	tenant := uuid.New().String()
	reg := schema.NewRegistry()
	registerCounter(t, reg, tenant)
	records := record.NewStore(db, reg)

	created, err := records.Create(ctx, tenant, "counter", map[string]any{}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created["id"].(string)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, partial := range []map[string]any{{"x": 1}, {"y": 2}} {
		wg.Add(1)
		go func(p map[string]any) {
			defer wg.Done()
			if _, err := records.Update(ctx, tenant, "counter", id, p, ""); err != nil {
				errs <- err
			}
		}(partial)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("update: %v", err)
	}

	got, err := records.Get(ctx, tenant, "counter", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["x"] == nil || got["y"] == nil {
		t.Fatalf("a concurrent update was lost: %v", got)
	}
}
