package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"univera-backend/internal/store"
)

// Store persists entity schemas in the _entity_schemas system table. Put
// overwrites wholesale; there is no merge against the prior field list.
type Store struct {
	db *store.Store
}

func NewStore(db *store.Store) *Store {
	return &Store{db: db}
}

// Put creates or replaces the schema for (tenant, name).
func (s *Store) Put(ctx context.Context, es *EntitySchema) error {
	defJSON, err := json.Marshal(es)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	_, err = store.Exec(ctx, s.db.Pool,
		`INSERT INTO _entity_schemas (tenant_id, name, definition)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, name)
		 DO UPDATE SET definition = EXCLUDED.definition, updated_at = NOW()`,
		es.TenantID, es.Name, defJSON)
	if err != nil {
		return fmt.Errorf("put schema %s: %w", es.Name, err)
	}
	return nil
}

// Get returns the stored schema for (tenant, name).
func (s *Store) Get(ctx context.Context, tenant, name string) (*EntitySchema, error) {
	row := s.db.Pool.QueryRow(ctx,
		"SELECT definition FROM _entity_schemas WHERE tenant_id = $1 AND name = $2",
		tenant, name)

	var defJSON []byte
	if err := row.Scan(&defJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get schema %s: %w", name, err)
	}
	return decodeSchema(tenant, name, defJSON)
}

// List returns all schema rows for a tenant, with timestamps, for the admin
// surface.
func (s *Store) List(ctx context.Context, tenant string) ([]map[string]any, error) {
	rows, err := store.QueryRows(ctx, s.db.Pool,
		"SELECT name, definition, created_at, updated_at FROM _entity_schemas WHERE tenant_id = $1 ORDER BY name",
		tenant)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return rows, nil
}

// Delete removes the schema for (tenant, name). Returns store.ErrNotFound if
// no such schema exists.
func (s *Store) Delete(ctx context.Context, tenant, name string) error {
	affected, err := store.Exec(ctx, s.db.Pool,
		"DELETE FROM _entity_schemas WHERE tenant_id = $1 AND name = $2", tenant, name)
	if err != nil {
		return fmt.Errorf("delete schema %s: %w", name, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func decodeSchema(tenant, name string, defJSON []byte) (*EntitySchema, error) {
	var es EntitySchema
	if err := json.Unmarshal(defJSON, &es); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", name, err)
	}
	// Stored definitions are authoritative for fields; identity comes from the
	// row key.
	es.TenantID = tenant
	es.Name = name
	return &es, nil
}
