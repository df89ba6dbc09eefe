// Package record is the generic semi-structured record store. Every operation
// takes the tenant explicitly and validates against the contract resolved from
// the registry at call time, so a schema edit takes effect on the very next
// write.
package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"univera-backend/internal/schema"
	"univera-backend/internal/store"
)

type Store struct {
	db       *store.Store
	registry *schema.Registry
}

func NewStore(db *store.Store, reg *schema.Registry) *Store {
	return &Store{db: db, registry: reg}
}

// Create validates the document against the live contract, assigns an id and
// persists. The returned record includes system fields.
func (s *Store) Create(ctx context.Context, tenant, entity string, doc map[string]any, actor string) (map[string]any, error) {
	contract := s.registry.Resolve(tenant, entity)
	if contract == nil {
		return nil, ErrSchemaNotFound
	}

	clean, errs := contract.Validate(doc, false)
	if len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	if ruleErrs := contract.CheckRules(clean, nil, "create"); len(ruleErrs) > 0 {
		return nil, &ValidationError{Details: ruleErrs}
	}
	if err := s.checkUnique(ctx, tenant, entity, contract, clean, ""); err != nil {
		return nil, err
	}

	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row, err := store.QueryRow(ctx, tx,
		`INSERT INTO _records (id, tenant_id, entity_name, data, created_by, updated_by)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING id, data, created_at, updated_at`,
		id, tenant, entity, clean, nullableID(actor))
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	if err := s.writeLog(ctx, tx, id, tenant, entity, nil, clean, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return flattenRow(row), nil
}

// Get returns one record, or ErrNotFound.
func (s *Store) Get(ctx context.Context, tenant, entity, id string) (map[string]any, error) {
	row, err := s.fetch(ctx, tenant, entity, id)
	if err != nil {
		return nil, err
	}
	return flattenRow(row), nil
}

// List returns a page of records in stable creation order plus the total
// count for the same predicates.
func (s *Store) List(ctx context.Context, tenant, entity string, opts ListOptions) ([]map[string]any, int64, error) {
	if contract := s.registry.Resolve(tenant, entity); contract == nil {
		return nil, 0, ErrSchemaNotFound
	}

	q := buildListSQL(tenant, entity, opts)
	rows, err := store.QueryRows(ctx, s.db.Pool, q.SQL, q.Params...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", entity, err)
	}

	cq := buildCountSQL(tenant, entity, opts.Filters)
	countRow, err := store.QueryRow(ctx, s.db.Pool, cq.SQL, cq.Params...)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", entity, err)
	}
	total, _ := countRow["count"].(int64)

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, flattenRow(row))
	}
	return out, total, nil
}

// Update merges the partial document into the stored one and re-validates the
// merged result against the current contract. Keys orphaned by a schema
// shrink stay in the document but are not re-required. The stored document is
// read under a row lock inside the write transaction, so concurrent partial
// updates on the same id serialize and neither loses the other's fields.
func (s *Store) Update(ctx context.Context, tenant, entity, id string, partial map[string]any, actor string) (map[string]any, error) {
	contract := s.registry.Resolve(tenant, entity)
	if contract == nil {
		return nil, ErrSchemaNotFound
	}

	coerced, errs := contract.Validate(partial, true)
	if len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := store.QueryRow(ctx, tx, selectRecordForUpdateSQL, tenant, entity, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", entity, id, err)
	}
	before, _ := existing["data"].(map[string]any)
	if before == nil {
		before = map[string]any{}
	}

	merged := make(map[string]any, len(before)+len(coerced))
	for k, v := range before {
		merged[k] = v
	}
	for k, v := range coerced {
		merged[k] = v
	}

	if errs := contract.RevalidateMerged(merged); len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	if ruleErrs := contract.CheckRules(merged, before, "update"); len(ruleErrs) > 0 {
		return nil, &ValidationError{Details: ruleErrs}
	}
	if err := s.checkUnique(ctx, tenant, entity, contract, coerced, id); err != nil {
		return nil, err
	}

	row, err := store.QueryRow(ctx, tx,
		`UPDATE _records SET data = $4, updated_at = NOW(), updated_by = $5
		 WHERE tenant_id = $1 AND entity_name = $2 AND id = $3
		 RETURNING id, data, created_at, updated_at`,
		tenant, entity, id, merged, nullableID(actor))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update record: %w", err)
	}

	if err := s.writeLog(ctx, tx, id, tenant, entity, before, merged, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return flattenRow(row), nil
}

// Delete removes a record. Deleting a missing id returns ErrNotFound so
// callers can tell "already gone" from "deleted".
func (s *Store) Delete(ctx context.Context, tenant, entity, id string) error {
	existing, err := s.fetch(ctx, tenant, entity, id)
	if err != nil {
		return err
	}
	before, _ := existing["data"].(map[string]any)

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	affected, err := store.Exec(ctx, tx,
		"DELETE FROM _records WHERE tenant_id = $1 AND entity_name = $2 AND id = $3",
		tenant, entity, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := s.writeLog(ctx, tx, id, tenant, entity, before, nil, ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// selectRecordForUpdateSQL locks the row for the rest of the transaction, so
// a concurrent update's read-merge-write cycle waits here instead of merging
// against a stale document.
const selectRecordForUpdateSQL = `SELECT id, data, created_at, updated_at FROM _records
	 WHERE tenant_id = $1 AND entity_name = $2 AND id = $3
	 FOR UPDATE`

func (s *Store) fetch(ctx context.Context, tenant, entity, id string) (map[string]any, error) {
	if contract := s.registry.Resolve(tenant, entity); contract == nil {
		return nil, ErrSchemaNotFound
	}
	row, err := store.QueryRow(ctx, s.db.Pool,
		`SELECT id, data, created_at, updated_at FROM _records
		 WHERE tenant_id = $1 AND entity_name = $2 AND id = $3`,
		tenant, entity, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", entity, id, err)
	}
	return row, nil
}

// checkUnique probes for an existing record holding the same value in any
// unique field. For updates, the record itself is excluded.
func (s *Store) checkUnique(ctx context.Context, tenant, entity string, contract *schema.Contract, doc map[string]any, excludeID string) error {
	var errs []schema.FieldError
	for _, f := range contract.UniqueFields() {
		val, ok := doc[f.Name]
		if !ok || val == nil {
			continue
		}

		sql := `SELECT EXISTS(
		          SELECT 1 FROM _records
		          WHERE tenant_id = $1 AND entity_name = $2 AND data->>$3 = $4`
		args := []any{tenant, entity, f.Name, fmt.Sprintf("%v", val)}
		if excludeID != "" {
			sql += " AND id != $5"
			args = append(args, excludeID)
		}
		sql += ") AS taken"

		row, err := store.QueryRow(ctx, s.db.Pool, sql, args...)
		if err != nil {
			return fmt.Errorf("uniqueness check for %s: %w", f.Name, err)
		}
		if taken, _ := row["taken"].(bool); taken {
			errs = append(errs, schema.FieldError{
				Field:   f.Name,
				Rule:    "unique",
				Message: fmt.Sprintf("Field %s must be unique. Duplicate value: %v", f.Name, val),
			})
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Details: errs}
	}
	return nil
}

func (s *Store) writeLog(ctx context.Context, q store.Querier, recordID, tenant, entity string, before, after map[string]any, actor string) error {
	_, err := store.Exec(ctx, q,
		`INSERT INTO _record_logs (record_id, tenant_id, entity_name, before_data, after_data, changed_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		recordID, tenant, entity, before, after, nullableID(actor))
	if err != nil {
		return fmt.Errorf("write record log: %w", err)
	}
	return nil
}

// flattenRow merges the JSONB document with the system fields into one flat
// record map. Field names never collide with system columns; the contract
// rejects them at compile time.
func flattenRow(row map[string]any) map[string]any {
	data, _ := row["data"].(map[string]any)
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	out["id"] = row["id"]
	out["created_at"] = row["created_at"]
	out["updated_at"] = row["updated_at"]
	return out
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
