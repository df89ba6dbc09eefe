package schema

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoadAll reads every stored schema and permission row into the registry so
// previously defined entities are servable immediately after boot. Rows that
// no longer compile are skipped with a warning rather than failing startup.
func LoadAll(ctx context.Context, pool *pgxpool.Pool, reg *Registry) error {
	contracts, err := loadContracts(ctx, pool)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	reg.Load(contracts)

	policies, err := loadPolicies(ctx, pool)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	reg.LoadPolicies(policies)

	log.Printf("Loaded %d entity contracts, %d permission policies into registry",
		len(contracts), len(policies))
	return nil
}

func loadContracts(ctx context.Context, pool *pgxpool.Pool) ([]*Contract, error) {
	rows, err := pool.Query(ctx,
		"SELECT tenant_id, name, definition FROM _entity_schemas ORDER BY tenant_id, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		var tenant, name string
		var defJSON []byte
		if err := rows.Scan(&tenant, &name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}

		es, err := decodeSchema(tenant, name, defJSON)
		if err != nil {
			log.Printf("WARN: skipping schema %s/%s (invalid JSON): %v", tenant, name, err)
			continue
		}
		contract, err := Compile(es)
		if err != nil {
			log.Printf("WARN: skipping schema %s/%s (does not compile): %v", tenant, name, err)
			continue
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}

func loadPolicies(ctx context.Context, pool *pgxpool.Pool) ([]Policy, error) {
	rows, err := pool.Query(ctx,
		`SELECT tenant_id, entity_name, role, can_read, can_create, can_update, can_delete
		 FROM _permissions ORDER BY tenant_id, entity_name, role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.TenantID, &p.Entity, &p.Role,
			&p.CanRead, &p.CanCreate, &p.CanUpdate, &p.CanDelete); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
