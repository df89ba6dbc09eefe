package schema

import "sync"

// Policy is one row of the per-entity role permission grid.
type Policy struct {
	TenantID  string `json:"tenant_id,omitempty"`
	Entity    string `json:"entity_name,omitempty"`
	Role      string `json:"role"`
	CanRead   bool   `json:"can_read"`
	CanCreate bool   `json:"can_create"`
	CanUpdate bool   `json:"can_update"`
	CanDelete bool   `json:"can_delete"`
}

// Allows reports whether the policy grants the given CRUD action.
func (p Policy) Allows(action string) bool {
	switch action {
	case "read":
		return p.CanRead
	case "create":
		return p.CanCreate
	case "update":
		return p.CanUpdate
	case "delete":
		return p.CanDelete
	default:
		return false
	}
}

type contractKey struct {
	tenant string
	name   string
}

type policyKey struct {
	tenant string
	entity string
}

// Registry is the in-process cache of compiled contracts, keyed by
// (tenant, entity name). Writers replace whole entries under the lock, so a
// concurrent reader always resolves either the old contract or the new one,
// never a partial update. Passed by reference; never a package-level global.
type Registry struct {
	mu        sync.RWMutex
	contracts map[contractKey]*Contract
	policies  map[policyKey][]Policy
}

func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[contractKey]*Contract),
		policies:  make(map[policyKey][]Policy),
	}
}

// Register publishes a contract, replacing any prior entry for the same
// (tenant, entity). Re-registering identical content is an idempotent swap.
func (r *Registry) Register(c *Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[contractKey{c.TenantID, c.Name}] = c
}

// Resolve returns the live contract for (tenant, name), or nil.
func (r *Registry) Resolve(tenant, name string) *Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contracts[contractKey{tenant, name}]
}

// Unregister withdraws a contract. Requests for the entity fail with an
// unknown-entity error from then on.
func (r *Registry) Unregister(tenant, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contracts, contractKey{tenant, name})
}

// TenantContracts returns all contracts registered for a tenant.
func (r *Registry) TenantContracts(tenant string) []*Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Contract
	for k, c := range r.contracts {
		if k.tenant == tenant {
			out = append(out, c)
		}
	}
	return out
}

// Load replaces all contracts at once. Called during startup.
func (r *Registry) Load(contracts []*Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts = make(map[contractKey]*Contract, len(contracts))
	for _, c := range contracts {
		r.contracts[contractKey{c.TenantID, c.Name}] = c
	}
}

// LoadPolicies replaces all permission policies at once.
func (r *Registry) LoadPolicies(policies []Policy) {
	grouped := make(map[policyKey][]Policy)
	for _, p := range policies {
		k := policyKey{p.TenantID, p.Entity}
		grouped[k] = append(grouped[k], p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = grouped
}

// SetPolicies replaces the policies for one (tenant, entity).
func (r *Registry) SetPolicies(tenant, entity string, policies []Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := policyKey{tenant, entity}
	if len(policies) == 0 {
		delete(r.policies, k)
		return
	}
	r.policies[k] = policies
}

// GetPolicies returns the permission policies for (tenant, entity). An empty
// result means no grid is configured for the entity.
func (r *Registry) GetPolicies(tenant, entity string) []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[policyKey{tenant, entity}]
}
