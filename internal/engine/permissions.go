package engine

import (
	"fmt"
	"strings"

	"univera-backend/internal/schema"
)

// CheckPermission verifies that the user may perform the given action on the
// entity. Admins bypass the grid. An entity with no configured policies is
// open to any authenticated member of the tenant; once policies exist, a row
// matching one of the user's roles with the action flag set is required.
func CheckPermission(user *schema.UserContext, entity, action string, reg *schema.Registry) error {
	if user == nil {
		return UnauthorizedError("Authentication required")
	}
	if user.IsAdmin() {
		return nil
	}

	policies := reg.GetPolicies(user.TenantID, entity)
	if len(policies) == 0 {
		return nil
	}

	for _, p := range policies {
		if !hasRole(user.Roles, p.Role) {
			continue
		}
		if p.Allows(action) {
			return nil
		}
	}

	return ForbiddenError(fmt.Sprintf("Permission denied for %s on %s", action, entity))
}

func hasRole(userRoles []string, policyRole string) bool {
	for _, r := range userRoles {
		if strings.EqualFold(r, policyRole) {
			return true
		}
	}
	return false
}
