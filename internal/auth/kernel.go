// -----------------------------------------------------------------------
// Authorization kernel - role permissions with inheritance, scope filters
// and per-instance grants; default deny
// -----------------------------------------------------------------------

package auth

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// Kernel implements permission resolution. Decision order: explicit deny
// on any effective role terminates, then role grants, then per-instance
// resource grants (direct, then via groups including the implicit public
// group), then default deny. A decision depends only on the identity's
// roles, grants and the target attributes.
type Kernel struct {
	storage interfaces.AuthStorage
	logger  arbor.ILogger
}

// NewKernel creates an authorization kernel.
func NewKernel(storage interfaces.AuthStorage, logger arbor.ILogger) *Kernel {
	return &Kernel{storage: storage, logger: logger}
}

// EffectiveRoles returns the transitive closure of the identity's assigned
// roles over parent_role inheritance.
func (k *Kernel) EffectiveRoles(ctx context.Context, identity *models.Identity) ([]string, error) {
	if identity == nil || identity.Anonymous {
		return nil, nil
	}

	assigned := make([]string, 0, len(identity.Roles)+4)
	assigned = append(assigned, identity.Roles...)
	if identity.UserID != 0 {
		stored, err := k.storage.GetRolesForUser(ctx, identity.UserID)
		if err != nil {
			return nil, err
		}
		assigned = append(assigned, stored...)
	}

	seen := make(map[string]struct{}, len(assigned))
	closure := make([]string, 0, len(assigned))
	var expand func(name string) error
	expand = func(name string) error {
		if name == "" {
			return nil
		}
		if _, done := seen[name]; done {
			return nil
		}
		seen[name] = struct{}{}
		closure = append(closure, name)

		role, err := k.storage.GetRole(ctx, name)
		if err != nil {
			// Dangling role assignment; skip rather than fail the request
			return nil
		}
		return expand(role.ParentRole)
	}
	for _, name := range assigned {
		if err := expand(name); err != nil {
			return nil, err
		}
	}
	return closure, nil
}

// HasPermission resolves one permission check.
func (k *Kernel) HasPermission(ctx context.Context, identity *models.Identity, resourceType, action string, target *models.TargetAttributes) (bool, error) {
	if identity != nil && identity.IsSystem() {
		return true, nil
	}

	roles, err := k.EffectiveRoles(ctx, identity)
	if err != nil {
		return false, err
	}

	if len(roles) > 0 {
		perms, err := k.storage.GetPermissions(ctx, roles, resourceType, action)
		if err != nil {
			return false, err
		}

		// Explicit deny terminates before any grant is considered
		for _, perm := range perms {
			if !perm.Granted && k.scopeMatches(perm, identity, target) {
				k.logger.Debug().
					Str("role", perm.Role).
					Str("resource", resourceType).
					Str("action", action).
					Msg("Permission denied by explicit deny rule")
				return false, nil
			}
		}
		for _, perm := range perms {
			if perm.Granted && k.scopeMatches(perm, identity, target) {
				return true, nil
			}
		}
	}

	return k.checkGrants(ctx, identity, resourceType, action, target)
}

// scopeMatches evaluates a permission's scope against the target. Filter
// conditions are AND-combined; an unevaluable scope (filter or instance
// scope with no target) never matches.
func (k *Kernel) scopeMatches(perm *models.RolePermission, identity *models.Identity, target *models.TargetAttributes) bool {
	switch perm.ScopeType {
	case models.ScopeGlobal, "":
		return true
	case models.ScopeInstance:
		return target != nil && perm.ScopeID != "" && perm.ScopeID == target.ResourceID
	case models.ScopeFilter:
		if target == nil {
			return false
		}
		for key, value := range perm.ScopeFilter {
			switch key {
			case models.FilterOwnerSelf:
				if value != "self" || identity == nil || identity.UserID == 0 || target.OwnerID != identity.UserID {
					return false
				}
			case models.FilterIsSystem:
				if (value == "true") != target.IsSystem {
					return false
				}
			default:
				return false // Unknown filter key never matches
			}
		}
		return len(perm.ScopeFilter) > 0
	default:
		return false
	}
}

// checkGrants falls back to per-instance resource grants: direct user
// grants first, then group grants. Every caller, anonymous included, is an
// implicit member of the public group.
func (k *Kernel) checkGrants(ctx context.Context, identity *models.Identity, resourceType, action string, target *models.TargetAttributes) (bool, error) {
	if target == nil || target.ResourceID == "" {
		return false, nil
	}

	grants, err := k.storage.GetGrants(ctx, resourceType, target.ResourceID)
	if err != nil {
		return false, err
	}
	if len(grants) == 0 {
		return false, nil
	}

	groupIDs := map[int64]struct{}{models.PublicGroupID: {}}
	if identity != nil {
		for _, id := range identity.GroupIDs {
			groupIDs[id] = struct{}{}
		}
	}

	for _, grant := range grants {
		if grant.Permission != action && grant.Permission != "*" {
			continue
		}
		switch grant.PrincipalType {
		case models.PrincipalUser:
			if identity != nil && identity.UserID != 0 && grant.PrincipalID == identity.UserID {
				return true, nil
			}
		case models.PrincipalGroup:
			if _, member := groupIDs[grant.PrincipalID]; member {
				return true, nil
			}
		}
	}
	return false, nil
}

// Compile-time interface check
var _ interfaces.AuthKernel = (*Kernel)(nil)
