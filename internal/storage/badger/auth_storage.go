package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AuthStorage implements the AuthStorage interface for Badger
type AuthStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuthStorage creates a new AuthStorage instance
func NewAuthStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuthStorage {
	return &AuthStorage{
		db:     db,
		logger: logger,
	}
}

// -----------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------

func (s *AuthStorage) StoreUser(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		return fmt.Errorf("user ID is required")
	}
	if err := s.db.Store().Upsert(user.ID, *user); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

func (s *AuthStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := s.db.Store().Get(id, &user); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "user not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *AuthStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var users []models.User
	err := s.db.Store().Find(&users, badgerhold.Where("Username").Eq(username).Index("Username"))
	if err != nil {
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}
	if len(users) == 0 {
		return nil, common.Ef(common.KindNotFound, "user not found: %s", username)
	}
	return &users[0], nil
}

func (s *AuthStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []models.User
	if err := s.db.Store().Find(&users, (&badgerhold.Query{}).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	result := make([]*models.User, 0, len(users))
	for i := range users {
		result = append(result, &users[i])
	}
	return result, nil
}

func (s *AuthStorage) UserExists(ctx context.Context, id int64) (bool, error) {
	var user models.User
	err := s.db.Store().Get(id, &user)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return true, nil
}

// -----------------------------------------------------------------------
// Groups
// -----------------------------------------------------------------------

func (s *AuthStorage) StoreGroup(ctx context.Context, group *models.Group) error {
	if err := s.db.Store().Upsert(group.ID, *group); err != nil {
		return fmt.Errorf("failed to store group: %w", err)
	}
	return nil
}

// GetGroupsForUser returns explicit memberships; the implicit public group
// is added by the caller, not persisted per user.
func (s *AuthStorage) GetGroupsForUser(ctx context.Context, userID int64) ([]*models.Group, error) {
	var memberships []models.UserGroup
	err := s.db.Store().Find(&memberships, badgerhold.Where("UserID").Eq(userID).Index("UserID"))
	if err != nil {
		return nil, fmt.Errorf("failed to query group memberships: %w", err)
	}

	groups := make([]*models.Group, 0, len(memberships))
	for _, m := range memberships {
		var group models.Group
		if err := s.db.Store().Get(m.GroupID, &group); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to get group %d: %w", m.GroupID, err)
		}
		groups = append(groups, &group)
	}
	return groups, nil
}

func (s *AuthStorage) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	// Idempotent: skip when the membership row already exists
	existing, err := s.db.Store().Count(models.UserGroup{},
		badgerhold.Where("UserID").Eq(userID).Index("UserID").And("GroupID").Eq(groupID))
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if existing > 0 {
		return nil
	}
	membership := models.UserGroup{UserID: userID, GroupID: groupID}
	if err := s.db.Store().Insert(badgerhold.NextSequence(), &membership); err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Roles
// -----------------------------------------------------------------------

func (s *AuthStorage) StoreRole(ctx context.Context, role *models.Role) error {
	if role.RoleName == "" {
		return fmt.Errorf("role name is required")
	}
	if err := s.db.Store().Upsert(role.RoleName, *role); err != nil {
		return fmt.Errorf("failed to store role: %w", err)
	}
	return nil
}

func (s *AuthStorage) GetRole(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := s.db.Store().Get(name, &role); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "role not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func (s *AuthStorage) ListRoles(ctx context.Context) ([]*models.Role, error) {
	var roles []models.Role
	if err := s.db.Store().Find(&roles, &badgerhold.Query{}); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	result := make([]*models.Role, 0, len(roles))
	for i := range roles {
		result = append(result, &roles[i])
	}
	return result, nil
}

func (s *AuthStorage) GetRolesForUser(ctx context.Context, userID int64) ([]string, error) {
	var assignments []models.UserRole
	err := s.db.Store().Find(&assignments, badgerhold.Where("UserID").Eq(userID).Index("UserID"))
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	roles := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roles = append(roles, a.Role)
	}
	return roles, nil
}

func (s *AuthStorage) AssignRole(ctx context.Context, userID int64, role string) error {
	existing, err := s.db.Store().Count(models.UserRole{},
		badgerhold.Where("UserID").Eq(userID).Index("UserID").And("Role").Eq(role))
	if err != nil {
		return fmt.Errorf("failed to check role assignment: %w", err)
	}
	if existing > 0 {
		return nil
	}
	assignment := models.UserRole{UserID: userID, Role: role}
	if err := s.db.Store().Insert(badgerhold.NextSequence(), &assignment); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Resources & permissions
// -----------------------------------------------------------------------

func (s *AuthStorage) StoreResource(ctx context.Context, resource *models.Resource) error {
	if err := s.db.Store().Upsert(resource.ResourceType, *resource); err != nil {
		return fmt.Errorf("failed to store resource: %w", err)
	}
	return nil
}

func (s *AuthStorage) GetResource(ctx context.Context, resourceType string) (*models.Resource, error) {
	var resource models.Resource
	if err := s.db.Store().Get(resourceType, &resource); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "resource not found: %s", resourceType)
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &resource, nil
}

func (s *AuthStorage) StoreRolePermission(ctx context.Context, perm *models.RolePermission) error {
	if perm.ID == 0 {
		if err := s.db.Store().Insert(badgerhold.NextSequence(), perm); err != nil {
			return fmt.Errorf("failed to insert role permission: %w", err)
		}
		return nil
	}
	if err := s.db.Store().Upsert(perm.ID, *perm); err != nil {
		return fmt.Errorf("failed to store role permission: %w", err)
	}
	return nil
}

// GetPermissions returns all permission rows matching any of the roles for
// the (resource_type, action) pair, including explicit denies.
func (s *AuthStorage) GetPermissions(ctx context.Context, roles []string, resourceType, action string) ([]*models.RolePermission, error) {
	var perms []models.RolePermission
	err := s.db.Store().Find(&perms,
		badgerhold.Where("ResourceType").Eq(resourceType).Index("ResourceType"))
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}

	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	result := make([]*models.RolePermission, 0)
	for i := range perms {
		p := perms[i]
		if p.Action != action || !roleSet[p.Role] {
			continue
		}
		result = append(result, &p)
	}
	return result, nil
}

// -----------------------------------------------------------------------
// Grants
// -----------------------------------------------------------------------

func (s *AuthStorage) StoreGrant(ctx context.Context, grant *models.ResourceGrant) error {
	if grant.ID == 0 {
		if err := s.db.Store().Insert(badgerhold.NextSequence(), grant); err != nil {
			return fmt.Errorf("failed to insert resource grant: %w", err)
		}
		return nil
	}
	if err := s.db.Store().Upsert(grant.ID, *grant); err != nil {
		return fmt.Errorf("failed to store resource grant: %w", err)
	}
	return nil
}

func (s *AuthStorage) GetGrants(ctx context.Context, resourceType, resourceID string) ([]*models.ResourceGrant, error) {
	var grants []models.ResourceGrant
	err := s.db.Store().Find(&grants,
		badgerhold.Where("ResourceID").Eq(resourceID).Index("ResourceID"))
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	result := make([]*models.ResourceGrant, 0, len(grants))
	for i := range grants {
		g := grants[i]
		if g.ResourceType != resourceType {
			continue
		}
		result = append(result, &g)
	}
	return result, nil
}

func (s *AuthStorage) DeleteGrantsForResource(ctx context.Context, resourceType, resourceID string) error {
	err := s.db.Store().DeleteMatching(models.ResourceGrant{},
		badgerhold.Where("ResourceID").Eq(resourceID).Index("ResourceID").And("ResourceType").Eq(resourceType))
	if err != nil {
		return fmt.Errorf("failed to delete grants: %w", err)
	}
	return nil
}
