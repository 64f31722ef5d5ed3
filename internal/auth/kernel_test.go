package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
)

// authFixture is a seeded storage manager with the kernel and token
// service wired against it, shared by the tests in this package.
type authFixture struct {
	manager interfaces.StorageManager
	kernel  *Kernel
	tokens  *TokenService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := common.GetLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	require.NoError(t, NewSeeder(manager, logger).Run(context.Background()))

	cfg := &common.AuthConfig{
		Enabled:              true,
		AccessTokenTTLHours:  1,
		RefreshTokenTTLHours: 720,
		DeviceCodeTTLMinutes: 15,
	}
	return &authFixture{
		manager: manager,
		kernel:  NewKernel(manager.AuthStorage(), logger),
		tokens:  NewTokenService(manager.OAuthStorage(), manager.AuthStorage(), cfg, logger),
	}
}

func identityWith(userID int64, roles ...string) *models.Identity {
	return &models.Identity{UserID: userID, Roles: roles, GroupIDs: []int64{models.PublicGroupID}}
}

func anonymous() *models.Identity {
	return &models.Identity{Anonymous: true, GroupIDs: []int64{models.PublicGroupID}}
}

func TestKernel_RoleInheritanceChain(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	// admin inherits curator -> contributor -> read_only
	roles, err := f.kernel.EffectiveRoles(ctx, identityWith(5000, models.RoleAdmin))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		models.RoleAdmin, models.RoleCurator, models.RoleContributor, models.RoleReadOnly,
	}, roles)

	// An admin can read jobs (granted at read_only) and approve them (curator)
	ok, err := f.kernel.HasPermission(ctx, identityWith(5000, models.RoleAdmin), ResourceJob, ActionRead, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.kernel.HasPermission(ctx, identityWith(5000, models.RoleAdmin), ResourceJob, ActionApprove, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKernel_ReadOnlyCannotWrite(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	reader := identityWith(5000, models.RoleReadOnly)
	ok, err := f.kernel.HasPermission(ctx, reader, ResourceJob, ActionRead, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.kernel.HasPermission(ctx, reader, ResourceJob, ActionCreate, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKernel_OwnerSelfFilter(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	contributor := identityWith(5000, models.RoleContributor)

	own := &models.TargetAttributes{ResourceID: "job-1", OwnerID: 5000}
	other := &models.TargetAttributes{ResourceID: "job-2", OwnerID: 6000}

	ok, err := f.kernel.HasPermission(ctx, contributor, ResourceJob, ActionCancel, own)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.kernel.HasPermission(ctx, contributor, ResourceJob, ActionCancel, other)
	require.NoError(t, err)
	require.False(t, ok, "owner-self scope must not reach another user's job")

	// No target means the filter cannot be evaluated
	ok, err = f.kernel.HasPermission(ctx, contributor, ResourceJob, ActionCancel, nil)
	require.NoError(t, err)
	require.False(t, ok)

	// Admin's global cancel reaches any owner
	ok, err = f.kernel.HasPermission(ctx, identityWith(5001, models.RoleAdmin), ResourceJob, ActionCancel, other)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKernel_IsSystemFilter(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	platform := identityWith(5000, models.RolePlatformAdmin)
	systemJob := &models.TargetAttributes{ResourceID: "job-s", IsSystem: true}
	userJob := &models.TargetAttributes{ResourceID: "job-u", OwnerID: 6000}

	ok, err := f.kernel.HasPermission(ctx, platform, ResourceJob, ActionDeleteSystem, systemJob)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.kernel.HasPermission(ctx, platform, ResourceJob, ActionDeleteSystem, userJob)
	require.NoError(t, err)
	require.False(t, ok, "delete_system is scoped to system jobs only")

	// Plain admins never see the delete_system grant
	ok, err = f.kernel.HasPermission(ctx, identityWith(5001, models.RoleAdmin), ResourceJob, ActionDeleteSystem, systemJob)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKernel_ExplicitDenyOverridesGrant(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	// Contributors can create jobs until a deny row is added for them
	contributor := identityWith(5000, models.RoleContributor)
	ok, err := f.kernel.HasPermission(ctx, contributor, ResourceJob, ActionCreate, nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.manager.AuthStorage().StoreRolePermission(ctx, &models.RolePermission{
		Role:         models.RoleContributor,
		ResourceType: ResourceJob,
		Action:       ActionCreate,
		ScopeType:    models.ScopeGlobal,
		Granted:      false,
	}))

	ok, err = f.kernel.HasPermission(ctx, contributor, ResourceJob, ActionCreate, nil)
	require.NoError(t, err)
	require.False(t, ok, "explicit deny must terminate before any grant")

	// The deny binds every role that inherits contributor
	ok, err = f.kernel.HasPermission(ctx, identityWith(5001, models.RoleAdmin), ResourceJob, ActionCreate, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKernel_SystemPrincipalBypass(t *testing.T) {
	f := newAuthFixture(t)
	system := &models.Identity{UserID: models.SystemUserID}

	ok, err := f.kernel.HasPermission(context.Background(), system, ResourceUser, ActionDelete, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKernel_InstanceGrants(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	auth := f.manager.AuthStorage()

	// A public-group grant reaches anonymous callers too
	require.NoError(t, auth.StoreGrant(ctx, &models.ResourceGrant{
		ResourceType:  ResourceArtifact,
		ResourceID:    "art-public",
		PrincipalType: models.PrincipalGroup,
		PrincipalID:   models.PublicGroupID,
		Permission:    ActionRead,
	}))

	ok, err := f.kernel.HasPermission(ctx, anonymous(), ResourceArtifact, ActionRead, &models.TargetAttributes{ResourceID: "art-public"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.kernel.HasPermission(ctx, anonymous(), ResourceArtifact, ActionRead, &models.TargetAttributes{ResourceID: "art-other"})
	require.NoError(t, err)
	require.False(t, ok)

	// Direct user grant, wildcard permission
	require.NoError(t, auth.StoreGrant(ctx, &models.ResourceGrant{
		ResourceType:  ResourceQueryDefinition,
		ResourceID:    "qd-1",
		PrincipalType: models.PrincipalUser,
		PrincipalID:   5000,
		Permission:    "*",
	}))

	target := &models.TargetAttributes{ResourceID: "qd-1"}
	ok, err = f.kernel.HasPermission(ctx, &models.Identity{UserID: 5000}, ResourceQueryDefinition, ActionDelete, target)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.kernel.HasPermission(ctx, &models.Identity{UserID: 6000}, ResourceQueryDefinition, ActionDelete, target)
	require.NoError(t, err)
	require.False(t, ok, "user grants must not leak to other users")
}

func TestKernel_AnonymousDefaultDeny(t *testing.T) {
	f := newAuthFixture(t)

	ok, err := f.kernel.HasPermission(context.Background(), anonymous(), ResourceJob, ActionRead, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.kernel.HasPermission(context.Background(), nil, ResourceJob, ActionRead, nil)
	require.NoError(t, err)
	require.False(t, ok)
}
