package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
)

func TestSeederRun_AppliesAllMigrations(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	version, err := f.manager.MigrationStorage().CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, models.CurrentSchemaVersion, version)

	applied, err := f.manager.MigrationStorage().ListMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, len(migrations))

	// System and initial admin principals
	system, err := f.manager.AuthStorage().GetUser(ctx, models.SystemUserID)
	require.NoError(t, err)
	require.Equal(t, models.RolePlatformAdmin, system.PrimaryRole)

	admin, err := f.manager.AuthStorage().GetUser(ctx, models.InitialAdminID)
	require.NoError(t, err)
	require.Equal(t, "admin", admin.Username)

	// Default CLI client: public, device + auth-code + refresh
	client, err := f.manager.OAuthStorage().GetClient(ctx, DefaultCLIClientID)
	require.NoError(t, err)
	require.Empty(t, client.ClientSecretHash)
	require.ElementsMatch(t, []string{GrantDeviceCode, GrantAuthorizationCode, GrantRefreshToken}, client.GrantTypes)

	// Scheduler table
	scheduled, err := f.manager.ScheduledJobStorage().ListScheduledJobs(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 6)
}

func TestSeederRun_Idempotent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	// Fixture already ran the seeder once; a second run must change nothing
	require.NoError(t, NewSeeder(f.manager, common.GetLogger()).Run(ctx))

	applied, err := f.manager.MigrationStorage().ListMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, len(migrations))

	// Permission rows are not duplicated across runs
	perms, err := f.manager.AuthStorage().GetPermissions(ctx, []string{models.RoleReadOnly}, ResourceJob, ActionRead)
	require.NoError(t, err)
	require.Len(t, perms, 1)
}

func TestSeederRun_RefusesNewerSchema(t *testing.T) {
	logger := common.GetLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	ctx := context.Background()

	require.NoError(t, manager.MigrationStorage().RecordMigration(ctx, &models.SchemaMigration{
		Number:    models.CurrentSchemaVersion + 1,
		Name:      "from_the_future",
		AppliedAt: time.Now().UTC(),
	}))

	err = NewSeeder(manager, logger).Run(ctx)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindIntegrity))
}

func TestSeededAdmin_Authenticates(t *testing.T) {
	t.Setenv("COGNATIO_ADMIN_PASSWORD", "change-me-admin")
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.tokens.Authenticate(ctx, "admin", "change-me-admin")
	require.NoError(t, err)
	require.Equal(t, models.InitialAdminID, user.ID)

	_, err = f.tokens.Authenticate(ctx, "admin", "wrong")
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindAuthentication))
}
