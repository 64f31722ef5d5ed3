// -----------------------------------------------------------------------
// Schema migrations and seed data: builtin roles, system principals,
// resources, permissions, the default CLI client and the scheduler table
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// Protected resource types.
const (
	ResourceJob             = "job"
	ResourceArtifact        = "artifact"
	ResourceQueryDefinition = "query_definition"
	ResourceDocument        = "document"
	ResourceOntology        = "ontology"
	ResourceVocabulary      = "vocabulary"
	ResourceBackup          = "backup"
	ResourceUser            = "user"
	ResourceScheduledJob    = "scheduled_job"
)

// Common action names.
const (
	ActionRead    = "read"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionCancel  = "cancel"
	ActionApprove = "approve"
	ActionExecute = "execute"

	// Deleting a system job is a distinct action so the global job delete
	// granted to admins never reaches system jobs.
	ActionDeleteSystem = "delete_system"
)

// DefaultCLIClientID is the public OAuth client seeded for the CLI; it
// uses the device and authorization-code flows without a secret.
const DefaultCLIClientID = "cognatio-cli"

type migration struct {
	number int
	name   string
	apply  func(s *Seeder, ctx context.Context) error
}

var migrations = []migration{
	{1, "initial_schema", (*Seeder).applyInitialSchema},
	{2, "oauth_clients", (*Seeder).applyOAuthClients},
	{3, "scheduled_jobs", (*Seeder).applyScheduledJobs},
}

// Seeder applies schema migrations and keeps the permission table in sync
// with the build. Permissions are re-applied idempotently on every startup
// so upgrades pick up new rules without a migration bump.
type Seeder struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewSeeder creates a seeder.
func NewSeeder(storage interfaces.StorageManager, logger arbor.ILogger) *Seeder {
	return &Seeder{storage: storage, logger: logger}
}

// Run applies pending migrations and re-seeds permissions. Refuses to
// proceed if the store records a schema newer than this build.
func (s *Seeder) Run(ctx context.Context) error {
	applied, err := s.storage.MigrationStorage().CurrentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if applied > models.CurrentSchemaVersion {
		return common.Ef(common.KindIntegrity,
			"store schema version %d is newer than this build supports (%d)",
			applied, models.CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.number <= applied {
			continue
		}
		if err := m.apply(s, ctx); err != nil {
			return common.Wrap(common.KindUnexpected, "migration "+m.name+" failed", err)
		}
		if err := s.storage.MigrationStorage().RecordMigration(ctx, &models.SchemaMigration{
			Number:    m.number,
			Name:      m.name,
			AppliedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		s.logger.Info().Int("number", m.number).Str("name", m.name).Msg("Migration applied")
	}

	// Permission seed runs every startup so rule changes ship with the build
	return s.seedPermissions(ctx)
}

// applyInitialSchema creates builtin roles, groups, system principals and
// resource declarations.
func (s *Seeder) applyInitialSchema(ctx context.Context) error {
	auth := s.storage.AuthStorage()

	roles := []models.Role{
		{RoleName: models.RoleReadOnly, IsBuiltin: true},
		{RoleName: models.RoleContributor, ParentRole: models.RoleReadOnly, IsBuiltin: true},
		{RoleName: models.RoleCurator, ParentRole: models.RoleContributor, IsBuiltin: true},
		{RoleName: models.RoleAdmin, ParentRole: models.RoleCurator, IsBuiltin: true},
		{RoleName: models.RolePlatformAdmin, ParentRole: models.RoleAdmin, IsBuiltin: true},
	}
	for i := range roles {
		if err := auth.StoreRole(ctx, &roles[i]); err != nil {
			return err
		}
	}

	groups := []models.Group{
		{ID: models.PublicGroupID, Name: "public", IsSystem: true},
		{ID: models.AdminsGroupID, Name: "admins", IsSystem: true},
	}
	for i := range groups {
		if err := auth.StoreGroup(ctx, &groups[i]); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if err := auth.StoreUser(ctx, &models.User{
		ID:          models.SystemUserID,
		Username:    "system",
		PrimaryRole: models.RolePlatformAdmin,
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	adminPassword := os.Getenv("COGNATIO_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "change-me-admin"
		s.logger.Warn().Msg("Initial admin created with default password; set COGNATIO_ADMIN_PASSWORD")
	}
	hash, err := HashPassword(adminPassword)
	if err != nil {
		return err
	}
	if err := auth.StoreUser(ctx, &models.User{
		ID:           models.InitialAdminID,
		Username:     "admin",
		PasswordHash: hash,
		PrimaryRole:  models.RolePlatformAdmin,
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	if err := auth.AddUserToGroup(ctx, models.InitialAdminID, models.AdminsGroupID); err != nil {
		return err
	}

	resources := []models.Resource{
		{ResourceType: ResourceJob, AvailableActions: []string{ActionRead, ActionCreate, ActionCancel, ActionApprove, ActionDelete, ActionDeleteSystem}, SupportsScoping: true},
		{ResourceType: ResourceArtifact, AvailableActions: []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete}, SupportsScoping: true},
		{ResourceType: ResourceQueryDefinition, AvailableActions: []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionExecute}, SupportsScoping: true},
		{ResourceType: ResourceDocument, AvailableActions: []string{ActionRead, ActionCreate}},
		{ResourceType: ResourceOntology, AvailableActions: []string{ActionRead, ActionCreate, ActionUpdate}},
		{ResourceType: ResourceVocabulary, AvailableActions: []string{ActionRead, ActionCreate, ActionUpdate}},
		{ResourceType: ResourceBackup, AvailableActions: []string{ActionCreate, ActionExecute}},
		{ResourceType: ResourceUser, AvailableActions: []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete}},
		{ResourceType: ResourceScheduledJob, AvailableActions: []string{ActionRead, ActionUpdate}},
	}
	for i := range resources {
		if err := auth.StoreResource(ctx, &resources[i]); err != nil {
			return err
		}
	}

	return nil
}

// applyOAuthClients seeds the default public CLI client.
func (s *Seeder) applyOAuthClients(ctx context.Context) error {
	return s.storage.OAuthStorage().StoreClient(ctx, &models.OAuthClient{
		ClientID: DefaultCLIClientID,
		Name:     "Cognatio CLI",
		GrantTypes: []string{
			GrantDeviceCode,
			GrantAuthorizationCode,
			GrantRefreshToken,
		},
		RedirectURIs: []string{"http://127.0.0.1/callback", "http://localhost/callback"},
		CreatedAt:    time.Now().UTC(),
	})
}

// applyScheduledJobs seeds the dispatcher table.
func (s *Seeder) applyScheduledJobs(ctx context.Context) error {
	rows := []models.ScheduledJob{
		{Name: "category-refresh", Launcher: models.LauncherCategoryRefresh, ScheduleCron: "0 */6 * * *", Enabled: true, MaxRetries: 5},
		{Name: "vocabulary-consolidation", Launcher: models.LauncherVocabConsolidation, ScheduleCron: "0 */12 * * *", Enabled: true, MaxRetries: 5},
		{Name: "projection-refresh", Launcher: models.LauncherProjectionRefresh, ScheduleCron: "0 * * * *", Enabled: true, MaxRetries: 5},
		{Name: "epistemic-remeasurement", Launcher: models.LauncherEpistemicRemeasure, ScheduleCron: "30 * * * *", Enabled: true, MaxRetries: 5},
		{Name: "artifact-cleanup", Launcher: models.LauncherArtifactCleanup, ScheduleCron: "15 3 * * *", Enabled: true, MaxRetries: 5},
		{Name: "ontology-annealing", Launcher: models.LauncherOntologyAnnealing, ScheduleCron: "45 */6 * * *", Enabled: true, MaxRetries: 5},
	}
	for i := range rows {
		if err := s.storage.ScheduledJobStorage().StoreScheduledJob(ctx, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// permissionSeed is one row of the builtin permission table.
type permissionSeed struct {
	role        string
	resource    string
	action      string
	scope       models.ScopeType
	scopeFilter map[string]string
	granted     bool
}

var ownerSelf = map[string]string{models.FilterOwnerSelf: "self"}
var systemOnly = map[string]string{models.FilterIsSystem: "true"}

var permissionSeeds = []permissionSeed{
	// read_only: global visibility, no writes
	{models.RoleReadOnly, ResourceJob, ActionRead, models.ScopeGlobal, nil, true},
	{models.RoleReadOnly, ResourceArtifact, ActionRead, models.ScopeGlobal, nil, true},
	{models.RoleReadOnly, ResourceDocument, ActionRead, models.ScopeGlobal, nil, true},
	{models.RoleReadOnly, ResourceOntology, ActionRead, models.ScopeGlobal, nil, true},
	{models.RoleReadOnly, ResourceVocabulary, ActionRead, models.ScopeGlobal, nil, true},
	{models.RoleReadOnly, ResourceQueryDefinition, ActionRead, models.ScopeGlobal, nil, true},

	// contributor: submit work, manage own objects
	{models.RoleContributor, ResourceJob, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleContributor, ResourceJob, ActionCancel, models.ScopeFilter, ownerSelf, true},
	{models.RoleContributor, ResourceJob, ActionDelete, models.ScopeFilter, ownerSelf, true},
	{models.RoleContributor, ResourceDocument, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleContributor, ResourceArtifact, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleContributor, ResourceArtifact, ActionUpdate, models.ScopeFilter, ownerSelf, true},
	{models.RoleContributor, ResourceArtifact, ActionDelete, models.ScopeFilter, ownerSelf, true},
	{models.RoleContributor, ResourceQueryDefinition, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleContributor, ResourceQueryDefinition, ActionUpdate, models.ScopeFilter, ownerSelf, true},
	{models.RoleContributor, ResourceQueryDefinition, ActionDelete, models.ScopeFilter, ownerSelf, true},
	{models.RoleContributor, ResourceQueryDefinition, ActionExecute, models.ScopeGlobal, nil, true},

	// curator: vocabulary and approvals
	{models.RoleCurator, ResourceVocabulary, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleCurator, ResourceVocabulary, ActionUpdate, models.ScopeGlobal, nil, true},
	{models.RoleCurator, ResourceJob, ActionApprove, models.ScopeGlobal, nil, true},
	{models.RoleCurator, ResourceOntology, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleCurator, ResourceOntology, ActionUpdate, models.ScopeGlobal, nil, true},

	// admin: cross-user management and backups, but not system jobs
	{models.RoleAdmin, ResourceJob, ActionCancel, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceJob, ActionDelete, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceArtifact, ActionUpdate, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceArtifact, ActionDelete, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceBackup, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceBackup, ActionExecute, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceUser, ActionRead, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceUser, ActionCreate, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceUser, ActionUpdate, models.ScopeGlobal, nil, true},
	{models.RoleAdmin, ResourceScheduledJob, ActionRead, models.ScopeGlobal, nil, true},

	// platform_admin: system-job control, full user management
	{models.RolePlatformAdmin, ResourceJob, ActionDeleteSystem, models.ScopeFilter, systemOnly, true},
	{models.RolePlatformAdmin, ResourceUser, ActionDelete, models.ScopeGlobal, nil, true},
	{models.RolePlatformAdmin, ResourceScheduledJob, ActionUpdate, models.ScopeGlobal, nil, true},
}

// seedPermissions inserts any builtin permission rows not yet present.
func (s *Seeder) seedPermissions(ctx context.Context) error {
	auth := s.storage.AuthStorage()
	for _, seed := range permissionSeeds {
		existing, err := auth.GetPermissions(ctx, []string{seed.role}, seed.resource, seed.action)
		if err != nil {
			return err
		}
		if hasEquivalent(existing, &seed) {
			continue
		}
		if err := auth.StoreRolePermission(ctx, &models.RolePermission{
			Role:         seed.role,
			ResourceType: seed.resource,
			Action:       seed.action,
			ScopeType:    seed.scope,
			ScopeFilter:  seed.scopeFilter,
			Granted:      seed.granted,
		}); err != nil {
			return err
		}
	}
	return nil
}

// hasEquivalent reports whether an existing row already expresses the seed.
func hasEquivalent(existing []*models.RolePermission, seed *permissionSeed) bool {
	for _, p := range existing {
		if p.ScopeType != seed.scope || p.Granted != seed.granted {
			continue
		}
		if len(p.ScopeFilter) != len(seed.scopeFilter) {
			continue
		}
		match := true
		for key, value := range seed.scopeFilter {
			if p.ScopeFilter[key] != value {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
