package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/cognatio/internal/models"
)

// JobStorage - interface for job queue persistence
type JobStorage interface {
	// CRUD operations
	StoreJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	CountJobs(ctx context.Context, status models.JobStatus) (int, error)

	// Dedup operations
	FindActiveByDedupKey(ctx context.Context, contentHash, ontology string) (*models.Job, error)
	FindCompletedByDedupKey(ctx context.Context, contentHash, ontology string) (*models.Job, error)

	// Sweep operations
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.Job, error)
	ListTerminalBefore(ctx context.Context, status models.JobStatus, cutoff time.Time) ([]*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
}

// ArtifactStorage - interface for artifact metadata persistence
type ArtifactStorage interface {
	StoreArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	UpdateArtifact(ctx context.Context, artifact *models.Artifact) error
	DeleteArtifact(ctx context.Context, id string) error
	ListArtifacts(ctx context.Context, filter models.ArtifactFilter) ([]*models.Artifact, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.Artifact, error)
	ListSuperseded(ctx context.Context) ([]*models.Artifact, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Artifact, error)
}

// QueryDefinitionStorage - interface for reusable query recipes
type QueryDefinitionStorage interface {
	StoreDefinition(ctx context.Context, def *models.QueryDefinition) error
	GetDefinition(ctx context.Context, id string) (*models.QueryDefinition, error)
	UpdateDefinition(ctx context.Context, def *models.QueryDefinition) error
	DeleteDefinition(ctx context.Context, id string) error
	ListDefinitions(ctx context.Context, ownerID int64) ([]*models.QueryDefinition, error)
}

// AuthStorage - interface for users, groups, roles and grants
type AuthStorage interface {
	// User operations
	StoreUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UserExists(ctx context.Context, id int64) (bool, error)

	// Group operations
	StoreGroup(ctx context.Context, group *models.Group) error
	GetGroupsForUser(ctx context.Context, userID int64) ([]*models.Group, error)
	AddUserToGroup(ctx context.Context, userID, groupID int64) error

	// Role operations
	StoreRole(ctx context.Context, role *models.Role) error
	GetRole(ctx context.Context, name string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]*models.Role, error)
	GetRolesForUser(ctx context.Context, userID int64) ([]string, error)
	AssignRole(ctx context.Context, userID int64, role string) error

	// Permission operations
	StoreResource(ctx context.Context, resource *models.Resource) error
	GetResource(ctx context.Context, resourceType string) (*models.Resource, error)
	StoreRolePermission(ctx context.Context, perm *models.RolePermission) error
	GetPermissions(ctx context.Context, roles []string, resourceType, action string) ([]*models.RolePermission, error)

	// Grant operations
	StoreGrant(ctx context.Context, grant *models.ResourceGrant) error
	GetGrants(ctx context.Context, resourceType, resourceID string) ([]*models.ResourceGrant, error)
	DeleteGrantsForResource(ctx context.Context, resourceType, resourceID string) error
}

// OAuthStorage - interface for OAuth clients, tokens and flow state
type OAuthStorage interface {
	// Client operations
	StoreClient(ctx context.Context, client *models.OAuthClient) error
	GetClient(ctx context.Context, clientID string) (*models.OAuthClient, error)

	// Access token operations (lookup is by SHA-256 digest)
	StoreAccessToken(ctx context.Context, token *models.OAuthAccessToken) error
	GetAccessToken(ctx context.Context, tokenHash string) (*models.OAuthAccessToken, error)
	RevokeAccessToken(ctx context.Context, tokenHash string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)

	// Refresh token operations
	StoreRefreshToken(ctx context.Context, token *models.OAuthRefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.OAuthRefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	// Device flow operations
	StoreDeviceCode(ctx context.Context, code *models.OAuthDeviceCode) error
	GetDeviceCode(ctx context.Context, deviceCode string) (*models.OAuthDeviceCode, error)
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*models.OAuthDeviceCode, error)
	UpdateDeviceCode(ctx context.Context, code *models.OAuthDeviceCode) error

	// Authorization code operations
	StoreAuthorizationCode(ctx context.Context, code *models.OAuthAuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*models.OAuthAuthorizationCode, error)
	UpdateAuthorizationCode(ctx context.Context, code *models.OAuthAuthorizationCode) error
}

// MetricsStorage - interface for the named counter table
type MetricsStorage interface {
	GetCounter(ctx context.Context, name string) (int64, error)
	SetCounter(ctx context.Context, name string, value int64) error
	IncrementCounter(ctx context.Context, name string, delta int64) (int64, error)
	ListCounters(ctx context.Context) ([]*models.GraphMetric, error)
}

// ScheduledJobStorage - interface for the dispatcher table
type ScheduledJobStorage interface {
	StoreScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	GetScheduledJob(ctx context.Context, name string) (*models.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	ListScheduledJobs(ctx context.Context) ([]*models.ScheduledJob, error)
}

// MigrationStorage - interface for schema version records
type MigrationStorage interface {
	CurrentSchemaVersion(ctx context.Context) (int, error)
	RecordMigration(ctx context.Context, migration *models.SchemaMigration) error
	ListMigrations(ctx context.Context) ([]*models.SchemaMigration, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	ArtifactStorage() ArtifactStorage
	QueryDefinitionStorage() QueryDefinitionStorage
	AuthStorage() AuthStorage
	OAuthStorage() OAuthStorage
	MetricsStorage() MetricsStorage
	ScheduledJobStorage() ScheduledJobStorage
	MigrationStorage() MigrationStorage
	DB() interface{}
	Close() error
}
