package models

import "time"

// Reserved principal IDs. IDs 1-999 are system principals.
const (
	SystemUserID   int64 = 1
	InitialAdminID int64 = 1000
	PublicGroupID  int64 = 1
	AdminsGroupID  int64 = 2
)

// Built-in role names, ordered by inheritance (each inherits the previous).
const (
	RoleReadOnly      = "read_only"
	RoleContributor   = "contributor"
	RoleCurator       = "curator"
	RoleAdmin         = "admin"
	RolePlatformAdmin = "platform_admin"
)

// User is an authenticated principal.
type User struct {
	ID           int64     `json:"id" badgerhold:"key"`
	Username     string    `json:"username" badgerhold:"index"`
	PasswordHash string    `json:"-"`
	PrimaryRole  string    `json:"primary_role"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Group is a named principal collection. Group 1 (public) has implicit
// membership for every authenticated user.
type Group struct {
	ID       int64  `json:"id" badgerhold:"key"`
	Name     string `json:"name" badgerhold:"index"`
	IsSystem bool   `json:"is_system"`
}

// UserGroup is an explicit membership row.
type UserGroup struct {
	ID      uint64 `json:"id" badgerhold:"key"`
	UserID  int64  `json:"user_id" badgerhold:"index"`
	GroupID int64  `json:"group_id" badgerhold:"index"`
}

// Role is a named permission bundle. Inheritance via ParentRole forms a DAG
// evaluated transitively during permission resolution.
type Role struct {
	RoleName   string `json:"role_name" badgerhold:"key"`
	ParentRole string `json:"parent_role,omitempty"`
	IsBuiltin  bool   `json:"is_builtin"`
}

// UserRole assigns a role to a user beyond the primary role.
type UserRole struct {
	ID     uint64 `json:"id" badgerhold:"key"`
	UserID int64  `json:"user_id" badgerhold:"index"`
	Role   string `json:"role"`
}

// Resource declares a protected resource type and its action surface.
type Resource struct {
	ResourceType     string   `json:"resource_type" badgerhold:"key"`
	AvailableActions []string `json:"available_actions"`
	SupportsScoping  bool     `json:"supports_scoping"`
}

// ScopeType narrows a role permission.
type ScopeType string

const (
	ScopeGlobal   ScopeType = "global"
	ScopeFilter   ScopeType = "filter"
	ScopeInstance ScopeType = "instance"
)

// Recognised scope filter keys.
const (
	FilterOwnerSelf = "owner"     // value "self"
	FilterIsSystem  = "is_system" // value "true"
)

// RolePermission grants (or explicitly denies) an action on a resource type
// for a role. Granted=false is an explicit deny that overrides any grant
// lower in the inheritance chain.
type RolePermission struct {
	ID           uint64            `json:"id" badgerhold:"key"`
	Role         string            `json:"role" badgerhold:"index"`
	ResourceType string            `json:"resource_type" badgerhold:"index"`
	Action       string            `json:"action"`
	ScopeType    ScopeType         `json:"scope_type"`
	ScopeID      string            `json:"scope_id,omitempty"`
	ScopeFilter  map[string]string `json:"scope_filter,omitempty"`
	Granted      bool              `json:"granted"`
}

// PrincipalType distinguishes grant targets.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// ResourceGrant is per-instance access for a user or group.
type ResourceGrant struct {
	ID            uint64        `json:"id" badgerhold:"key"`
	ResourceType  string        `json:"resource_type" badgerhold:"index"`
	ResourceID    string        `json:"resource_id" badgerhold:"index"`
	PrincipalType PrincipalType `json:"principal_type"`
	PrincipalID   int64         `json:"principal_id"`
	Permission    string        `json:"permission"`
}

// TargetAttributes are the object facts a scope filter is evaluated against.
// A permission decision depends only on these plus the user's roles/grants.
type TargetAttributes struct {
	ResourceID string
	OwnerID    int64
	IsSystem   bool
}

// Identity is the resolved caller for a request. Anonymous callers carry
// UserID 0 and membership of the public group only.
type Identity struct {
	UserID    int64    `json:"user_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	GroupIDs  []int64  `json:"group_ids"`
	ClientID  string   `json:"client_id,omitempty"` // Set for client-credentials principals
	Anonymous bool     `json:"anonymous"`
}

// IsSystem reports whether the identity is the reserved system principal.
func (i *Identity) IsSystem() bool {
	return i.UserID == SystemUserID
}

// -----------------------------------------------------------------------
// OAuth records
// -----------------------------------------------------------------------

// OAuthClient is a registered client application.
type OAuthClient struct {
	ClientID         string    `json:"client_id" badgerhold:"key"`
	ClientSecretHash string    `json:"-"`
	Name             string    `json:"name"`
	RedirectURIs     []string  `json:"redirect_uris,omitempty"`
	GrantTypes       []string  `json:"grant_types"`
	ServiceUserID    int64     `json:"service_user_id,omitempty"` // Principal for client_credentials
	CreatedAt        time.Time `json:"created_at"`
}

// OAuthAccessToken stores only the SHA-256 digest of the bearer token;
// validation is a lookup by digest.
type OAuthAccessToken struct {
	TokenHash string    `json:"token_hash" badgerhold:"key"`
	UserID    int64     `json:"user_id" badgerhold:"index"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthRefreshToken is the long-lived companion of an access token.
type OAuthRefreshToken struct {
	TokenHash string    `json:"token_hash" badgerhold:"key"`
	UserID    int64     `json:"user_id" badgerhold:"index"`
	ClientID  string    `json:"client_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthDeviceCode tracks an in-flight device authorization flow.
type OAuthDeviceCode struct {
	DeviceCode string    `json:"device_code" badgerhold:"key"`
	UserCode   string    `json:"user_code" badgerhold:"index"`
	ClientID   string    `json:"client_id"`
	UserID     int64     `json:"user_id,omitempty"` // Set once the user approves
	Approved   bool      `json:"approved"`
	Denied     bool      `json:"denied"`
	ExpiresAt  time.Time `json:"expires_at"`
	Interval   int       `json:"interval"` // Minimum poll interval in seconds
	CreatedAt  time.Time `json:"created_at"`
}

// OAuthAuthorizationCode tracks an authorization-code (PKCE) flow.
type OAuthAuthorizationCode struct {
	Code                string    `json:"code" badgerhold:"key"`
	ClientID            string    `json:"client_id"`
	UserID              int64     `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"` // "S256" or "plain"
	Scope               string    `json:"scope,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	Used                bool      `json:"used"`
	CreatedAt           time.Time `json:"created_at"`
}

// TokenResponse is the RFC 6749 token endpoint response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceAuthorizationResponse is the RFC 8628 device authorize response.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}
