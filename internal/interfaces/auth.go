package interfaces

import (
	"context"

	"github.com/ternarybob/cognatio/internal/models"
)

// AuthKernel resolves permission checks. A decision depends only on the
// identity's effective roles, grants and the target attributes; there are
// no side effects.
type AuthKernel interface {
	HasPermission(ctx context.Context, identity *models.Identity, resourceType, action string, target *models.TargetAttributes) (bool, error)
	EffectiveRoles(ctx context.Context, identity *models.Identity) ([]string, error)
}

// TokenService mints and validates OAuth bearer tokens. Validation is a
// local lookup against the access-token table by SHA-256 digest.
type TokenService interface {
	ResolveIdentity(ctx context.Context, bearerToken string) (*models.Identity, error)
	IssueTokens(ctx context.Context, userID int64, clientID, scope string) (*models.TokenResponse, error)
	Revoke(ctx context.Context, token string) error
}
