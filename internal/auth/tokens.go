// -----------------------------------------------------------------------
// Token service - bearer token minting and validation. Tokens are stored
// only as SHA-256 digests; passwords and client secrets use bcrypt.
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// TokenService mints, validates and revokes OAuth bearer tokens.
type TokenService struct {
	oauth  interfaces.OAuthStorage
	users  interfaces.AuthStorage
	cfg    *common.AuthConfig
	logger arbor.ILogger
}

// NewTokenService creates a token service.
func NewTokenService(oauth interfaces.OAuthStorage, users interfaces.AuthStorage, cfg *common.AuthConfig, logger arbor.ILogger) *TokenService {
	return &TokenService{oauth: oauth, users: users, cfg: cfg, logger: logger}
}

// ResolveIdentity validates a bearer token and builds the caller identity:
// user record, assigned roles and group memberships including the implicit
// public group.
func (s *TokenService) ResolveIdentity(ctx context.Context, bearerToken string) (*models.Identity, error) {
	if bearerToken == "" {
		return nil, common.E(common.KindAuthentication, "missing bearer token")
	}

	token, err := s.oauth.GetAccessToken(ctx, common.HashToken(bearerToken))
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.E(common.KindAuthentication, "invalid token")
		}
		return nil, err
	}
	if token.Revoked {
		return nil, common.E(common.KindAuthentication, "token revoked")
	}
	if time.Now().UTC().After(token.ExpiresAt) {
		return nil, common.E(common.KindAuthentication, "token expired")
	}

	user, err := s.users.GetUser(ctx, token.UserID)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.E(common.KindAuthentication, "token principal no longer exists")
		}
		return nil, err
	}
	if user.Disabled {
		return nil, common.E(common.KindAuthentication, "account disabled")
	}

	roles, err := s.users.GetRolesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if user.PrimaryRole != "" {
		roles = append([]string{user.PrimaryRole}, roles...)
	}

	groups, err := s.users.GetGroupsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	groupIDs := make([]int64, 0, len(groups)+1)
	groupIDs = append(groupIDs, models.PublicGroupID)
	for _, g := range groups {
		if g.ID != models.PublicGroupID {
			groupIDs = append(groupIDs, g.ID)
		}
	}

	return &models.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    roles,
		GroupIDs: groupIDs,
		ClientID: token.ClientID,
	}, nil
}

// IssueTokens mints an access/refresh token pair for a principal.
func (s *TokenService) IssueTokens(ctx context.Context, userID int64, clientID, scope string) (*models.TokenResponse, error) {
	now := time.Now().UTC()
	accessTTL := time.Duration(s.cfg.AccessTokenTTLHours) * time.Hour
	refreshTTL := time.Duration(s.cfg.RefreshTokenTTLHours) * time.Hour

	access := common.NewToken()
	if err := s.oauth.StoreAccessToken(ctx, &models.OAuthAccessToken{
		TokenHash: common.HashToken(access),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(accessTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	refresh := common.NewToken()
	if err := s.oauth.StoreRefreshToken(ctx, &models.OAuthRefreshToken{
		TokenHash: common.HashToken(refresh),
		UserID:    userID,
		ClientID:  clientID,
		ExpiresAt: now.Add(refreshTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return &models.TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// Revoke invalidates a token. Unknown tokens are a no-op per RFC 7009; the
// digest is tried against both token tables.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	hash := common.HashToken(token)
	if err := s.oauth.RevokeAccessToken(ctx, hash); err != nil {
		return err
	}
	return s.oauth.RevokeRefreshToken(ctx, hash)
}

// Authenticate verifies a username/password pair.
func (s *TokenService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.E(common.KindAuthentication, "invalid credentials")
		}
		return nil, err
	}
	if user.Disabled {
		return nil, common.E(common.KindAuthentication, "account disabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, common.E(common.KindAuthentication, "invalid credentials")
	}
	return user, nil
}

// VerifyClient checks a client id/secret pair. Public clients (no stored
// secret) authenticate by id alone.
func (s *TokenService) VerifyClient(ctx context.Context, clientID, clientSecret string) (*models.OAuthClient, error) {
	client, err := s.oauth.GetClient(ctx, clientID)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.E(common.KindAuthentication, "unknown client")
		}
		return nil, err
	}
	if client.ClientSecretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
			return nil, common.E(common.KindAuthentication, "invalid client secret")
		}
	}
	return client, nil
}

// HashPassword produces the stored form of a password or client secret.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SweepExpiredTokens deletes expired token rows; called from the periodic
// maintenance pass.
func (s *TokenService) SweepExpiredTokens(ctx context.Context) (int, error) {
	return s.oauth.DeleteExpiredTokens(ctx, time.Now().UTC())
}

// Compile-time interface check
var _ interfaces.TokenService = (*TokenService)(nil)
