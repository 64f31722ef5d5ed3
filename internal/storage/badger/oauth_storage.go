package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// OAuthStorage implements the OAuthStorage interface for Badger. Tokens are
// keyed by SHA-256 digest; the clear token never touches disk.
type OAuthStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOAuthStorage creates a new OAuthStorage instance
func NewOAuthStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OAuthStorage {
	return &OAuthStorage{
		db:     db,
		logger: logger,
	}
}

// -----------------------------------------------------------------------
// Clients
// -----------------------------------------------------------------------

func (s *OAuthStorage) StoreClient(ctx context.Context, client *models.OAuthClient) error {
	if client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if err := s.db.Store().Upsert(client.ClientID, *client); err != nil {
		return fmt.Errorf("failed to store oauth client: %w", err)
	}
	return nil
}

func (s *OAuthStorage) GetClient(ctx context.Context, clientID string) (*models.OAuthClient, error) {
	var client models.OAuthClient
	if err := s.db.Store().Get(clientID, &client); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "oauth client not found: %s", clientID)
		}
		return nil, fmt.Errorf("failed to get oauth client: %w", err)
	}
	return &client, nil
}

// -----------------------------------------------------------------------
// Access tokens
// -----------------------------------------------------------------------

func (s *OAuthStorage) StoreAccessToken(ctx context.Context, token *models.OAuthAccessToken) error {
	if err := s.db.Store().Upsert(token.TokenHash, *token); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return nil
}

func (s *OAuthStorage) GetAccessToken(ctx context.Context, tokenHash string) (*models.OAuthAccessToken, error) {
	var token models.OAuthAccessToken
	if err := s.db.Store().Get(tokenHash, &token); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.E(common.KindAuthentication, "invalid token")
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return &token, nil
}

func (s *OAuthStorage) RevokeAccessToken(ctx context.Context, tokenHash string) error {
	var token models.OAuthAccessToken
	if err := s.db.Store().Get(tokenHash, &token); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Revoking an unknown token is a no-op per RFC 7009
		}
		return fmt.Errorf("failed to get access token: %w", err)
	}
	token.Revoked = true
	if err := s.db.Store().Update(tokenHash, token); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

func (s *OAuthStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	var tokens []models.OAuthAccessToken
	if err := s.db.Store().Find(&tokens, &badgerhold.Query{}); err != nil {
		return 0, fmt.Errorf("failed to scan access tokens: %w", err)
	}
	deleted := 0
	for i := range tokens {
		t := tokens[i]
		if now.After(t.ExpiresAt) {
			if err := s.db.Store().Delete(t.TokenHash, models.OAuthAccessToken{}); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to delete expired access token")
				continue
			}
			deleted++
		}
	}

	var refresh []models.OAuthRefreshToken
	if err := s.db.Store().Find(&refresh, &badgerhold.Query{}); err != nil {
		return deleted, fmt.Errorf("failed to scan refresh tokens: %w", err)
	}
	for i := range refresh {
		t := refresh[i]
		if now.After(t.ExpiresAt) {
			if err := s.db.Store().Delete(t.TokenHash, models.OAuthRefreshToken{}); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to delete expired refresh token")
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// -----------------------------------------------------------------------
// Refresh tokens
// -----------------------------------------------------------------------

func (s *OAuthStorage) StoreRefreshToken(ctx context.Context, token *models.OAuthRefreshToken) error {
	if err := s.db.Store().Upsert(token.TokenHash, *token); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *OAuthStorage) GetRefreshToken(ctx context.Context, tokenHash string) (*models.OAuthRefreshToken, error) {
	var token models.OAuthRefreshToken
	if err := s.db.Store().Get(tokenHash, &token); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.E(common.KindAuthentication, "invalid refresh token")
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &token, nil
}

func (s *OAuthStorage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	var token models.OAuthRefreshToken
	if err := s.db.Store().Get(tokenHash, &token); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to get refresh token: %w", err)
	}
	token.Revoked = true
	if err := s.db.Store().Update(tokenHash, token); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Device codes
// -----------------------------------------------------------------------

func (s *OAuthStorage) StoreDeviceCode(ctx context.Context, code *models.OAuthDeviceCode) error {
	if err := s.db.Store().Upsert(code.DeviceCode, *code); err != nil {
		return fmt.Errorf("failed to store device code: %w", err)
	}
	return nil
}

func (s *OAuthStorage) GetDeviceCode(ctx context.Context, deviceCode string) (*models.OAuthDeviceCode, error) {
	var code models.OAuthDeviceCode
	if err := s.db.Store().Get(deviceCode, &code); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.E(common.KindAuthentication, "invalid device code")
		}
		return nil, fmt.Errorf("failed to get device code: %w", err)
	}
	return &code, nil
}

func (s *OAuthStorage) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*models.OAuthDeviceCode, error) {
	var codes []models.OAuthDeviceCode
	err := s.db.Store().Find(&codes, badgerhold.Where("UserCode").Eq(userCode).Index("UserCode"))
	if err != nil {
		return nil, fmt.Errorf("failed to query device code: %w", err)
	}
	if len(codes) == 0 {
		return nil, common.E(common.KindNotFound, "unknown user code")
	}
	return &codes[0], nil
}

func (s *OAuthStorage) UpdateDeviceCode(ctx context.Context, code *models.OAuthDeviceCode) error {
	if err := s.db.Store().Update(code.DeviceCode, *code); err != nil {
		return fmt.Errorf("failed to update device code: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Authorization codes
// -----------------------------------------------------------------------

func (s *OAuthStorage) StoreAuthorizationCode(ctx context.Context, code *models.OAuthAuthorizationCode) error {
	if err := s.db.Store().Upsert(code.Code, *code); err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

func (s *OAuthStorage) GetAuthorizationCode(ctx context.Context, code string) (*models.OAuthAuthorizationCode, error) {
	var record models.OAuthAuthorizationCode
	if err := s.db.Store().Get(code, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.E(common.KindAuthentication, "invalid authorization code")
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return &record, nil
}

func (s *OAuthStorage) UpdateAuthorizationCode(ctx context.Context, code *models.OAuthAuthorizationCode) error {
	if err := s.db.Store().Update(code.Code, *code); err != nil {
		return fmt.Errorf("failed to update authorization code: %w", err)
	}
	return nil
}
