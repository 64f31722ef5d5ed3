// -----------------------------------------------------------------------
// OAuth grant flows: authorization code with PKCE (RFC 7636), device
// authorization (RFC 8628), client credentials and refresh
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
)

// Grant type identifiers accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantRefreshToken      = "refresh_token"
)

const authorizationCodeTTL = 10 * time.Minute

// FlowError carries the RFC 6749 error code the token endpoint must return.
type FlowError struct {
	Code        string // "authorization_pending", "access_denied", ...
	Description string
}

func (e *FlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func flowErr(code, description string) error {
	return &FlowError{Code: code, Description: description}
}

// clientAllows reports whether the client registration permits a grant type.
func clientAllows(client *models.OAuthClient, grantType string) bool {
	for _, g := range client.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// ClientCredentials issues tokens for a service principal.
func (s *TokenService) ClientCredentials(ctx context.Context, client *models.OAuthClient, scope string) (*models.TokenResponse, error) {
	if !clientAllows(client, GrantClientCredentials) {
		return nil, flowErr("unauthorized_client", "client is not allowed the client_credentials grant")
	}
	if client.ServiceUserID == 0 {
		return nil, flowErr("unauthorized_client", "client has no service principal")
	}
	return s.IssueTokens(ctx, client.ServiceUserID, client.ClientID, scope)
}

// StartDeviceFlow begins an RFC 8628 device authorization.
func (s *TokenService) StartDeviceFlow(ctx context.Context, client *models.OAuthClient, verificationURI string) (*models.DeviceAuthorizationResponse, error) {
	if !clientAllows(client, GrantDeviceCode) {
		return nil, flowErr("unauthorized_client", "client is not allowed the device_code grant")
	}

	ttl := time.Duration(s.cfg.DeviceCodeTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := time.Now().UTC()
	code := &models.OAuthDeviceCode{
		DeviceCode: common.NewToken(),
		UserCode:   newUserCode(),
		ClientID:   client.ClientID,
		ExpiresAt:  now.Add(ttl),
		Interval:   5,
		CreatedAt:  now,
	}
	if err := s.oauth.StoreDeviceCode(ctx, code); err != nil {
		return nil, err
	}

	return &models.DeviceAuthorizationResponse{
		DeviceCode:              code.DeviceCode,
		UserCode:                code.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + code.UserCode,
		ExpiresIn:               int(ttl.Seconds()),
		Interval:                code.Interval,
	}, nil
}

// ResolveUserCode looks up an in-flight device flow by its user code.
func (s *TokenService) ResolveUserCode(ctx context.Context, userCode string) (*models.OAuthDeviceCode, error) {
	code, err := s.oauth.GetDeviceCodeByUserCode(ctx, userCode)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.E(common.KindNotFound, "unknown user code")
		}
		return nil, err
	}
	if time.Now().UTC().After(code.ExpiresAt) {
		return nil, common.E(common.KindNotFound, "user code expired")
	}
	return code, nil
}

// DecideDevice records the user's approval or denial of a device flow.
func (s *TokenService) DecideDevice(ctx context.Context, userCode string, userID int64, approve bool) error {
	code, err := s.ResolveUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if code.Approved || code.Denied {
		return common.E(common.KindConflict, "device flow already decided")
	}
	if approve {
		code.Approved = true
		code.UserID = userID
	} else {
		code.Denied = true
	}
	return s.oauth.UpdateDeviceCode(ctx, code)
}

// ExchangeDeviceCode is the device polling exchange.
func (s *TokenService) ExchangeDeviceCode(ctx context.Context, client *models.OAuthClient, deviceCode string) (*models.TokenResponse, error) {
	code, err := s.oauth.GetDeviceCode(ctx, deviceCode)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, flowErr("invalid_grant", "unknown device code")
		}
		return nil, err
	}
	if code.ClientID != client.ClientID {
		return nil, flowErr("invalid_grant", "device code was issued to a different client")
	}
	if time.Now().UTC().After(code.ExpiresAt) {
		return nil, flowErr("expired_token", "device code expired")
	}
	if code.Denied {
		return nil, flowErr("access_denied", "the user denied the request")
	}
	if !code.Approved {
		return nil, flowErr("authorization_pending", "")
	}

	// One-shot: expire the code on successful exchange
	code.ExpiresAt = time.Now().UTC()
	if err := s.oauth.UpdateDeviceCode(ctx, code); err != nil {
		return nil, err
	}
	return s.IssueTokens(ctx, code.UserID, client.ClientID, "")
}

// IssueAuthorizationCode mints a PKCE authorization code after the user
// approved the request.
func (s *TokenService) IssueAuthorizationCode(ctx context.Context, client *models.OAuthClient, userID int64, redirectURI, challenge, method, scope string) (string, error) {
	if !clientAllows(client, GrantAuthorizationCode) {
		return "", flowErr("unauthorized_client", "client is not allowed the authorization_code grant")
	}
	if !redirectAllowed(client, redirectURI) {
		return "", flowErr("invalid_request", "redirect_uri is not registered for this client")
	}
	if challenge == "" {
		return "", flowErr("invalid_request", "code_challenge is required")
	}
	if method != "S256" && method != "plain" {
		return "", flowErr("invalid_request", "unsupported code_challenge_method")
	}

	now := time.Now().UTC()
	code := &models.OAuthAuthorizationCode{
		Code:                common.NewToken(),
		ClientID:            client.ClientID,
		UserID:              userID,
		RedirectURI:         redirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Scope:               scope,
		ExpiresAt:           now.Add(authorizationCodeTTL),
		CreatedAt:           now,
	}
	if err := s.oauth.StoreAuthorizationCode(ctx, code); err != nil {
		return "", err
	}
	return code.Code, nil
}

// ExchangeAuthorizationCode verifies the PKCE verifier and issues tokens.
func (s *TokenService) ExchangeAuthorizationCode(ctx context.Context, client *models.OAuthClient, code, redirectURI, verifier string) (*models.TokenResponse, error) {
	stored, err := s.oauth.GetAuthorizationCode(ctx, code)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, flowErr("invalid_grant", "unknown authorization code")
		}
		return nil, err
	}
	if stored.Used {
		return nil, flowErr("invalid_grant", "authorization code already used")
	}
	if stored.ClientID != client.ClientID {
		return nil, flowErr("invalid_grant", "authorization code was issued to a different client")
	}
	if time.Now().UTC().After(stored.ExpiresAt) {
		return nil, flowErr("invalid_grant", "authorization code expired")
	}
	if stored.RedirectURI != redirectURI {
		return nil, flowErr("invalid_grant", "redirect_uri mismatch")
	}
	if !verifyPKCE(stored.CodeChallenge, stored.CodeChallengeMethod, verifier) {
		return nil, flowErr("invalid_grant", "code verifier does not match challenge")
	}

	stored.Used = true
	if err := s.oauth.UpdateAuthorizationCode(ctx, stored); err != nil {
		return nil, err
	}
	return s.IssueTokens(ctx, stored.UserID, client.ClientID, stored.Scope)
}

// ExchangeRefreshToken rotates a refresh token into a new token pair.
func (s *TokenService) ExchangeRefreshToken(ctx context.Context, client *models.OAuthClient, refreshToken string) (*models.TokenResponse, error) {
	stored, err := s.oauth.GetRefreshToken(ctx, common.HashToken(refreshToken))
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, flowErr("invalid_grant", "unknown refresh token")
		}
		return nil, err
	}
	if stored.Revoked {
		return nil, flowErr("invalid_grant", "refresh token revoked")
	}
	if stored.ClientID != client.ClientID {
		return nil, flowErr("invalid_grant", "refresh token was issued to a different client")
	}
	if time.Now().UTC().After(stored.ExpiresAt) {
		return nil, flowErr("invalid_grant", "refresh token expired")
	}

	// Rotation: the presented token is dead after use
	if err := s.oauth.RevokeRefreshToken(ctx, stored.TokenHash); err != nil {
		return nil, err
	}
	return s.IssueTokens(ctx, stored.UserID, client.ClientID, "")
}

// verifyPKCE checks a code verifier against the stored challenge.
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
	case "plain":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}

// redirectAllowed checks the redirect URI against the client registration.
func redirectAllowed(client *models.OAuthClient, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// userCodeAlphabet avoids ambiguous characters for codes typed by hand.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// newUserCode generates an RFC 8628 user code of the form "XXXX-XXXX".
func newUserCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	out := make([]byte, 9)
	for i := range 8 {
		pos := i
		if i >= 4 {
			pos = i + 1
		}
		out[pos] = userCodeAlphabet[int(buf[i])%len(userCodeAlphabet)]
	}
	out[4] = '-'
	return string(out)
}
