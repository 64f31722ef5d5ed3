package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
)

func newOAuthHandler(t *testing.T) *OAuthHandler {
	t.Helper()
	t.Setenv("COGNATIO_ADMIN_PASSWORD", "change-me-admin")
	logger := common.GetLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, auth.NewSeeder(manager, logger).Run(context.Background()))

	tokens := auth.NewTokenService(manager.OAuthStorage(), manager.AuthStorage(), &common.AuthConfig{
		Enabled: true, AccessTokenTTLHours: 1, RefreshTokenTTLHours: 720, DeviceCodeTTLMinutes: 15,
	}, logger)
	return NewOAuthHandler(tokens, logger)
}

// formRequest builds a form-encoded POST the way an OAuth client would.
func formRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestTokenHandler_UnsupportedGrant(t *testing.T) {
	h := newOAuthHandler(t)

	rec := httptest.NewRecorder()
	h.TokenHandler(rec, formRequest("/auth/oauth/token", url.Values{
		"client_id":  {auth.DefaultCLIClientID},
		"grant_type": {"password"},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unsupported_grant_type", body["error"])
}

func TestTokenHandler_MissingClientIsInvalidClient(t *testing.T) {
	h := newOAuthHandler(t)

	rec := httptest.NewRecorder()
	h.TokenHandler(rec, formRequest("/auth/oauth/token", url.Values{
		"grant_type": {auth.GrantClientCredentials},
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_client", body["error"])
}

func TestDeviceFlow_EndToEnd(t *testing.T) {
	h := newOAuthHandler(t)

	// 1. Device asks for codes
	rec := httptest.NewRecorder()
	h.DeviceAuthorizationHandler(rec, formRequest("/auth/oauth/device/authorize", url.Values{
		"client_id": {auth.DefaultCLIClientID},
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var started models.DeviceAuthorizationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.DeviceCode)
	require.NotEmpty(t, started.UserCode)
	require.Contains(t, started.VerificationURI, "/auth/oauth/device")

	// 2. Polling before the decision reports authorization_pending
	poll := url.Values{
		"client_id":   {auth.DefaultCLIClientID},
		"grant_type":  {auth.GrantDeviceCode},
		"device_code": {started.DeviceCode},
	}
	rec = httptest.NewRecorder()
	h.TokenHandler(rec, formRequest("/auth/oauth/token", poll))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var pending map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Equal(t, "authorization_pending", pending["error"])

	// 3. The flow is visible by user code for the approving user
	rec = httptest.NewRecorder()
	h.GetDeviceFlowHandler(rec, httptest.NewRequest(http.MethodGet,
		"/auth/oauth/device?user_code="+url.QueryEscape(started.UserCode), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// 4. A signed-in user approves; anonymous callers cannot
	decide := formRequest("/auth/oauth/device/approve", url.Values{"user_code": {started.UserCode}})
	rec = httptest.NewRecorder()
	h.DecideDeviceHandler(true)(rec, decide)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "anonymous decisions are rejected")

	decide = formRequest("/auth/oauth/device/approve", url.Values{"user_code": {started.UserCode}})
	decide = decide.WithContext(WithIdentity(decide.Context(), &models.Identity{UserID: 1000, Username: "admin"}))
	rec = httptest.NewRecorder()
	h.DecideDeviceHandler(true)(rec, decide)
	require.Equal(t, http.StatusOK, rec.Code)

	// 5. The next poll mints tokens
	rec = httptest.NewRecorder()
	h.TokenHandler(rec, formRequest("/auth/oauth/token", poll))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tokens models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.Equal(t, "Bearer", tokens.TokenType)
}

func TestAuthorizeAndExchange_PKCE(t *testing.T) {
	h := newOAuthHandler(t)

	verifier := "cli-secret-verifier-0123456789abcdef"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	rec := httptest.NewRecorder()
	h.AuthorizeHandler(rec, formRequest("/auth/oauth/authorize", url.Values{
		"client_id":      {auth.DefaultCLIClientID},
		"username":       {"admin"},
		"password":       {"change-me-admin"},
		"redirect_uri":   {"http://127.0.0.1/callback"},
		"code_challenge": {challenge},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var issued map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued["code"])

	rec = httptest.NewRecorder()
	h.TokenHandler(rec, formRequest("/auth/oauth/token", url.Values{
		"client_id":     {auth.DefaultCLIClientID},
		"grant_type":    {auth.GrantAuthorizationCode},
		"code":          {issued["code"]},
		"redirect_uri":  {"http://127.0.0.1/callback"},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
}

func TestAuthorizeHandler_WrongPassword(t *testing.T) {
	h := newOAuthHandler(t)

	rec := httptest.NewRecorder()
	h.AuthorizeHandler(rec, formRequest("/auth/oauth/authorize", url.Values{
		"client_id":      {auth.DefaultCLIClientID},
		"username":       {"admin"},
		"password":       {"wrong"},
		"code_challenge": {"anything"},
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeHandler(t *testing.T) {
	h := newOAuthHandler(t)

	// Unknown tokens still revoke cleanly per RFC 7009
	rec := httptest.NewRecorder()
	h.RevokeHandler(rec, formRequest("/auth/oauth/revoke", url.Values{
		"client_id": {auth.DefaultCLIClientID},
		"token":     {"no-such-token"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	// A missing token field is a client error
	rec = httptest.NewRecorder()
	h.RevokeHandler(rec, formRequest("/auth/oauth/revoke", url.Values{
		"client_id": {auth.DefaultCLIClientID},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
