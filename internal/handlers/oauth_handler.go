package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
)

// OAuthHandler implements the OAuth 2.0 endpoints: token, revocation, device
// authorization and the authorization-code (PKCE) exchange.
type OAuthHandler struct {
	tokens *auth.TokenService
	logger arbor.ILogger
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(tokens *auth.TokenService, logger arbor.ILogger) *OAuthHandler {
	return &OAuthHandler{
		tokens: tokens,
		logger: logger,
	}
}

// resolveClient authenticates the calling client from Basic auth or form
// fields. Public clients present an empty secret.
func (h *OAuthHandler) resolveClient(r *http.Request) (*models.OAuthClient, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID == "" {
		return nil, common.E(common.KindAuthentication, "client authentication required")
	}
	return h.tokens.VerifyClient(r.Context(), clientID, clientSecret)
}

// TokenHandler is the RFC 6749 token endpoint
// POST /auth/oauth/token (application/x-www-form-urlencoded)
func (h *OAuthHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, common.Wrap(common.KindValidation, "malformed form body", err))
		return
	}

	client, err := h.resolveClient(r)
	if err != nil {
		WriteOAuthError(w, err)
		return
	}

	ctx := r.Context()
	var tokens *models.TokenResponse

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case auth.GrantClientCredentials:
		tokens, err = h.tokens.ClientCredentials(ctx, client, r.PostFormValue("scope"))
	case auth.GrantDeviceCode:
		tokens, err = h.tokens.ExchangeDeviceCode(ctx, client, r.PostFormValue("device_code"))
	case auth.GrantAuthorizationCode:
		tokens, err = h.tokens.ExchangeAuthorizationCode(ctx, client,
			r.PostFormValue("code"), r.PostFormValue("redirect_uri"), r.PostFormValue("code_verifier"))
	case auth.GrantRefreshToken:
		tokens, err = h.tokens.ExchangeRefreshToken(ctx, client, r.PostFormValue("refresh_token"))
	default:
		WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "unsupported_grant_type",
			"error_description": fmt.Sprintf("grant_type %q is not supported", grantType),
		})
		return
	}
	if err != nil {
		WriteOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, tokens)
}

// RevokeHandler is the RFC 7009 revocation endpoint. Unknown tokens still
// return 200 per the RFC.
// POST /auth/oauth/revoke
func (h *OAuthHandler) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, common.Wrap(common.KindValidation, "malformed form body", err))
		return
	}
	if _, err := h.resolveClient(r); err != nil {
		WriteOAuthError(w, err)
		return
	}
	token := r.PostFormValue("token")
	if token == "" {
		WriteOAuthError(w, common.E(common.KindValidation, "token is required"))
		return
	}
	if err := h.tokens.Revoke(r.Context(), token); err != nil {
		WriteOAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeviceAuthorizationHandler starts an RFC 8628 device flow
// POST /auth/oauth/device/authorize
func (h *OAuthHandler) DeviceAuthorizationHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, common.Wrap(common.KindValidation, "malformed form body", err))
		return
	}
	client, err := h.resolveClient(r)
	if err != nil {
		WriteOAuthError(w, err)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	verificationURI := fmt.Sprintf("%s://%s/auth/oauth/device", scheme, r.Host)

	resp, err := h.tokens.StartDeviceFlow(r.Context(), client, verificationURI)
	if err != nil {
		WriteOAuthError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetDeviceFlowHandler shows the pending flow for a user code so the
// approving user can see which client is asking
// GET /auth/oauth/device?user_code=XXXX-XXXX
func (h *OAuthHandler) GetDeviceFlowHandler(w http.ResponseWriter, r *http.Request) {
	code, err := h.tokens.ResolveUserCode(r.Context(), r.URL.Query().Get("user_code"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_code":  code.UserCode,
		"client_id":  code.ClientID,
		"expires_at": code.ExpiresAt,
	})
}

// DecideDeviceHandler records the signed-in user's approval or denial
// POST /auth/oauth/device/approve and POST /auth/oauth/device/deny
func (h *OAuthHandler) DecideDeviceHandler(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFrom(r.Context())
		if identity.Anonymous {
			WriteError(w, common.E(common.KindAuthentication, "sign in to decide a device flow"))
			return
		}
		if err := r.ParseForm(); err != nil {
			WriteError(w, common.Wrap(common.KindValidation, "malformed form body", err))
			return
		}
		userCode := r.PostFormValue("user_code")
		if userCode == "" {
			WriteError(w, common.E(common.KindValidation, "user_code is required"))
			return
		}
		if err := h.tokens.DecideDevice(r.Context(), userCode, identity.UserID, approve); err != nil {
			WriteError(w, err)
			return
		}
		decision := "approved"
		if !approve {
			decision = "denied"
		}
		h.logger.Info().
			Str("user_code", userCode).
			Int64("user_id", identity.UserID).
			Str("decision", decision).
			Msg("Device flow decided")
		WriteJSON(w, http.StatusOK, map[string]string{"status": decision})
	}
}

// AuthorizeHandler authenticates the resource owner with username/password
// and mints a PKCE authorization code. The CLI drives this endpoint directly
// instead of a browser redirect dance, so parameters are accepted from the
// query string on GET and the form body on POST.
// GET and POST /auth/oauth/authorize
func (h *OAuthHandler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, common.Wrap(common.KindValidation, "malformed form body", err))
		return
	}

	ctx := r.Context()
	client, err := h.resolveClient(r)
	if err != nil {
		WriteOAuthError(w, err)
		return
	}

	user, err := h.tokens.Authenticate(ctx, r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		WriteOAuthError(w, err)
		return
	}

	method := r.FormValue("code_challenge_method")
	if method == "" {
		method = "S256"
	}
	code, err := h.tokens.IssueAuthorizationCode(ctx, client, user.ID,
		r.FormValue("redirect_uri"), r.FormValue("code_challenge"), method, r.FormValue("scope"))
	if err != nil {
		WriteOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, map[string]string{"code": code})
}
