package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches the resolved caller identity to the request context.
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the caller identity from the request context. Requests
// that passed the auth middleware always carry one; a missing identity is
// treated as anonymous.
func IdentityFrom(ctx context.Context) *models.Identity {
	if identity, ok := ctx.Value(identityKey).(*models.Identity); ok {
		return identity
	}
	return &models.Identity{Anonymous: true, GroupIDs: []int64{models.PublicGroupID}}
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a classified error onto its HTTP status and writes the
// standard error envelope. Unclassified errors become a 500 with a generic
// message so internals never leak to the client.
func WriteError(w http.ResponseWriter, err error) error {
	kind := common.KindOf(err)
	message := "internal error"
	if kind != common.KindUnexpected {
		var classified *common.Error
		if errors.As(err, &classified) {
			message = classified.Msg
		}
	}
	return WriteJSON(w, kind.HTTPStatus(), map[string]string{
		"status": "error",
		"kind":   string(kind),
		"error":  message,
	})
}

// WriteOAuthError writes the RFC 6749 error body for the token endpoint.
// FlowErrors carry their own error code; everything else maps through the
// Kind taxonomy with code "invalid_request" or "server_error".
func WriteOAuthError(w http.ResponseWriter, err error) error {
	var flowErr *auth.FlowError
	if errors.As(err, &flowErr) {
		body := map[string]string{"error": flowErr.Code}
		if flowErr.Description != "" {
			body["error_description"] = flowErr.Description
		}
		status := http.StatusBadRequest
		if flowErr.Code == "access_denied" {
			status = http.StatusForbidden
		}
		return WriteJSON(w, status, body)
	}

	switch common.KindOf(err) {
	case common.KindAuthentication:
		w.Header().Set("WWW-Authenticate", `Basic realm="cognatio"`)
		return WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
	case common.KindValidation, common.KindNotFound:
		return WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
	default:
		return WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
	}
}

// QueryInt parses an integer query parameter with a default.
func QueryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

// QueryBool parses a boolean query parameter, defaulting to false.
func QueryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
