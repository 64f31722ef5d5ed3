package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/pipeline"
)

// VocabularyHandler handles the controlled relationship-type vocabulary
type VocabularyHandler struct {
	store      interfaces.VocabularyStore
	vocabulary *pipeline.Vocabulary
	kernel     interfaces.AuthKernel
	logger     arbor.ILogger
}

// NewVocabularyHandler creates a new vocabulary handler
func NewVocabularyHandler(store interfaces.VocabularyStore, vocabulary *pipeline.Vocabulary, kernel interfaces.AuthKernel, logger arbor.ILogger) *VocabularyHandler {
	return &VocabularyHandler{
		store:      store,
		vocabulary: vocabulary,
		kernel:     kernel,
		logger:     logger,
	}
}

func (h *VocabularyHandler) requirePermission(w http.ResponseWriter, r *http.Request, action string) (*models.Identity, bool) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceVocabulary, action, nil)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	if !allowed {
		WriteError(w, common.Ef(common.KindAuthorization, "not allowed to %s vocabulary", action))
		return nil, false
	}
	return identity, true
}

// ListTypesHandler returns the active canonical relationship types. The
// cached embeddings are omitted from the response.
// GET /vocabulary
func (h *VocabularyHandler) ListTypesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, auth.ActionRead); !ok {
		return
	}
	types, err := h.store.ListActiveTypes(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	type vocabularyView struct {
		TypeName  string                       `json:"type_name"`
		Direction models.RelationshipDirection `json:"direction"`
	}
	views := make([]vocabularyView, 0, len(types))
	for _, t := range types {
		views = append(views, vocabularyView{TypeName: t.TypeName, Direction: t.Direction})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"types": views,
		"count": len(views),
	})
}

type addTypeRequest struct {
	TypeName  string                       `json:"type_name"`
	Direction models.RelationshipDirection `json:"direction"`
}

// AddTypeHandler registers a canonical relationship type, embedding its
// label for future near-match substitution
// POST /vocabulary
func (h *VocabularyHandler) AddTypeHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requirePermission(w, r, auth.ActionCreate)
	if !ok {
		return
	}

	var req addTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "malformed request body", err))
		return
	}
	if req.TypeName == "" {
		WriteError(w, common.E(common.KindValidation, "type_name is required"))
		return
	}
	if req.Direction == "" {
		req.Direction = models.DirectionOutward
	}
	switch req.Direction {
	case models.DirectionOutward, models.DirectionInward, models.DirectionBidirectional:
	default:
		WriteError(w, common.Ef(common.KindValidation, "invalid direction %q", req.Direction))
		return
	}

	if err := h.vocabulary.AddType(r.Context(), req.TypeName, req.Direction, identity.UserID); err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info().Str("type", req.TypeName).Int64("user_id", identity.UserID).Msg("Vocabulary type added")
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "created", "type_name": req.TypeName})
}

type updateTypeRequest struct {
	Active    *bool                         `json:"active,omitempty"`
	Direction *models.RelationshipDirection `json:"direction,omitempty"`
}

// UpdateTypeHandler toggles a type's active flag or direction semantics
// PATCH /vocabulary/{name}
func (h *VocabularyHandler) UpdateTypeHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, auth.ActionUpdate); !ok {
		return
	}

	ctx := r.Context()
	t, err := h.store.GetType(ctx, r.PathValue("name"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var req updateTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "malformed request body", err))
		return
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if req.Direction != nil {
		t.Direction = *req.Direction
	}

	if err := h.store.StoreType(ctx, t); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"type_name": t.TypeName,
		"direction": t.Direction,
		"active":    t.Active,
	})
}
