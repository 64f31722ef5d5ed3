package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/query"
)

// ArtifactHandler handles artifact API requests
type ArtifactHandler struct {
	store     *artifacts.Store
	querydefs interfaces.QueryDefinitionStorage
	executor  *query.Executor
	kernel    interfaces.AuthKernel
	logger    arbor.ILogger
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(store *artifacts.Store, querydefs interfaces.QueryDefinitionStorage, executor *query.Executor, kernel interfaces.AuthKernel, logger arbor.ILogger) *ArtifactHandler {
	return &ArtifactHandler{
		store:     store,
		querydefs: querydefs,
		executor:  executor,
		kernel:    kernel,
		logger:    logger,
	}
}

// requireArtifact loads artifact metadata and checks the caller's permission
// for the given action.
func (h *ArtifactHandler) requireArtifact(w http.ResponseWriter, r *http.Request, action string) (*models.ArtifactMeta, *models.Identity, bool) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	meta, err := h.store.GetMeta(ctx, r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceArtifact, action, &models.TargetAttributes{
		ResourceID: meta.ID,
		OwnerID:    meta.OwnerID,
		IsSystem:   meta.OwnerID == 0,
	})
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}
	if !allowed {
		WriteError(w, common.Ef(common.KindAuthorization, "not allowed to %s artifact %s", action, meta.ID))
		return nil, nil, false
	}
	return meta, identity, true
}

// ListArtifactsHandler lists artifact metadata with freshness flags
// GET /artifacts?type=projection&ontology=physics&mine=true&limit=50
func (h *ArtifactHandler) ListArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceArtifact, auth.ActionRead, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !allowed {
		WriteError(w, common.E(common.KindAuthorization, "not allowed to list artifacts"))
		return
	}

	filter := models.ArtifactFilter{
		ArtifactType: models.ArtifactType(r.URL.Query().Get("type")),
		Ontology:     r.URL.Query().Get("ontology"),
		Limit:        QueryInt(r, "limit", 50),
		Offset:       QueryInt(r, "offset", 0),
	}
	if QueryBool(r, "mine") {
		filter.OwnerID = identity.UserID
	}

	metas, err := h.store.List(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list artifacts")
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": metas,
		"count":     len(metas),
	})
}

// GetArtifactHandler returns artifact metadata including the freshness flag
// GET /artifacts/{id}
func (h *ArtifactHandler) GetArtifactHandler(w http.ResponseWriter, r *http.Request) {
	meta, _, ok := h.requireArtifact(w, r, auth.ActionRead)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

// GetArtifactPayloadHandler returns the artifact payload regardless of tier
// GET /artifacts/{id}/payload
func (h *ArtifactHandler) GetArtifactPayloadHandler(w http.ResponseWriter, r *http.Request) {
	meta, _, ok := h.requireArtifact(w, r, auth.ActionRead)
	if !ok {
		return
	}
	payload, err := h.store.GetPayload(r.Context(), meta.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// DeleteArtifactHandler deletes an artifact and its blob payload
// DELETE /artifacts/{id}
func (h *ArtifactHandler) DeleteArtifactHandler(w http.ResponseWriter, r *http.Request) {
	meta, _, ok := h.requireArtifact(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), meta.ID); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": meta.ID})
}

// RegenerateArtifactHandler re-runs the originating query definition against
// the current graph, producing a fresh artifact and superseding this one
// POST /artifacts/{id}/regenerate
func (h *ArtifactHandler) RegenerateArtifactHandler(w http.ResponseWriter, r *http.Request) {
	meta, _, ok := h.requireArtifact(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	if meta.QueryDefinitionID == "" {
		WriteError(w, common.E(common.KindUnprocessable, "artifact has no query definition to re-run"))
		return
	}

	ctx := r.Context()
	def, err := h.querydefs.GetDefinition(ctx, meta.QueryDefinitionID)
	if err != nil {
		WriteError(w, err)
		return
	}

	fresh, err := h.executor.Execute(ctx, def, meta.OwnerID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.store.MarkSuperseded(ctx, meta.ID); err != nil {
		h.logger.Warn().Err(err).Str("artifact_id", meta.ID).Msg("Failed to supersede regenerated artifact")
	}

	WriteJSON(w, http.StatusCreated, fresh)
}
