package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/query"
)

// QueryDefinitionHandler handles reusable query recipe CRUD and execution
type QueryDefinitionHandler struct {
	storage  interfaces.QueryDefinitionStorage
	executor *query.Executor
	kernel   interfaces.AuthKernel
	logger   arbor.ILogger
}

// NewQueryDefinitionHandler creates a new query definition handler
func NewQueryDefinitionHandler(storage interfaces.QueryDefinitionStorage, executor *query.Executor, kernel interfaces.AuthKernel, logger arbor.ILogger) *QueryDefinitionHandler {
	return &QueryDefinitionHandler{
		storage:  storage,
		executor: executor,
		kernel:   kernel,
		logger:   logger,
	}
}

func (h *QueryDefinitionHandler) requireDefinition(w http.ResponseWriter, r *http.Request, action string) (*models.QueryDefinition, *models.Identity, bool) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	def, err := h.storage.GetDefinition(ctx, r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceQueryDefinition, action, &models.TargetAttributes{
		ResourceID: def.ID,
		OwnerID:    def.OwnerID,
	})
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}
	if !allowed {
		WriteError(w, common.Ef(common.KindAuthorization, "not allowed to %s query definition %s", action, def.ID))
		return nil, nil, false
	}
	return def, identity, true
}

type queryDefinitionRequest struct {
	Name           string                     `json:"name"`
	DefinitionType models.QueryDefinitionType `json:"definition_type"`
	Definition     json.RawMessage            `json:"definition"`
	Metadata       map[string]any             `json:"metadata,omitempty"`
}

func (req *queryDefinitionRequest) validate() error {
	if req.Name == "" {
		return common.E(common.KindValidation, "name is required")
	}
	if req.DefinitionType == "" {
		return common.E(common.KindValidation, "definition_type is required")
	}
	if len(req.Definition) == 0 {
		return common.E(common.KindValidation, "definition is required")
	}
	return nil
}

// ListDefinitionsHandler lists the caller's query definitions
// GET /query-definitions
func (h *QueryDefinitionHandler) ListDefinitionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceQueryDefinition, auth.ActionRead, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !allowed {
		WriteError(w, common.E(common.KindAuthorization, "not allowed to list query definitions"))
		return
	}

	defs, err := h.storage.ListDefinitions(ctx, identity.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"definitions": defs,
		"count":       len(defs),
	})
}

// CreateDefinitionHandler stores a new query definition
// POST /query-definitions
func (h *QueryDefinitionHandler) CreateDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceQueryDefinition, auth.ActionCreate, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !allowed {
		WriteError(w, common.E(common.KindAuthorization, "not allowed to create query definitions"))
		return
	}

	var req queryDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "malformed request body", err))
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, err)
		return
	}

	now := time.Now().UTC()
	def := &models.QueryDefinition{
		ID:             common.NewQueryDefinitionID(),
		Name:           req.Name,
		OwnerID:        identity.UserID,
		DefinitionType: req.DefinitionType,
		Definition:     req.Definition,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.storage.StoreDefinition(ctx, def); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, def)
}

// GetDefinitionHandler returns one query definition
// GET /query-definitions/{id}
func (h *QueryDefinitionHandler) GetDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	def, _, ok := h.requireDefinition(w, r, auth.ActionRead)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// UpdateDefinitionHandler replaces the definition body and metadata
// PUT /query-definitions/{id}
func (h *QueryDefinitionHandler) UpdateDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	def, _, ok := h.requireDefinition(w, r, auth.ActionUpdate)
	if !ok {
		return
	}

	var req queryDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "malformed request body", err))
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, err)
		return
	}

	def.Name = req.Name
	def.DefinitionType = req.DefinitionType
	def.Definition = req.Definition
	def.Metadata = req.Metadata
	def.UpdatedAt = time.Now().UTC()

	if err := h.storage.UpdateDefinition(r.Context(), def); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// DeleteDefinitionHandler deletes a query definition; artifacts it produced
// are left in place and cleaned up by the orphan sweep
// DELETE /query-definitions/{id}
func (h *QueryDefinitionHandler) DeleteDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	def, _, ok := h.requireDefinition(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := h.storage.DeleteDefinition(r.Context(), def.ID); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": def.ID})
}

// ExecuteDefinitionHandler runs the definition against the current graph and
// returns the resulting artifact metadata
// POST /query-definitions/{id}/execute
func (h *QueryDefinitionHandler) ExecuteDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	def, identity, ok := h.requireDefinition(w, r, auth.ActionExecute)
	if !ok {
		return
	}

	artifact, err := h.executor.Execute(r.Context(), def, identity.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("definition_id", def.ID).Msg("Query definition execution failed")
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, artifact)
}
