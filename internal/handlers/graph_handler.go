package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
)

// GraphHandler handles read-only graph API requests: ontologies, documents,
// concepts and ad-hoc semantic search.
type GraphHandler struct {
	graph    interfaces.GraphStore
	embedder interfaces.EmbeddingService
	kernel   interfaces.AuthKernel
	search   *common.IngestionConfig
	logger   arbor.ILogger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(graph interfaces.GraphStore, embedder interfaces.EmbeddingService, kernel interfaces.AuthKernel, search *common.IngestionConfig, logger arbor.ILogger) *GraphHandler {
	return &GraphHandler{
		graph:    graph,
		embedder: embedder,
		kernel:   kernel,
		search:   search,
		logger:   logger,
	}
}

func (h *GraphHandler) requireRead(w http.ResponseWriter, r *http.Request, resource string) bool {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, resource, auth.ActionRead, nil)
	if err != nil {
		WriteError(w, err)
		return false
	}
	if !allowed {
		WriteError(w, common.Ef(common.KindAuthorization, "not allowed to read %s", resource))
		return false
	}
	return true
}

// ListOntologiesHandler returns all ontology nodes
// GET /ontologies
func (h *GraphHandler) ListOntologiesHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireRead(w, r, auth.ResourceOntology) {
		return
	}
	ontologies, err := h.graph.ListOntologies(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ontologies": ontologies,
		"count":      len(ontologies),
	})
}

// GetDocumentHandler returns the provenance record for an ingested document
// GET /documents/{hash}
func (h *GraphHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireRead(w, r, auth.ResourceDocument) {
		return
	}
	meta, err := h.graph.GetDocumentMeta(r.Context(), r.PathValue("hash"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

// GetConceptHandler returns one concept without its embedding vector
// GET /concepts/{id}
func (h *GraphHandler) GetConceptHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireRead(w, r, auth.ResourceDocument) {
		return
	}
	concept, err := h.graph.GetConcept(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	concept.Embedding = nil
	WriteJSON(w, http.StatusOK, concept)
}

// SearchHandler runs an ad-hoc semantic search over concepts
// GET /search?q=entropy&ontology=physics&limit=20
func (h *GraphHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireRead(w, r, auth.ResourceDocument) {
		return
	}

	ctx := r.Context()
	queryText := r.URL.Query().Get("q")
	if queryText == "" {
		WriteError(w, common.E(common.KindValidation, "q is required"))
		return
	}
	limit := QueryInt(r, "limit", 20)

	vectors, err := h.embedder.Embed(ctx, []string{queryText}, interfaces.EmbedQuery)
	if err != nil {
		WriteError(w, err)
		return
	}
	matches, err := h.graph.SearchConcepts(ctx, vectors[0], r.URL.Query().Get("ontology"), h.search.MinSearchSimilarity, limit)
	if err != nil {
		WriteError(w, err)
		return
	}

	type hit struct {
		ConceptID  string  `json:"concept_id"`
		Label      string  `json:"label"`
		Ontology   string  `json:"ontology"`
		Similarity float64 `json:"similarity"`
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, hit{
			ConceptID:  m.Concept.ConceptID,
			Label:      m.Concept.Label,
			Ontology:   m.Concept.Ontology,
			Similarity: m.Similarity,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query": queryText,
		"hits":  hits,
	})
}
