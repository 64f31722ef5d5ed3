// -----------------------------------------------------------------------
// Query executor - runs reusable query definitions against the graph and
// registers the result as an artifact
// -----------------------------------------------------------------------

package query

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

const defaultSearchLimit = 20

// Executor runs query definitions. Every execution produces an artifact
// linked to the definition, stamped with the graph epoch at run time.
type Executor struct {
	graph               interfaces.GraphStore
	embedder            interfaces.EmbeddingService
	artifacts           *artifacts.Store
	minSearchSimilarity float64
	logger              arbor.ILogger
}

// NewExecutor creates a query executor.
func NewExecutor(graph interfaces.GraphStore, embedder interfaces.EmbeddingService, artifactStore *artifacts.Store, minSearchSimilarity float64, logger arbor.ILogger) *Executor {
	if minSearchSimilarity <= 0 {
		minSearchSimilarity = 0.5
	}
	return &Executor{
		graph:               graph,
		embedder:            embedder,
		artifacts:           artifactStore,
		minSearchSimilarity: minSearchSimilarity,
		logger:              logger,
	}
}

// Execute runs a definition for the given owner and persists the result.
func (e *Executor) Execute(ctx context.Context, def *models.QueryDefinition, ownerID int64) (*models.Artifact, error) {
	var payload []byte
	var ontology string
	var err error

	switch def.DefinitionType {
	case models.QueryDefinitionSearch:
		payload, ontology, err = e.runSearch(ctx, def.Definition)
	case models.QueryDefinitionBlockDiagram:
		payload, ontology, err = e.runBlockDiagram(ctx, def.Definition)
	case models.QueryDefinitionConnection:
		payload, ontology, err = e.runConnection(ctx, def.Definition)
	case models.QueryDefinitionExploration:
		payload, ontology, err = e.runExploration(ctx, def.Definition)
	case models.QueryDefinitionPolarity:
		payload, ontology, err = e.runPolarity(ctx, def.Definition)
	default:
		return nil, common.Ef(common.KindUnprocessable, "query definition type %s is not executable by this build", def.DefinitionType)
	}
	if err != nil {
		return nil, err
	}

	return e.artifacts.Persist(ctx, &artifacts.PersistSpec{
		Type:              models.ArtifactTypeQueryResult,
		Representation:    string(def.DefinitionType),
		Name:              def.Name,
		OwnerID:           ownerID,
		Parameters:        def.Definition,
		Payload:           payload,
		Ontology:          ontology,
		QueryDefinitionID: def.ID,
	})
}

type searchDefinition struct {
	Text          string  `json:"text"`
	Ontology      string  `json:"ontology,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

func (e *Executor) runSearch(ctx context.Context, raw json.RawMessage) ([]byte, string, error) {
	var def searchDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, "", common.Wrap(common.KindValidation, "malformed search definition", err)
	}
	if def.Text == "" {
		return nil, "", common.E(common.KindValidation, "search definition needs text")
	}
	if def.Limit <= 0 {
		def.Limit = defaultSearchLimit
	}
	if def.MinSimilarity <= 0 {
		def.MinSimilarity = e.minSearchSimilarity
	}

	vectors, err := e.embedder.Embed(ctx, []string{def.Text}, interfaces.EmbedQuery)
	if err != nil {
		return nil, "", err
	}
	matches, err := e.graph.SearchConcepts(ctx, vectors[0], def.Ontology, def.MinSimilarity, def.Limit)
	if err != nil {
		return nil, "", err
	}

	type hit struct {
		ConceptID  string  `json:"concept_id"`
		Label      string  `json:"label"`
		Similarity float64 `json:"similarity"`
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, hit{ConceptID: m.Concept.ConceptID, Label: m.Concept.Label, Similarity: m.Similarity})
	}
	payload, err := json.Marshal(map[string]any{"query": def.Text, "hits": hits})
	return payload, def.Ontology, err
}

type diagramDefinition struct {
	Ontology string `json:"ontology"`
}

func (e *Executor) runBlockDiagram(ctx context.Context, raw json.RawMessage) ([]byte, string, error) {
	var def diagramDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, "", common.Wrap(common.KindValidation, "malformed block diagram definition", err)
	}
	data, err := e.graph.Export(ctx, def.Ontology)
	if err != nil {
		return nil, "", err
	}

	type node struct {
		ConceptID string `json:"concept_id"`
		Label     string `json:"label"`
	}
	type edge struct {
		From string `json:"from"`
		To   string `json:"to"`
		Type string `json:"type"`
	}
	nodes := make([]node, 0, len(data.Concepts))
	for _, c := range data.Concepts {
		nodes = append(nodes, node{ConceptID: c.ConceptID, Label: c.Label})
	}
	edges := make([]edge, 0, len(data.Relationships))
	for _, r := range data.Relationships {
		edges = append(edges, edge{From: r.FromConceptID, To: r.ToConceptID, Type: r.RelationshipType})
	}
	payload, err := json.Marshal(map[string]any{"ontology": def.Ontology, "nodes": nodes, "edges": edges})
	return payload, def.Ontology, err
}

type connectionDefinition struct {
	FromConceptID string `json:"from_concept_id"`
	ToConceptID   string `json:"to_concept_id"`
	Ontology      string `json:"ontology,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty"`
}

// runConnection finds a shortest undirected path between two concepts.
func (e *Executor) runConnection(ctx context.Context, raw json.RawMessage) ([]byte, string, error) {
	var def connectionDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, "", common.Wrap(common.KindValidation, "malformed connection definition", err)
	}
	if def.FromConceptID == "" || def.ToConceptID == "" {
		return nil, "", common.E(common.KindValidation, "connection definition needs both endpoints")
	}
	if def.MaxDepth <= 0 {
		def.MaxDepth = 6
	}

	adjacency, err := e.adjacency(ctx, def.Ontology)
	if err != nil {
		return nil, "", err
	}

	path := bfsPath(adjacency, def.FromConceptID, def.ToConceptID, def.MaxDepth)
	payload, err := json.Marshal(map[string]any{
		"from":      def.FromConceptID,
		"to":        def.ToConceptID,
		"connected": path != nil,
		"path":      path,
	})
	return payload, def.Ontology, err
}

type explorationDefinition struct {
	ConceptID string `json:"concept_id"`
	Ontology  string `json:"ontology,omitempty"`
	Hops      int    `json:"hops,omitempty"`
}

// runExploration returns the n-hop neighbourhood of a concept.
func (e *Executor) runExploration(ctx context.Context, raw json.RawMessage) ([]byte, string, error) {
	var def explorationDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, "", common.Wrap(common.KindValidation, "malformed exploration definition", err)
	}
	if def.ConceptID == "" {
		return nil, "", common.E(common.KindValidation, "exploration definition needs a concept id")
	}
	if def.Hops <= 0 {
		def.Hops = 2
	}

	adjacency, err := e.adjacency(ctx, def.Ontology)
	if err != nil {
		return nil, "", err
	}

	reached := map[string]int{def.ConceptID: 0}
	frontier := []string{def.ConceptID}
	for depth := 1; depth <= def.Hops; depth++ {
		var next []string
		for _, id := range frontier {
			for _, neighbour := range adjacency[id] {
				if _, seen := reached[neighbour]; seen {
					continue
				}
				reached[neighbour] = depth
				next = append(next, neighbour)
			}
		}
		frontier = next
	}

	type reachedNode struct {
		ConceptID string `json:"concept_id"`
		Depth     int    `json:"depth"`
	}
	nodes := make([]reachedNode, 0, len(reached))
	for id, depth := range reached {
		nodes = append(nodes, reachedNode{ConceptID: id, Depth: depth})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		return nodes[i].ConceptID < nodes[j].ConceptID
	})
	payload, err := json.Marshal(map[string]any{"root": def.ConceptID, "nodes": nodes})
	return payload, def.Ontology, err
}

type polarityDefinition struct {
	Ontology string `json:"ontology"`
}

// runPolarity measures per-concept edge polarity: the balance of outgoing
// against incoming edges.
func (e *Executor) runPolarity(ctx context.Context, raw json.RawMessage) ([]byte, string, error) {
	var def polarityDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, "", common.Wrap(common.KindValidation, "malformed polarity definition", err)
	}
	data, err := e.graph.Export(ctx, def.Ontology)
	if err != nil {
		return nil, "", err
	}

	out := make(map[string]int)
	in := make(map[string]int)
	for _, r := range data.Relationships {
		out[r.FromConceptID]++
		in[r.ToConceptID]++
	}

	type polarity struct {
		ConceptID string `json:"concept_id"`
		Outgoing  int    `json:"outgoing"`
		Incoming  int    `json:"incoming"`
		Polarity  int    `json:"polarity"`
	}
	rows := make([]polarity, 0, len(data.Concepts))
	for _, c := range data.Concepts {
		rows = append(rows, polarity{
			ConceptID: c.ConceptID,
			Outgoing:  out[c.ConceptID],
			Incoming:  in[c.ConceptID],
			Polarity:  out[c.ConceptID] - in[c.ConceptID],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ConceptID < rows[j].ConceptID })
	payload, err := json.Marshal(map[string]any{"ontology": def.Ontology, "concepts": rows})
	return payload, def.Ontology, err
}

// adjacency builds the undirected neighbour map for an ontology.
func (e *Executor) adjacency(ctx context.Context, ontology string) (map[string][]string, error) {
	data, err := e.graph.Export(ctx, ontology)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[string][]string)
	for _, r := range data.Relationships {
		adjacency[r.FromConceptID] = append(adjacency[r.FromConceptID], r.ToConceptID)
		adjacency[r.ToConceptID] = append(adjacency[r.ToConceptID], r.FromConceptID)
	}
	return adjacency, nil
}

// bfsPath returns the shortest path between two nodes, or nil.
func bfsPath(adjacency map[string][]string, from, to string, maxDepth int) []string {
	if from == to {
		return []string{from}
	}
	parent := map[string]string{from: ""}
	frontier := []string{from}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, neighbour := range adjacency[id] {
				if _, seen := parent[neighbour]; seen {
					continue
				}
				parent[neighbour] = id
				if neighbour == to {
					return rebuildPath(parent, to)
				}
				next = append(next, neighbour)
			}
		}
		frontier = next
	}
	return nil
}

func rebuildPath(parent map[string]string, to string) []string {
	var path []string
	for node := to; node != ""; node = parent[node] {
		path = append([]string{node}, path...)
	}
	return path
}
