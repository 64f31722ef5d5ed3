// -----------------------------------------------------------------------
// Gemini-backed embedding service with profile-driven prefixes and
// optional normalisation
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/graph"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiEmbedder implements the EmbeddingService interface using the Google
// Gemini embedding API.
type GeminiEmbedder struct {
	config    *common.GeminiConfig
	profile   *common.EmbeddingConfig
	logger    arbor.ILogger
	client    *genai.Client
	timeout   time.Duration
	retry     *RetryPolicy
	limiter   *rate.Limiter
	semaphore chan struct{}
}

// NewGeminiEmbedder creates a new Gemini embedding service.
func NewGeminiEmbedder(config *common.GeminiConfig, profile *common.EmbeddingConfig, logger arbor.ILogger) (*GeminiEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required (set COGNATIO_GEMINI_API_KEY or gemini.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "gemini-embedding-001"
	}
	if profile.Dimensions <= 0 {
		profile.Dimensions = 768
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	concurrency := config.MaxConcurrentRequests
	if concurrency <= 0 {
		concurrency = 8
	}

	minInterval, err := time.ParseDuration(config.RateLimit)
	if err != nil || minInterval <= 0 {
		minInterval = 250 * time.Millisecond
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	embedder := &GeminiEmbedder{
		config:    config,
		profile:   profile,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		retry:     NewRetryPolicy(config.MaxRetries),
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		semaphore: make(chan struct{}, concurrency),
	}

	logger.Debug().
		Str("model", config.Model).
		Int("dimensions", profile.Dimensions).
		Bool("normalize", profile.Normalize).
		Dur("timeout", timeout).
		Msg("Gemini embedder initialized")

	return embedder, nil
}

// ModelName returns the configured embedding model.
func (e *GeminiEmbedder) ModelName() string {
	return e.config.Model
}

// Dimension returns the active profile's output dimensionality.
func (e *GeminiEmbedder) Dimension() int {
	return e.profile.Dimensions
}

// Embed generates embeddings for the batch, applying the profile prefix for
// the purpose and normalising when the profile declares it.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string, purpose interfaces.EmbedPurpose) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	prefix := e.profile.DocumentPrefix
	if purpose == interfaces.EmbedQuery {
		prefix = e.profile.QueryPrefix
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		input := text
		if prefix != "" {
			input = prefix + text
		}

		var vec []float32
		err := e.retry.ExecuteWithRetry(ctx, e.logger, func() error {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
			v, err := e.embedOne(ctx, input)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
		if err != nil {
			return nil, err
		}

		if e.profile.Normalize {
			vec = graph.Normalize(vec)
		}
		vectors[i] = vec
	}

	return vectors, nil
}

func (e *GeminiEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outputDim := int32(e.profile.Dimensions)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	result, err := e.client.Models.EmbedContent(timeoutCtx, e.config.Model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, embeddingConfig)
	if err != nil {
		return nil, common.Wrap(common.KindProvider, "embedding generation failed", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, common.E(common.KindProvider, "no embedding returned from API")
	}
	if len(embedding) != e.profile.Dimensions {
		return nil, common.Ef(common.KindProvider, "embedding dimension mismatch: expected %d, got %d", e.profile.Dimensions, len(embedding))
	}

	return embedding, nil
}

// Compile-time interface check
var _ interfaces.EmbeddingService = (*GeminiEmbedder)(nil)
