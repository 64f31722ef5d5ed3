// -----------------------------------------------------------------------
// Claude-backed concept extractor - turns a chunk of document text into
// candidate concepts and relationships
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"golang.org/x/time/rate"
)

const extractionSystemPrompt = `You extract knowledge graph content from document text.
Given a chunk of text, identify the distinct concepts it discusses and the
relationships between them. Respond with ONLY a JSON object, no prose:
{
  "concepts": [{"label": "...", "description": "...", "evidence_quote": "..."}],
  "relationships": [{"from_label": "...", "to_label": "...", "relationship_type": "...", "confidence": 0.0}]
}
Labels are short noun phrases. evidence_quote is a verbatim span from the
chunk. relationship_type is a snake_case verb phrase such as "depends_on",
"part_of", "causes". confidence is 0..1.`

// ClaudeExtractor implements the ConceptExtractor interface using the
// Anthropic Claude API.
type ClaudeExtractor struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	timeout   time.Duration
	maxTokens int
	retry     *RetryPolicy
	limiter   *rate.Limiter
	semaphore chan struct{}
}

// NewClaudeExtractor creates a new Claude concept extractor.
func NewClaudeExtractor(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeExtractor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY, COGNATIO_CLAUDE_API_KEY, or claude.api_key in config)")
	}

	model := config.Model
	if model == "" {
		model = "claude-haiku-3-5-20241022"
	}
	config.Model = model

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	concurrency := config.MaxConcurrentRequests
	if concurrency <= 0 {
		concurrency = 4
	}

	minInterval, err := time.ParseDuration(config.RateLimit)
	if err != nil || minInterval <= 0 {
		minInterval = time.Second
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	extractor := &ClaudeExtractor{
		config:    config,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		maxTokens: maxTokens,
		retry:     NewRetryPolicy(config.MaxRetries),
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		semaphore: make(chan struct{}, concurrency),
	}

	logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Int("max_concurrent", concurrency).
		Msg("Claude extractor initialized")

	return extractor, nil
}

// ModelName returns the configured extraction model.
func (e *ClaudeExtractor) ModelName() string {
	return e.config.Model
}

// ExtractConcepts extracts candidate concepts and relationships from the
// chunk. Provider rate limits are retried with backoff; the per-provider
// semaphore bounds concurrent requests.
func (e *ClaudeExtractor) ExtractConcepts(ctx context.Context, chunkText, ontology string) (*models.ExtractionResult, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var result *models.ExtractionResult
	err := e.retry.ExecuteWithRetry(ctx, e.logger, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		r, err := e.extract(ctx, chunkText, ontology)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *ClaudeExtractor) extract(ctx context.Context, chunkText, ontology string) (*models.ExtractionResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Ontology: %s\n\nText:\n%s", ontology, chunkText)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.config.Model),
		MaxTokens: int64(e.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if e.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(e.config.Temperature))
	}

	start := time.Now()
	resp, err := e.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	result, err := parseExtractionJSON(text.String())
	if err != nil {
		return nil, common.Wrap(common.KindProvider, "malformed extractor response", err)
	}
	result.InputTokens = int(resp.Usage.InputTokens)
	result.OutputTokens = int(resp.Usage.OutputTokens)

	e.logger.Trace().
		Int("concepts", len(result.Concepts)).
		Int("relationships", len(result.Relationships)).
		Dur("duration", time.Since(start)).
		Msg("Chunk extraction completed")

	return result, nil
}

// parseExtractionJSON tolerates markdown code fences around the JSON body.
func parseExtractionJSON(text string) (*models.ExtractionResult, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	// Fall back to the outermost object when the model added prose anyway
	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in response")
		}
		trimmed = trimmed[start : end+1]
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}
	if result.Concepts == nil {
		result.Concepts = []models.CandidateConcept{}
	}
	if result.Relationships == nil {
		result.Relationships = []models.CandidateRelationship{}
	}
	return &result, nil
}

// classifyAnthropicError maps SDK errors onto the error taxonomy.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return common.Wrap(common.KindRateLimited, "claude rate limited", err)
		case apiErr.StatusCode >= 500:
			return common.Wrap(common.KindProvider, "claude unavailable", err)
		default:
			return common.Wrap(common.KindProvider, "claude request failed", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.Wrap(common.KindProvider, "claude request timed out", err)
	}
	return common.Wrap(common.KindProvider, "claude request failed", err)
}

// Compile-time interface check
var _ interfaces.ConceptExtractor = (*ClaudeExtractor)(nil)
