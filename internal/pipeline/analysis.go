package pipeline

import "github.com/ternarybob/cognatio/internal/models"

// Rough cost model for the approval gate. Token counts are estimated at
// four characters per token; prices are microcents per token for the
// extraction model, rounded up to whole cents at the end.
const (
	charsPerToken            = 4
	promptOverheadTokens     = 600 // System prompt and scaffolding per chunk
	outputTokensPerChunk     = 800
	inputMicrocentsPerToken  = 8
	outputMicrocentsPerToken = 40
)

// Analyzer produces the pre-execution estimate attached to a job at enqueue
// time. The approval policy compares it against the auto-approve thresholds.
type Analyzer struct {
	chunker *Chunker
}

// NewAnalyzer creates an analyzer sharing the executor's chunking parameters
// so the estimate matches what the worker will actually process.
func NewAnalyzer(chunker *Chunker) *Analyzer {
	return &Analyzer{chunker: chunker}
}

// Analyze estimates chunk count, byte size and extraction cost for a document.
func (a *Analyzer) Analyze(document string) *models.JobAnalysis {
	chunks := a.chunker.Split(document)

	inputTokens := promptOverheadTokens * len(chunks)
	for _, chunk := range chunks {
		inputTokens += len(chunk.Text) / charsPerToken
	}
	outputTokens := outputTokensPerChunk * len(chunks)

	microcents := inputTokens*inputMicrocentsPerToken + outputTokens*outputMicrocentsPerToken
	costCents := (microcents + 999_999) / 1_000_000

	return &models.JobAnalysis{
		Chunks:             len(chunks),
		Bytes:              int64(len(document)),
		EstimatedCostCents: costCents,
	}
}
