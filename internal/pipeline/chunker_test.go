package pipeline

import (
	"strings"
	"testing"
)

func TestChunker_SmallDocumentIsOneChunk(t *testing.T) {
	c := NewChunker(2000, 200)
	chunks := c.Split("A short document.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Index != 0 || chunks[0].Text != "A short document." {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}

func TestChunker_EmptyDocument(t *testing.T) {
	c := NewChunker(2000, 200)
	if chunks := c.Split(""); chunks != nil {
		t.Errorf("empty document must yield no chunks, got %d", len(chunks))
	}
	if chunks := c.Split("   \n\t  "); chunks != nil {
		t.Errorf("whitespace-only document must yield no chunks, got %d", len(chunks))
	}
}

func TestChunker_CoversWholeDocument(t *testing.T) {
	c := NewChunker(100, 20)
	doc := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	chunks := c.Split(doc)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d carries index %d", i, chunk.Index)
		}
		if len(chunk.Text) > c.Size {
			t.Errorf("chunk %d exceeds the window: %d > %d", i, len(chunk.Text), c.Size)
		}
		if chunk.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}

	// The final chunk must reach the end of the document
	last := chunks[len(chunks)-1].Text
	if !strings.HasSuffix(strings.TrimSpace(doc), last) {
		t.Error("final chunk must reach the end of the document")
	}
}

func TestChunker_PrefersParagraphBreaks(t *testing.T) {
	c := NewChunker(100, 0)
	para1 := strings.Repeat("alpha ", 12) // 72 chars, past the half-window
	para2 := strings.Repeat("beta ", 30)
	doc := para1 + "\n\n" + para2

	chunks := c.Split(doc)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if got := chunks[0].Text; got != strings.TrimSpace(para1) {
		t.Errorf("first chunk should cut at the paragraph break, got %q", got)
	}
}

func TestChunker_OverlapRepeatsTail(t *testing.T) {
	c := NewChunker(100, 30)
	doc := strings.Repeat("word ", 100)

	chunks := c.Split(doc)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// With overlap, the head of chunk 1 re-covers the tail of chunk 0
	tail := chunks[0].Text[len(chunks[0].Text)-10:]
	if !strings.Contains(chunks[1].Text[:40], strings.TrimSpace(tail)) {
		t.Errorf("expected overlap between consecutive chunks")
	}
}

func TestNewChunker_Floors(t *testing.T) {
	c := NewChunker(0, -5)
	if c.Size != 2000 || c.Overlap != 0 {
		t.Errorf("unexpected defaults: size=%d overlap=%d", c.Size, c.Overlap)
	}
	c = NewChunker(100, 100)
	if c.Overlap != 25 {
		t.Errorf("overlap >= size must be clamped to size/4, got %d", c.Overlap)
	}
}

func TestEstimate_MatchesSplit(t *testing.T) {
	c := NewChunker(120, 20)
	doc := strings.Repeat("Sentences accumulate. ", 50)
	if got, want := c.Estimate(doc), len(c.Split(doc)); got != want {
		t.Errorf("Estimate() = %d, Split yields %d", got, want)
	}
}

func TestLastSentenceEnd(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"No terminator here", -1},
		{"One. Two", 3 + 1},
		{"A! B? C. tail", 7 + 1},
		{"Line ends.\nNext", 9 + 1},
	}
	for _, tt := range tests {
		if got := lastSentenceEnd(tt.in); got != tt.want {
			t.Errorf("lastSentenceEnd(%q) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}
