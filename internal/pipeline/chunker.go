package pipeline

import "strings"

// Chunk is one slice of the source document.
type Chunk struct {
	Index int
	Text  string
}

// Chunker splits documents into overlapping character windows, preferring
// paragraph boundaries so evidence quotes stay intact.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker with sane floors on size and overlap.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunk sequence for the document. Empty or
// whitespace-only documents yield no chunks.
func (c *Chunker) Split(document string) []Chunk {
	text := strings.TrimSpace(document)
	if text == "" {
		return nil
	}

	if len(text) <= c.Size {
		return []Chunk{{Index: 0, Text: text}}
	}

	chunks := make([]Chunk, 0, len(text)/c.Size+1)
	start := 0
	index := 0
	for start < len(text) {
		end := start + c.Size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, Chunk{Index: index, Text: chunk})
			}
			break
		}

		// Prefer to cut at a paragraph break, then a sentence end, then a
		// word boundary inside the back half of the window.
		cut := end
		window := text[start:end]
		if p := strings.LastIndex(window, "\n\n"); p > c.Size/2 {
			cut = start + p
		} else if p := lastSentenceEnd(window); p > c.Size/2 {
			cut = start + p
		} else if p := strings.LastIndexByte(window, ' '); p > c.Size/2 {
			cut = start + p
		}

		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, Chunk{Index: index, Text: chunk})
			index++
		}

		next := cut - c.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// Estimate returns the chunk count without materialising the chunks.
func (c *Chunker) Estimate(document string) int {
	return len(c.Split(document))
}

// lastSentenceEnd finds the last ". ", "! " or "? " boundary in s.
func lastSentenceEnd(s string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if p := strings.LastIndex(s, sep); p > best {
			best = p + 1 // Cut after the punctuation
		}
	}
	return best
}
