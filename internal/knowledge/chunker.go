package knowledge

import "fmt"

// boundaryLookback is how far back from a hard cut the chunker searches
// for a sentence boundary before giving up and cutting mid-sentence.
const boundaryLookback = 200

// Chunker splits text into overlapping chunks of at most Size runes,
// preferring to end each chunk at a sentence boundary. Splitting is a
// pure function of (text, size, overlap): the same input always yields
// the same chunks.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the chunk parameters. Overlap must be strictly
// smaller than size or the splitter could fail to make progress.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text. Text at or under the chunk size comes back as a
// single chunk; empty text yields no chunks. Consecutive chunks share
// up to overlap runes, so every rune of the input appears in at least
// one chunk.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		if cut := c.sentenceCut(runes, start, end); cut > start {
			end = cut
		}
		chunks = append(chunks, string(runes[start:end]))

		next := end - c.overlap
		if next <= start {
			next = start + 1 // overlap would stall on a short boundary chunk
		}
		start = next
	}
	return chunks
}

// sentenceCut looks backward from end for a sentence-ending rune within
// the lookback window and returns the cut position just after it, or 0
// when none is found. The cut never shrinks a chunk below half the
// target size; a boundary that close to the start is not worth the
// fragmentation.
func (c *Chunker) sentenceCut(runes []rune, start, end int) int {
	floor := end - boundaryLookback
	if min := start + c.size/2; floor < min {
		floor = min
	}
	for i := end - 1; i >= floor; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}
