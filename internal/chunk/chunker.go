// Package chunk splits normalized documents into overlapping passages sized
// for embedding and context-window budgets.
//
// Chunking is deterministic: the same document text and parameters always
// produce the same ordered chunk set with the same IDs, which makes
// re-indexing idempotent — the indexer can diff chunk IDs and re-embed only
// what changed.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/abitbot/abitbot/internal/document"
)

// Chunk is a bounded-size passage of source text, the unit of embedding
// and retrieval.
type Chunk struct {
	ID         string
	SourceID   string
	Text       string
	Position   int
	TokenCount int
}

// Hash returns the content hash used by the indexer to detect changed text.
func (c Chunk) Hash() string {
	sum := sha256.Sum256([]byte(c.Text))
	return hex.EncodeToString(sum[:16])
}

// Split chunks a document at paragraph and sentence boundaries.
//
// Each chunk holds at most maxTokens estimated tokens; consecutive chunks
// share overlapTokens tokens of trailing context. A single sentence longer
// than maxTokens is hard-split on token-estimation units so no chunk ever
// exceeds the budget.
//
// Returns document.ErrInvalidDocument if the document text is empty.
func Split(doc document.Document, maxTokens, overlapTokens int) ([]Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("%w: %s", document.ErrInvalidDocument, doc.SourceID)
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunk: maxTokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("chunk: overlapTokens %d must be in [0, maxTokens)", overlapTokens)
	}

	units := splitUnits(doc.Text, maxTokens)

	var chunks []Chunk
	var current []string
	currentTokens := 0
	newUnits := 0
	position := 0

	// A chunk is emitted only when it contains at least one unit beyond the
	// carried overlap; otherwise it would be a pure repeat of the previous
	// chunk's tail.
	flush := func() {
		if newUnits == 0 {
			return
		}
		text := strings.Join(current, " ")
		chunks = append(chunks, newChunk(doc.SourceID, position, text))
		position++

		// Carry trailing units into the next chunk as overlap.
		kept := 0
		var overlap []string
		for i := len(current) - 1; i >= 0 && overlapTokens > 0; i-- {
			t := EstimateTokens(current[i])
			if kept+t > overlapTokens {
				break
			}
			kept += t
			overlap = append([]string{current[i]}, overlap...)
		}
		current = overlap
		currentTokens = kept
		newUnits = 0
	}

	for _, unit := range units {
		t := EstimateTokens(unit)
		if currentTokens+t > maxTokens && len(current) > 0 {
			flush()
			// If the carried overlap cannot host this unit either, drop it
			// so the budget holds.
			if currentTokens+t > maxTokens {
				current = current[:0]
				currentTokens = 0
			}
		}
		current = append(current, unit)
		currentTokens += t
		newUnits++
	}
	flush()

	return chunks, nil
}

func newChunk(sourceID string, position int, text string) Chunk {
	return Chunk{
		ID:         chunkID(sourceID, position, text),
		SourceID:   sourceID,
		Text:       text,
		Position:   position,
		TokenCount: EstimateTokens(text),
	}
}

// chunkID derives a stable chunk identifier. Identical (source, position,
// text) always maps to the same ID.
func chunkID(sourceID string, position int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", sourceID, position, text)))
	return "chunk_" + hex.EncodeToString(sum[:16])
}

// splitUnits breaks text into sentence-or-smaller units, none of which
// exceeds maxTokens on its own.
func splitUnits(text string, maxTokens int) []string {
	var units []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		for _, sentence := range splitSentences(paragraph) {
			if EstimateTokens(sentence) <= maxTokens {
				units = append(units, sentence)
				continue
			}
			// Oversized sentence: hard-split on word boundaries.
			words := strings.Fields(sentence)
			var piece []string
			pieceTokens := 0
			for _, w := range words {
				t := EstimateTokens(w)
				if pieceTokens+t > maxTokens && len(piece) > 0 {
					units = append(units, strings.Join(piece, " "))
					piece = piece[:0]
					pieceTokens = 0
				}
				piece = append(piece, w)
				pieceTokens += t
			}
			if len(piece) > 0 {
				units = append(units, strings.Join(piece, " "))
			}
		}
	}
	return units
}

// splitSentences splits on sentence-ending punctuation followed by space.
// Deliberately simple; boundary precision matters less than determinism.
func splitSentences(paragraph string) []string {
	paragraph = strings.TrimSpace(paragraph)
	if paragraph == "" {
		return nil
	}

	var sentences []string
	var sb strings.Builder
	runes := []rune(paragraph)
	for i, r := range runes {
		sb.WriteRune(r)
		if isSentenceEnd(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			s := strings.TrimSpace(sb.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// EstimateTokens approximates the token count of text: one token per word
// plus one per non-ASCII rune. Close enough for budget enforcement without
// shipping a tokenizer.
func EstimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
