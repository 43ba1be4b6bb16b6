package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxChunkSize = 1000
	DefaultChunkOverlap = 100
)

var sentenceBoundary = regexp.MustCompile(`[.!?;]\s+`)

// Chunker splits long text on sentence boundaries into pieces of at most
// MaxSize characters, each new piece starting with the tail of the previous.
// A single sentence longer than MaxSize becomes its own oversized chunk.
type Chunker struct {
	MaxSize int
	Overlap int
}

// NewChunker uses DefaultMaxChunkSize for a non-positive maxSize. An overlap
// outside [0, maxSize) disables overlapping.
func NewChunker(maxSize, overlap int) *Chunker {
	if maxSize < 1 {
		maxSize = DefaultMaxChunkSize
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}
	return &Chunker{MaxSize: maxSize, Overlap: overlap}
}

// NeedsChunking reports whether text exceeds MaxSize characters.
func (c *Chunker) NeedsChunking(text string) bool {
	return utf8.RuneCountInString(text) > c.MaxSize
}

func (c *Chunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !c.NeedsChunking(text) {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	size := 0

	for _, sentence := range splitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if size > 0 && size+n > c.MaxSize {
			prev := strings.TrimSpace(current.String())
			chunks = append(chunks, prev)
			current.Reset()
			size = 0
			if tail := overlapTail(prev, c.Overlap); tail != "" {
				current.WriteString(tail)
				size = utf8.RuneCountInString(tail)
			}
		}
		if size > 0 {
			current.WriteByte(' ')
			size++
		}
		current.WriteString(sentence)
		size += n
	}
	if size > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// overlapTail returns the last n characters of text, advanced past the first
// space so the overlap does not start mid-word.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	tail := string(runes[len(runes)-n:])
	if i := strings.IndexByte(tail, ' '); i > 0 && i < len(tail)-1 {
		return tail[i+1:]
	}
	return tail
}
