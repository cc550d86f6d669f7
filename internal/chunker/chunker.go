// Package chunker splits documents into overlapping chunks for embedding.
//
// Splitting is recursive: text longer than the chunk size is cut at the
// highest-priority separator it contains (paragraph, line, sentence, word,
// then single characters), and each piece that is still too long is cut again
// with the remaining separators. The resulting pieces are merged greedily
// into chunks of at most Size characters, and every chunk after the first
// starts with the trailing Overlap characters of its predecessor.
//
// Lengths are counted in characters (runes), not bytes. The splitter is
// deterministic and has no side effects.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docrag-go/internal/rag"
)

const (
	// DefaultSize is the default maximum number of characters per chunk.
	DefaultSize = 1000
	// DefaultOverlap is the default number of characters shared by
	// consecutive chunks.
	DefaultOverlap = 200
)

// DefaultSeparators is the separator priority list: paragraph break, line
// break, sentence boundary, space, then character-level fallback.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into overlapping chunks. It is immutable after
// construction and safe for concurrent use.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// Option customises a Splitter.
type Option func(*Splitter)

// WithSeparators replaces the separator priority list. An empty string in the
// list means character-level splitting; when the list is exhausted without
// one, oversized pieces are cut at fixed Size boundaries.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		s.separators = append([]string(nil), seps...)
	}
}

// New constructs a Splitter. overlap must be non-negative and smaller than
// size; anything else is rejected with rag.ErrInvalidConfig.
func New(size, overlap int, opts ...Option) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: %w: size must be positive, got %d", rag.ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunker: %w: overlap must not be negative, got %d", rag.ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunker: %w: overlap %d must be smaller than size %d", rag.ErrInvalidConfig, overlap, size)
	}
	s := &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Size returns the maximum chunk length in characters.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in characters.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered chunks of text. Empty input yields no chunks;
// whitespace-only chunks are dropped.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	pieces := s.pieces(text, s.separators, nil)
	return s.merge(pieces)
}

// Chunks splits text and wraps each chunk with its index, source, and the
// shared metadata. Indices are sequential from 0.
func (s *Splitter) Chunks(text, sourceID string, md rag.Metadata) []rag.Chunk {
	parts := s.Split(text)
	chunks := make([]rag.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = rag.Chunk{Index: i, Text: p, SourceID: sourceID, Metadata: md}
	}
	return chunks
}

// pieces appends to out the pieces of text, each at most s.size characters,
// whose concatenation is text.
func (s *Splitter) pieces(text string, seps []string, out []string) []string {
	if utf8.RuneCountInString(text) <= s.size {
		return append(out, text)
	}

	sep, rest, ok := pickSeparator(text, seps)
	if !ok {
		return append(out, fixedWindows(text, s.size)...)
	}
	if sep == "" {
		// Character level: every rune is its own piece.
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	for _, part := range splitKeep(text, sep) {
		if utf8.RuneCountInString(part) > s.size {
			out = s.pieces(part, rest, out)
			continue
		}
		out = append(out, part)
	}
	return out
}

// merge greedily packs pieces into chunks and carries the overlap forward.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks []string
		buf    []rune
		fresh  bool // buf holds text not yet emitted
	)

	emit := func() {
		if strings.TrimSpace(string(buf)) != "" {
			chunks = append(chunks, string(buf))
		}
	}

	for _, p := range pieces {
		pr := []rune(p)
		if fresh && len(buf)+len(pr) > s.size {
			emit()
			tail := buf[len(buf)-min(s.overlap, len(buf)):]
			// Only the room left beside the next piece can be carried over.
			if room := s.size - len(pr); len(tail) > room {
				tail = tail[len(tail)-room:]
			}
			buf = append([]rune(nil), tail...)
			fresh = false
		}
		buf = append(buf, pr...)
		fresh = true
	}
	if fresh {
		emit()
	}
	return chunks
}

// pickSeparator returns the first separator of seps present in text, with
// the separators that follow it. The empty separator always matches.
func pickSeparator(text string, seps []string) (string, []string, bool) {
	for i, sep := range seps {
		if sep == "" || strings.Contains(text, sep) {
			return sep, seps[i+1:], true
		}
	}
	return "", nil, false
}

// splitKeep splits text after every occurrence of sep, keeping the separator
// at the end of the preceding piece.
func splitKeep(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// fixedWindows cuts text into consecutive windows of size characters.
func fixedWindows(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
