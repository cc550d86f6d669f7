package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/rag"
)

// overlapLen returns the length in runes of the longest suffix of prev that
// is also a prefix of next.
func overlapLen(prev, next string) int {
	p, n := []rune(prev), []rune(next)
	for k := min(len(p), len(n)); k > 0; k-- {
		if string(p[len(p)-k:]) == string(n[:k]) {
			return k
		}
	}
	return 0
}

// reassemble joins chunks, dropping the declared overlap of each chunk with
// its predecessor.
func reassemble(chunks []string, overlaps []int) string {
	var sb strings.Builder
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 {
			r = r[overlaps[i-1]:]
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

func newSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(size, overlap)
	require.NoError(t, err)
	return s
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.size, tc.overlap)
			require.ErrorIs(t, err, rag.ErrInvalidConfig)
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, DefaultSize, DefaultOverlap)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n\t  "))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, DefaultSize, DefaultOverlap)

	text := "Artificial intelligence is the study of agents."
	chunks := s.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_FixedCharacterFallbackOverlap(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, 1000, 200)

	text := strings.Repeat("a", 2500)
	chunks := s.Split(text)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.True(t, strings.HasPrefix(chunks[1], chunks[0][800:]), "chunk 2 must start with the last 200 characters of chunk 1")
	assert.Len(t, chunks[2], 900)
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, 60, 10)

	p1 := strings.Repeat("x", 40) + "\n\n"
	p2 := strings.Repeat("y", 40) + "\n\n"
	p3 := strings.Repeat("z", 40)
	chunks := s.Split(p1 + p2 + p3)

	require.Len(t, chunks, 3)
	assert.Equal(t, p1, chunks[0])
	assert.True(t, strings.HasSuffix(chunks[1], p2))
	assert.True(t, strings.HasSuffix(chunks[2], p3))
}

func TestSplit_RecursesIntoOversizedPiece(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, 50, 5)

	long := strings.Repeat("word ", 30) // one paragraph, 150 chars
	text := "intro\n\n" + long
	chunks := s.Split(text)

	require.Greater(t, len(chunks), 2)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50, "chunk %d too long", i)
	}
}

func TestSplit_CustomSeparatorsFixedWindows(t *testing.T) {
	t.Parallel()
	s, err := New(10, 0, WithSeparators("|"))
	require.NoError(t, err)

	chunks := s.Split(strings.Repeat("b", 25))
	assert.Equal(t, []string{"bbbbbbbbbb", "bbbbbbbbbb", "bbbbb"}, chunks)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, 10, 2)

	chunks := s.Split(strings.Repeat("é", 25))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
		assert.True(t, utf8.ValidString(c))
	}
}

// numberedText builds non-periodic prose of n distinct words with sentence,
// line, and paragraph breaks, so suffix/prefix matches between chunks are
// exactly the carried overlap.
func numberedText(n int) string {
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, "w%04d", i)
		switch {
		case i%29 == 28:
			sb.WriteString(".\n\n")
		case i%13 == 12:
			sb.WriteString("\n")
		case i%7 == 6:
			sb.WriteString(". ")
		default:
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// numberedLines builds n distinct lines.
func numberedLines(n int) string {
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, "line %d of the manual\n", i)
	}
	return sb.String()
}

// TestSplit_Properties checks size bounds, overlap bounds, and gap-free
// coverage over a range of inputs and configurations.
func TestSplit_Properties(t *testing.T) {
	t.Parallel()

	inputs := []string{
		numberedText(2000),
		numberedLines(300),
		numberedText(400) + "\n\n" + strings.Repeat("z", 3000),
		numberedText(50),
	}
	configs := [][2]int{{1000, 200}, {300, 50}, {120, 0}, {64, 63}}

	for _, text := range inputs {
		for _, cfg := range configs {
			s := newSplitter(t, cfg[0], cfg[1])
			chunks := s.Split(text)
			require.NotEmpty(t, chunks)

			overlaps := make([]int, 0, len(chunks))
			for i, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), cfg[0])
				if i == 0 {
					continue
				}
				// Inside the periodic z-run a longer accidental match exists, so
				// clamp to the most the splitter can carry.
				ov := min(overlapLen(chunks[i-1], c), cfg[1])
				overlaps = append(overlaps, ov)
			}
			assert.Equal(t, text, reassemble(chunks, overlaps), "size=%d overlap=%d", cfg[0], cfg[1])
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, 200, 40)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)

	assert.Equal(t, s.Split(text), s.Split(text))
}

func TestChunks_SequentialIndices(t *testing.T) {
	t.Parallel()
	s := newSplitter(t, 100, 20)
	md := rag.Metadata{"author": "jane"}

	chunks := s.Chunks(strings.Repeat("sentence here. ", 40), "doc-1", md)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc-1", c.SourceID)
		assert.Equal(t, "jane", c.Metadata["author"])
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
	}
}
