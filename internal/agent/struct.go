package agent

import "github.com/54b3r/docrag-go/internal/rag"

// Outcome distinguishes a generated answer from the normal "nothing to
// ground on" case. Neither is an error.
type Outcome string

const (
	// OutcomeAnswered means the generator produced an answer from at least
	// one retrieved source.
	OutcomeAnswered Outcome = "answered"
	// OutcomeNoResults means the store returned no records; Answer holds
	// NoResultsAnswer and Sources is empty.
	OutcomeNoResults Outcome = "no_results"
)

// Source is one ranked record returned alongside an answer.
type Source struct {
	// ID is the store-assigned record id.
	ID uint64 `json:"id"`
	// Content is the chunk text used as context.
	Content string `json:"content"`
	// Similarity is the cosine similarity to the query, in [-1, 1].
	Similarity float64 `json:"similarity"`
	// Source is the originating document identifier.
	Source string `json:"source"`
	// ChunkIndex is the position of the chunk within its document.
	ChunkIndex int `json:"chunkIndex"`
	// Metadata is the caller-supplied bag stored with the record.
	Metadata rag.Metadata `json:"metadata"`
}

// Response is the result of Assistant.Retrieve.
type Response struct {
	// Answer is the generated text, or NoResultsAnswer.
	Answer string `json:"answer"`
	// Query echoes the question.
	Query string `json:"query"`
	// Sources are the records the answer was grounded on, best first.
	Sources []Source `json:"sources"`
	// ProcessingTimeMs is the wall-clock time of the whole call.
	ProcessingTimeMs int64 `json:"processingTime"`
	// Outcome reports whether an answer was generated.
	Outcome Outcome `json:"outcome"`
}

// sourcesFrom converts ranked query results into response sources,
// preserving order. It never returns nil.
func sourcesFrom(results []rag.QueryResult) []Source {
	out := make([]Source, 0, len(results))
	for _, r := range results {
		out = append(out, Source{
			ID:         r.Record.ID,
			Content:    r.Record.Content,
			Similarity: r.Similarity,
			Source:     r.Record.SourceID,
			ChunkIndex: r.Record.ChunkIndex,
			Metadata:   r.Record.Metadata,
		})
	}
	return out
}
