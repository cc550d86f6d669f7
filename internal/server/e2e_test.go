package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
)

// topicEmbedder maps text onto two axes: "go" and everything else.
type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "go") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

// echoGenerator answers with the prompt length so tests can tell it ran.
type echoGenerator struct{ prompts []string }

func (g *echoGenerator) Complete(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return "grounded answer", nil
}

// TestEndToEnd_IngestThenQuery drives the real pipeline and assistant over
// an in-memory store through the HTTP handler.
func TestEndToEnd_IngestThenQuery(t *testing.T) {
	t.Parallel()

	store, err := rag.NewMemoryStore(&rag.MemoryConfig{Dimension: 2})
	if err != nil {
		t.Fatal(err)
	}
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe, err := ingestion.NewPipeline(topicEmbedder{}, store, &ingestion.Config{Logger: discard})
	if err != nil {
		t.Fatal(err)
	}
	retriever, err := rag.NewRetriever(topicEmbedder{}, store, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	gen := &echoGenerator{}
	assistant, err := agent.New(&agent.Config{Searcher: retriever, Generator: gen})
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	s, err := New(pipe, assistant, &Config{Logger: discard, MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.stopRL)
	h := s.Handler()

	// Empty store: fixed reply, no generation.
	w := doJSON(t, h, http.MethodPost, "/api/query", map[string]any{"query": "what is go?"})
	var first agent.Response
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Outcome != agent.OutcomeNoResults || first.Answer != agent.NoResultsAnswer {
		t.Fatalf("empty store response = %+v", first)
	}
	if len(gen.prompts) != 0 {
		t.Fatal("generator called on an empty store")
	}

	w = doJSON(t, h, http.MethodPost, "/api/ingest", map[string]any{"text": "Go has goroutines.", "source": "go"})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, http.MethodPost, "/api/ingest", map[string]any{"text": "Paris is in France.", "source": "geo"})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d", w.Code)
	}
	if w = doJSON(t, h, http.MethodPost, "/api/ingest", map[string]any{"text": "  "}); w.Code != http.StatusBadRequest {
		t.Fatalf("blank ingest: expected 400, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/query", map[string]any{"query": "tell me about go", "limit": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("query: expected 200, got %d", w.Code)
	}
	var resp agent.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != agent.OutcomeAnswered || resp.Answer != "grounded answer" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Source != "go" || resp.Sources[0].Similarity != 1 {
		t.Errorf("sources = %+v, want the go record only", resp.Sources)
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "Go has goroutines.") {
		t.Errorf("prompt did not carry retrieved context: %q", gen.prompts)
	}
}
