//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// TestOllamaClient_Integration embeds through a real, locally running Ollama
// instance using the retrying Client.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaClient_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaClient_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	c, err := NewClient(NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), ClientConfig{MaxBatchSize: 2})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	texts := []string{
		"Artificial intelligence is the study of intelligent agents.",
		"Machine learning is a subset of artificial intelligence.",
		"The capital of France is Paris.",
	}

	embeddings, err := c.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	if len(embeddings) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}

	related := rag.CosineSimilarity(embeddings[0], embeddings[1])
	unrelated := rag.CosineSimilarity(embeddings[0], embeddings[2])
	if related <= unrelated {
		t.Errorf("expected related texts to score higher: related=%.3f unrelated=%.3f", related, unrelated)
	}

	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d to pin it)", model, c.Dimension(), c.Dimension())
}
