package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/54b3r/docrag-go/internal/rag"
)

// statusError classifies a non-2xx provider response. Rate limiting, request
// timeouts, and server-side failures are transient; every other status is a
// permanent rejection.
func statusError(backend string, code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return fmt.Errorf("%s embedder: %w: HTTP %d: %s", backend, rag.ErrTransientProvider, code, msg)
	}
	return fmt.Errorf("%s embedder: HTTP %d: %s", backend, code, msg)
}

// transportError classifies a failed round trip. Anything short of the
// caller cancelling is worth another attempt.
func transportError(ctx context.Context, backend string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s embedder: request cancelled: %w", backend, err)
	}
	return fmt.Errorf("%s embedder: %w: request failed: %w", backend, rag.ErrTransientProvider, err)
}

// countError reports a response whose vector count does not match the input.
func countError(backend string, want, got int) error {
	return fmt.Errorf("%s embedder: %w: expected %d embeddings, got %d", backend, rag.ErrEmbeddingContract, want, got)
}
