package rag

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. Every failure returned to a caller wraps
// exactly one of these so it can be classified with errors.Is or Kind.
var (
	// ErrInvalidConfig reports a misconfiguration caught at construction.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidArgument reports a malformed request argument (e.g. limit).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyInput reports that there is no usable text to ingest.
	ErrEmptyInput = errors.New("empty input")

	// ErrExtractionFailed reports that plain text could not be extracted.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrTransientProvider reports a retryable failure of an external
	// capability: rate limiting, timeouts, 5xx responses, broken connections.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrProviderUnavailable reports that retries were exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrEmbeddingContract reports a provider returning the wrong number of
	// vectors or a vector of the wrong dimension.
	ErrEmbeddingContract = errors.New("embedding contract violation")

	// ErrStorage reports an insert or query failure in the persistence layer.
	ErrStorage = errors.New("storage error")

	// ErrGenerationFailed reports that answer synthesis failed.
	ErrGenerationFailed = errors.New("generation failed")
)

// kinds is the ordered list of classifiable errors used by Kind.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrEmptyInput, "EmptyInput"},
	{ErrExtractionFailed, "ExtractionFailed"},
	{ErrProviderUnavailable, "ProviderUnavailable"},
	{ErrEmbeddingContract, "EmbeddingContractViolation"},
	{ErrTransientProvider, "TransientProviderError"},
	{ErrStorage, "StorageError"},
	{ErrGenerationFailed, "GenerationFailed"},
}

// Kind returns the taxonomy name of err, or "Internal" when err does not wrap
// any known kind. It returns "" for a nil error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsRetryable reports whether err is a transient provider failure that may
// succeed if the same call is repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientProvider) && !errors.Is(err, ErrProviderUnavailable)
}

// DimensionError reports a vector whose length differs from the dimension
// fixed for a store or an embedding provider.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
