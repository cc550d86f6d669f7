// Package agent is the answer layer on top of retrieval. An Assistant embeds
// the question, fetches the most similar records, renders them into a fixed
// grounding prompt, and asks a Generator for the answer. An empty store is a
// normal outcome with a fixed reply, not an error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/metrics"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Searcher returns the records most similar to a query. *rag.Retriever
// satisfies it.
type Searcher interface {
	Retrieve(ctx context.Context, query string, limit int) ([]rag.QueryResult, error)
}

// Config holds the dependencies required to construct an Assistant.
type Config struct {
	// Searcher finds the context records for a question.
	Searcher Searcher

	// Generator produces the final answer from the rendered prompt.
	Generator Generator

	// MaxContextTokens is the estimated prompt budget; prompts above it are
	// still sent but logged as a warning. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// Metrics records query outcomes; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Assistant answers questions from the ingested corpus.
type Assistant struct {
	searcher         Searcher
	generator        Generator
	maxContextTokens int
	metrics          *metrics.Metrics
}

// New constructs an Assistant from the provided Config.
func New(cfg *Config) (*Assistant, error) {
	if cfg == nil || cfg.Searcher == nil {
		return nil, fmt.Errorf("agent: %w: Searcher must not be nil", rag.ErrInvalidConfig)
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("agent: %w: Generator must not be nil", rag.ErrInvalidConfig)
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Assistant{
		searcher:         cfg.Searcher,
		generator:        cfg.Generator,
		maxContextTokens: maxCtx,
		metrics:          cfg.Metrics,
	}, nil
}

// Retrieve answers query from the limit most similar records (0 selects the
// retriever default). Generator failures are returned as
// rag.ErrGenerationFailed and are not retried.
func (a *Assistant) Retrieve(ctx context.Context, query string, limit int) (*Response, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	resp, err := a.retrieve(ctx, log, query, limit, start)
	if err != nil {
		a.metrics.QueryDone(rag.Kind(err), time.Since(start))
		log.ErrorContext(ctx, "agent: query failed",
			slog.String("kind", rag.Kind(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	a.metrics.QueryDone(string(resp.Outcome), time.Since(start))
	log.InfoContext(ctx, "agent: query processed",
		slog.String("outcome", string(resp.Outcome)),
		slog.Int("sources", len(resp.Sources)),
		slog.Int64("duration_ms", resp.ProcessingTimeMs),
	)
	return resp, nil
}

func (a *Assistant) retrieve(ctx context.Context, log *slog.Logger, query string, limit int, start time.Time) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("agent: %w: query must not be empty", rag.ErrInvalidArgument)
	}

	results, err := a.searcher.Retrieve(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	if len(results) == 0 {
		log.WarnContext(ctx, "agent: no similar chunks found for query")
		return &Response{
			Answer:           NoResultsAnswer,
			Query:            query,
			Sources:          []Source{},
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Outcome:          OutcomeNoResults,
		}, nil
	}

	prompt := buildPrompt(query, results)
	if tokens, ok := budget.Check(prompt, a.maxContextTokens); !ok {
		log.WarnContext(ctx, "budget: prompt exceeds context budget",
			slog.Int("estimated_tokens", tokens),
			slog.Int("max_tokens", a.maxContextTokens),
			slog.Int("sources", len(results)),
		)
	}

	answer, err := a.generator.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, rag.ErrGenerationFailed) {
			return nil, fmt.Errorf("agent: %w", err)
		}
		return nil, fmt.Errorf("agent: %w: %w", rag.ErrGenerationFailed, err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = EmptyAnswer
	}

	return &Response{
		Answer:           answer,
		Query:            query,
		Sources:          sourcesFrom(results),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Outcome:          OutcomeAnswered,
	}, nil
}
