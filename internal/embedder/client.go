package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/docrag-go/internal/metrics"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Client defaults, applied when the corresponding ClientConfig field is zero.
const (
	DefaultMaxBatchSize   = 64
	DefaultMaxConcurrency = 4
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultCallTimeout    = 30 * time.Second
)

// ClientConfig holds the settings for a Client.
type ClientConfig struct {
	// MaxBatchSize is the largest number of texts sent in one provider call.
	MaxBatchSize int

	// MaxConcurrency bounds the number of provider calls in flight.
	MaxConcurrency int

	// MaxRetries is the number of retries after the first attempt of a batch.
	// Negative disables retrying; zero selects DefaultMaxRetries.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// CallTimeout bounds each individual provider attempt.
	CallTimeout time.Duration

	// Dimensions pins the expected vector length. When zero the first
	// response fixes it for the lifetime of the client.
	Dimensions int

	// RequestsPerSecond paces provider calls. Zero disables pacing.
	RequestsPerSecond float64

	// Logger receives retry and failure diagnostics. Defaults to slog.Default.
	Logger *slog.Logger

	// Metrics records batch outcomes; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Client is the embedding client used by ingestion and retrieval. It splits
// inputs into bounded batches, runs them with bounded concurrency, retries
// transient provider failures with exponential backoff and jitter, and
// enforces a single vector dimension across every response.
//
// Client satisfies rag.Embedder and is safe for concurrent use.
type Client struct {
	provider rag.Embedder
	cfg      ClientConfig
	limiter  *rate.Limiter
	log      *slog.Logger

	// dim is the pinned vector length, 0 until known.
	dim atomic.Int64
}

// NewClient wraps a provider adapter with batching, retry, and validation.
func NewClient(provider rag.Embedder, cfg ClientConfig) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedder: %w: provider must not be nil", rag.ErrInvalidConfig)
	}
	if cfg.MaxBatchSize < 0 || cfg.MaxConcurrency < 0 || cfg.Dimensions < 0 || cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("embedder: %w: batch size, concurrency, dimensions, and rate must not be negative", rag.ErrInvalidConfig)
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{provider: provider, cfg: cfg, log: cfg.Logger}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	c.dim.Store(int64(cfg.Dimensions))
	return c, nil
}

// Dimension returns the pinned vector length, or 0 if no response has been
// seen yet and none was configured.
func (c *Client) Dimension() int { return int(c.dim.Load()) }

// Embed implements rag.Embedder.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.EmbedBatch(ctx, texts)
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order. The call
// succeeds or fails as a whole: if any batch fails after its retries, the
// remaining batches are cancelled and no vectors are returned.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	defer func() { c.cfg.Metrics.EmbedObserve(time.Since(start)) }()

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for lo := 0; lo < len(texts); lo += c.cfg.MaxBatchSize {
		hi := min(lo+c.cfg.MaxBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.runBatch(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", lo, hi, err)
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return out, nil
}

// runBatch sends one batch with retries and classifies the final outcome.
func (c *Client) runBatch(ctx context.Context, batch []string) ([][]float32, error) {
	done := c.cfg.Metrics.EmbedStarted()
	defer done()

	var (
		vecs     [][]float32
		attempts int
	)
	op := func() error {
		attempts++
		v, err := c.attempt(ctx, batch)
		if err == nil {
			vecs = v
			return nil
		}
		if ctx.Err() != nil || !rag.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.cfg.Metrics.EmbedRetry()
		c.log.WarnContext(ctx, "embedder: transient provider failure, retrying",
			slog.Int("attempt", attempts),
			slog.Int("batch_size", len(batch)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	err := backoff.RetryNotify(op, policy, notify)

	switch {
	case err == nil:
		c.cfg.Metrics.EmbedBatchDone("ok")
		return vecs, nil
	case ctx.Err() != nil:
		c.cfg.Metrics.EmbedBatchDone("cancelled")
		return nil, fmt.Errorf("cancelled after %d attempts: %w", attempts, errors.Join(ctx.Err(), err))
	case errors.Is(err, rag.ErrEmbeddingContract):
		c.cfg.Metrics.EmbedBatchDone("contract")
		return nil, err
	case rag.IsRetryable(err):
		c.cfg.Metrics.EmbedBatchDone("exhausted")
		c.log.ErrorContext(ctx, "embedder: retries exhausted",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w after %d attempts: %w", rag.ErrProviderUnavailable, attempts, err)
	default:
		c.cfg.Metrics.EmbedBatchDone("error")
		return nil, fmt.Errorf("%w: provider rejected request: %w", rag.ErrProviderUnavailable, err)
	}
}

// attempt performs one paced, time-bounded provider call and validates the
// response shape.
func (c *Client) attempt(ctx context.Context, batch []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	vecs, err := c.provider.Embed(actx, batch)
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, rag.ErrTransientProvider) {
			return nil, fmt.Errorf("%w: attempt timed out after %s: %w", rag.ErrTransientProvider, c.cfg.CallTimeout, err)
		}
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", rag.ErrEmbeddingContract, len(batch), len(vecs))
	}
	for i, v := range vecs {
		if err := c.checkDimension(len(v)); err != nil {
			return nil, fmt.Errorf("%w: embedding %d: %w", rag.ErrEmbeddingContract, i, err)
		}
	}
	return vecs, nil
}

// checkDimension pins the dimension on first sight and rejects any other
// length afterwards.
func (c *Client) checkDimension(n int) error {
	if n == 0 {
		return &rag.DimensionError{Expected: c.Dimension(), Actual: 0}
	}
	if c.dim.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := c.Dimension(); want != n {
		return &rag.DimensionError{Expected: want, Actual: n}
	}
	return nil
}

// newBackOff returns a fresh exponential policy with jitter.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	// The retry count bounds the loop, not elapsed time.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
