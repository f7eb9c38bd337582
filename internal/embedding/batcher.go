package embedding

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/pkg/retry"
)

// Client is the slice of the OpenAI API the batcher needs.
type Client interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Cache stores embeddings keyed by input text. A nil Cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool)
	SetEmbedding(ctx context.Context, text string, embedding []float32)
}

type Options struct {
	Model       string
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
}

// Batcher turns texts into embedding vectors in fixed-size batches.
// Output always has one slot per input, in input order; slots from failed
// batches are nil so callers can count and skip them.
type Batcher struct {
	client      Client
	cache       Cache
	model       openai.EmbeddingModel
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

func NewBatcher(client Client, cache Cache, logger *zap.Logger, opts Options) *Batcher {
	if opts.Model == "" {
		opts.Model = string(openai.SmallEmbedding3)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		client:      client,
		cache:       cache,
		model:       openai.EmbeddingModel(opts.Model),
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		logger:      logger,
	}
}

// EmbedBatch embeds texts and returns exactly len(texts) results. Rate-limit
// responses back the whole batch off and retry it; any other API failure
// leaves the batch's slots nil and moves on to the next batch.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		b.embedOne(ctx, texts, out, start, end)
	}
	return out
}

func (b *Batcher) embedOne(ctx context.Context, texts []string, out [][]float32, start, end int) {
	pending := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		if b.cache != nil {
			if emb, ok := b.cache.GetEmbedding(ctx, texts[i]); ok {
				out[i] = emb
				metrics.CacheHits.WithLabelValues("embedding").Inc()
				continue
			}
			metrics.CacheMisses.WithLabelValues("embedding").Inc()
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return
	}

	inputs := make([]string, len(pending))
	for j, i := range pending {
		inputs[j] = texts[i]
	}

	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: inputs,
			Model: b.model,
		})
		if err == nil {
			if len(resp.Data) != len(inputs) {
				b.logger.Error("Embedding response size mismatch",
					zap.Int("sent", len(inputs)),
					zap.Int("received", len(resp.Data)),
				)
				return
			}
			for j, i := range pending {
				out[i] = resp.Data[j].Embedding
				if b.cache != nil {
					b.cache.SetEmbedding(ctx, texts[i], out[i])
				}
			}
			metrics.EmbeddingBatchesTotal.WithLabelValues("ok").Inc()
			return
		}

		if !isRateLimit(err) {
			b.logger.Error("Embedding batch failed",
				zap.Error(err),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(inputs)),
			)
			metrics.EmbeddingBatchesTotal.WithLabelValues("error").Inc()
			return
		}

		delay := b.baseDelay << attempt
		b.logger.Warn("Embedding rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", b.maxAttempts),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	b.logger.Error("Embedding batch exhausted retries",
		zap.Int("batch_start", start),
		zap.Int("batch_size", len(inputs)),
	)
	metrics.EmbeddingBatchesTotal.WithLabelValues("rate_limited").Inc()
}

// Embed is the single-text path used by queries.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	if b.cache != nil {
		if emb, ok := b.cache.GetEmbedding(ctx, text); ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return emb, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	cfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: b.baseDelay,
		RetryIf:      isRateLimit,
		Logger:       b.logger,
	}
	emb, err := retry.DoWithResult(ctx, cfg, func() ([]float32, error) {
		resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: b.model,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != 1 {
			return nil, errors.New("embedding response is empty")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		b.cache.SetEmbedding(ctx, text, emb)
	}
	return emb, nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
