package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/llm"
	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/storage/models"
)

// Fixed user-facing answers. These exact strings are part of the product
// surface and must not be reworded.
const (
	AnswerNoResults    = "No encontré información relevante para responder a tu pregunta."
	AnswerFailure      = "Lo siento, ocurrió un error al procesar tu consulta."
	AnswerEmbedFailure = "Lo siento, no pude procesar tu consulta en este momento."
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.1
)

const systemPrompt = `Eres un asistente que responde preguntas usando únicamente la información del contexto proporcionado.

Reglas:
1. Responde solo con información presente en el contexto.
2. Si el contexto no contiene la respuesta, dilo claramente.
3. Cita los documentos relevantes por su nombre cuando sea útil.
4. Responde en el idioma de la pregunta.`

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the gateway surface the engine reads and logs through.
type Store interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, threshold float64) []models.SearchHit
	LogQuery(ctx context.Context, query, response string, sources []models.Source) string
}

// ChatModel generates the final answer.
type ChatModel interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// AnswerCache is optional; a nil cache disables response caching.
type AnswerCache interface {
	GetAnswer(ctx context.Context, question string, answer interface{}) bool
	SetAnswer(ctx context.Context, question string, answer interface{})
}

// Answer is the result of one question.
type Answer struct {
	QueryID   string          `json:"query_id,omitempty"`
	Question  string          `json:"question"`
	Response  string          `json:"response"`
	Sources   []models.Source `json:"sources"`
	FromCache bool            `json:"from_cache,omitempty"`
}

type Engine struct {
	embedder  Embedder
	store     Store
	chat      ChatModel
	cache     AnswerCache
	tracker   *metrics.Tracker
	topK      int
	threshold float64
	logger    *zap.Logger
}

func NewEngine(embedder Embedder, store Store, chat ChatModel, cache AnswerCache, tracker *metrics.Tracker, topK int, threshold float64, logger *zap.Logger) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if tracker == nil {
		tracker = metrics.NewTracker(100)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		embedder:  embedder,
		store:     store,
		chat:      chat,
		cache:     cache,
		tracker:   tracker,
		topK:      topK,
		threshold: threshold,
		logger:    logger,
	}
}

// Tracker exposes the engine's timing windows for the stats surfaces.
func (e *Engine) Tracker() *metrics.Tracker {
	return e.tracker
}

// Ask answers one question. It never returns an error: every failure mode
// maps to a fixed answer so callers always have something to show.
func (e *Engine) Ask(ctx context.Context, question string) *Answer {
	start := time.Now()
	defer func() {
		e.tracker.Record(metrics.OpTotalQuery, time.Since(start))
		metrics.QueryDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}()

	question = strings.TrimSpace(question)

	if e.cache != nil {
		var cached Answer
		if e.cache.GetAnswer(ctx, question, &cached) {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			metrics.QueryTotal.WithLabelValues("cached").Inc()
			cached.FromCache = true
			return &cached
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	embedStart := time.Now()
	queryEmbedding, err := e.embedder.Embed(ctx, question)
	e.tracker.Record(metrics.OpEmbedding, time.Since(embedStart))
	if err != nil {
		metrics.QueryTotal.WithLabelValues("embed_failed").Inc()
		return &Answer{Question: question, Response: AnswerEmbedFailure}
	}

	searchStart := time.Now()
	hits := e.store.SimilaritySearch(ctx, queryEmbedding, e.topK, e.threshold)
	e.tracker.Record(metrics.OpSearch, time.Since(searchStart))

	if len(hits) == 0 {
		e.logger.Info("Query returned no results above threshold",
			zap.String("question", question),
			zap.Float64("threshold", e.threshold),
		)
		metrics.QueryTotal.WithLabelValues("no_results").Inc()
		id := e.store.LogQuery(ctx, question, AnswerNoResults, nil)
		return &Answer{QueryID: id, Question: question, Response: AnswerNoResults}
	}

	context_, sources := buildContext(hits)

	llmStart := time.Now()
	resp, err := e.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Contexto:\n%s\nPregunta: %s", context_, question),
	})
	e.tracker.Record(metrics.OpLLMResponse, time.Since(llmStart))
	if err != nil {
		e.logger.Error("LLM completion failed", zap.Error(err))
		metrics.QueryTotal.WithLabelValues("llm_failed").Inc()
		id := e.store.LogQuery(ctx, question, AnswerFailure, sources)
		return &Answer{QueryID: id, Question: question, Response: AnswerFailure, Sources: sources}
	}

	id := e.store.LogQuery(ctx, question, resp.Content, sources)
	metrics.QueryTotal.WithLabelValues("ok").Inc()

	answer := &Answer{
		QueryID:  id,
		Question: question,
		Response: resp.Content,
		Sources:  sources,
	}

	if e.cache != nil {
		e.cache.SetAnswer(ctx, question, answer)
	}
	return answer
}

// buildContext renders the retrieved chunks into the prompt context and the
// ranked source list, in score order as returned by the search.
func buildContext(hits []models.SearchHit) (string, []models.Source) {
	var b strings.Builder
	sources := make([]models.Source, 0, len(hits))

	for i, hit := range hits {
		meta := hit.Chunk.Metadata
		b.WriteString(fmt.Sprintf("[Documento %d: %s | Fragmento %d de %d | Relevancia: %.2f]\n%s\n",
			i+1, meta.Name, meta.ChunkIndex+1, meta.TotalChunks, hit.Score, hit.Chunk.Content))

		sources = append(sources, models.Source{
			FileName:    meta.Name,
			FileID:      meta.FileID,
			ChunkID:     hit.Chunk.ID,
			ChunkIndex:  meta.ChunkIndex,
			TotalChunks: meta.TotalChunks,
			Similarity:  hit.Score,
			Rank:        i + 1,
		})
	}
	return b.String(), sources
}
