package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverag/backend/internal/llm"
	"github.com/driverag/backend/internal/storage/models"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeQueryStore struct {
	hits    []models.SearchHit
	logged  []models.QueryLogEntry
	logFail bool
}

func (f *fakeQueryStore) SimilaritySearch(_ context.Context, _ []float32, topK int, threshold float64) []models.SearchHit {
	var out []models.SearchHit
	for _, h := range f.hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (f *fakeQueryStore) LogQuery(_ context.Context, query, response string, sources []models.Source) string {
	if f.logFail {
		return ""
	}
	id := "q-" + string(rune('1'+len(f.logged)))
	f.logged = append(f.logged, models.QueryLogEntry{ID: id, Query: query, Response: response, Sources: sources})
	return id
}

type fakeChat struct {
	reply string
	err   error
	last  llm.CompletionRequest
}

func (f *fakeChat) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply}, nil
}

func hit(name, fileID, chunkID string, index, total int, score float64) models.SearchHit {
	return models.SearchHit{
		Chunk: models.Chunk{
			ID:      chunkID,
			Content: "contenido del fragmento",
			Metadata: models.ChunkMetadata{
				FileID:      fileID,
				Name:        name,
				ChunkIndex:  index,
				TotalChunks: total,
			},
		},
		Score: score,
	}
}

func TestAskHappyPath(t *testing.T) {
	store := &fakeQueryStore{hits: []models.SearchHit{
		hit("informe.pdf", "f1", "c1", 0, 3, 0.9),
		hit("actas.docx", "f2", "c7", 2, 5, 0.4),
	}}
	chat := &fakeChat{reply: "La respuesta basada en el informe."}
	e := NewEngine(&fakeEmbedder{}, store, chat, nil, nil, 5, 0.1, nil)

	ans := e.Ask(context.Background(), "¿Qué dice el informe?")

	assert.Equal(t, "La respuesta basada en el informe.", ans.Response)
	assert.NotEmpty(t, ans.QueryID)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, 1, ans.Sources[0].Rank)
	assert.Equal(t, "informe.pdf", ans.Sources[0].FileName)
	assert.Equal(t, 0.9, ans.Sources[0].Similarity)

	// Context carries the banner with 1-based fragment numbers.
	assert.Contains(t, chat.last.UserPrompt, "[Documento 1: informe.pdf | Fragmento 1 de 3 | Relevancia: 0.90]")
	assert.Contains(t, chat.last.UserPrompt, "[Documento 2: actas.docx | Fragmento 3 de 5 | Relevancia: 0.40]")

	// The answer was logged with its sources.
	require.Len(t, store.logged, 1)
	assert.Equal(t, ans.Response, store.logged[0].Response)
	assert.Len(t, store.logged[0].Sources, 2)
}

func TestAskNoResultsLogsExactlyOnce(t *testing.T) {
	store := &fakeQueryStore{}
	e := NewEngine(&fakeEmbedder{}, store, &fakeChat{}, nil, nil, 5, 0.1, nil)

	ans := e.Ask(context.Background(), "¿Algo?")

	assert.Equal(t, AnswerNoResults, ans.Response)
	assert.Empty(t, ans.Sources)
	require.Len(t, store.logged, 1)
	assert.Equal(t, AnswerNoResults, store.logged[0].Response)
	assert.Empty(t, store.logged[0].Sources)
}

func TestAskThresholdFiltersLowScores(t *testing.T) {
	store := &fakeQueryStore{hits: []models.SearchHit{
		hit("a.txt", "f1", "c1", 0, 1, 0.05),
	}}
	e := NewEngine(&fakeEmbedder{}, store, &fakeChat{reply: "x"}, nil, nil, 5, 0.1, nil)

	ans := e.Ask(context.Background(), "¿Algo?")
	assert.Equal(t, AnswerNoResults, ans.Response)
}

func TestAskEmbedFailureFixedAnswerNoLog(t *testing.T) {
	store := &fakeQueryStore{}
	e := NewEngine(&fakeEmbedder{err: errors.New("down")}, store, &fakeChat{}, nil, nil, 5, 0.1, nil)

	ans := e.Ask(context.Background(), "¿Algo?")

	assert.Equal(t, AnswerEmbedFailure, ans.Response)
	assert.Empty(t, store.logged)
}

func TestAskLLMFailureFixedAnswer(t *testing.T) {
	store := &fakeQueryStore{hits: []models.SearchHit{hit("a.txt", "f1", "c1", 0, 1, 0.8)}}
	e := NewEngine(&fakeEmbedder{}, store, &fakeChat{err: errors.New("llm down")}, nil, nil, 5, 0.1, nil)

	ans := e.Ask(context.Background(), "¿Algo?")

	assert.Equal(t, AnswerFailure, ans.Response)
	require.Len(t, store.logged, 1)
	assert.Equal(t, AnswerFailure, store.logged[0].Response)
}

func TestAskLogFailureStillAnswers(t *testing.T) {
	store := &fakeQueryStore{
		hits:    []models.SearchHit{hit("a.txt", "f1", "c1", 0, 1, 0.8)},
		logFail: true,
	}
	e := NewEngine(&fakeEmbedder{}, store, &fakeChat{reply: "respuesta"}, nil, nil, 5, 0.1, nil)

	ans := e.Ask(context.Background(), "¿Algo?")

	assert.Equal(t, "respuesta", ans.Response)
	assert.Empty(t, ans.QueryID)
}

type memAnswerCache struct {
	store map[string]*Answer
}

func (m *memAnswerCache) GetAnswer(_ context.Context, question string, answer interface{}) bool {
	cached, ok := m.store[question]
	if !ok {
		return false
	}
	*(answer.(*Answer)) = *cached
	return true
}

func (m *memAnswerCache) SetAnswer(_ context.Context, question string, answer interface{}) {
	m.store[question] = answer.(*Answer)
}

func TestAskCachedAnswerSkipsPipeline(t *testing.T) {
	cache := &memAnswerCache{store: map[string]*Answer{}}
	store := &fakeQueryStore{hits: []models.SearchHit{hit("a.txt", "f1", "c1", 0, 1, 0.8)}}
	e := NewEngine(&fakeEmbedder{}, store, &fakeChat{reply: "respuesta"}, cache, nil, 5, 0.1, nil)

	first := e.Ask(context.Background(), "¿Algo?")
	assert.False(t, first.FromCache)

	second := e.Ask(context.Background(), "¿Algo?")
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Response, second.Response)
	// The pipeline ran once: one logged entry.
	assert.Len(t, store.logged, 1)
}

func TestBuildContextBannerFormat(t *testing.T) {
	ctxText, sources := buildContext([]models.SearchHit{hit("doc.pdf", "f1", "c1", 1, 4, 0.7531)})

	assert.True(t, strings.HasPrefix(ctxText, "[Documento 1: doc.pdf | Fragmento 2 de 4 | Relevancia: 0.75]\n"))
	require.Len(t, sources, 1)
	assert.Equal(t, "c1", sources[0].ChunkID)
}
