package milvus

import (
	"context"
	"fmt"
	"sort"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/pkg/logger"
)

// Client wraps the chunk collection. Scores use the cosine metric, so search
// results come back as similarities in [0, 1] and threshold filtering works
// directly on them.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

const scanPageSize = int64(1000)

var chunkOutputFields = []string{"chunk_id", "content", "file_id", "name", "mime_type", "chunk_index", "total_chunks", "page"}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	cfg := client.Config{Address: endpoint}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	c, err := client.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16384",
				},
			},
			{
				Name:     "file_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "name",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "mime_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "total_chunks",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "page",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Upsert writes chunks keyed by chunk_id. Existing rows with the same id are
// replaced, which is what makes reprocessing idempotent.
func (m *Client) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	contents := make([]string, len(chunks))
	fileIDs := make([]string, len(chunks))
	names := make([]string, len(chunks))
	mimeTypes := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	totals := make([]int64, len(chunks))
	pages := make([]int64, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		contents[i] = chunk.Content
		fileIDs[i] = chunk.Metadata.FileID
		names[i] = chunk.Metadata.Name
		mimeTypes[i] = chunk.Metadata.MimeType
		chunkIndexes[i] = int64(chunk.Metadata.ChunkIndex)
		totals[i] = int64(chunk.Metadata.TotalChunks)
		pages[i] = int64(chunk.Metadata.Page)
	}

	_, err := m.client.Upsert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("file_id", fileIDs),
		entity.NewColumnVarChar("name", names),
		entity.NewColumnVarChar("mime_type", mimeTypes),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnInt64("total_chunks", totals),
		entity.NewColumnInt64("page", pages),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", len(chunks)))

	return nil
}

func (m *Client) DeleteByFile(ctx context.Context, fileID string) error {
	expr := fmt.Sprintf(`file_id == "%s"`, fileID)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete chunks for file %s: %w", fileID, err)
	}
	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (m *Client) DeleteByIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	expr := "chunk_id in ["
	for i, id := range chunkIDs {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf(`"%s"`, id)
	}
	expr += "]"

	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete chunks by id: %w", err)
	}
	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// QueryByFile returns every stored chunk of a file, ordered by chunk_index.
func (m *Client) QueryByFile(ctx context.Context, fileID string) ([]models.Chunk, error) {
	expr := fmt.Sprintf(`file_id == "%s"`, fileID)
	rs, err := m.client.Query(ctx, m.collectionName, nil, expr, chunkOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for file %s: %w", fileID, err)
	}
	chunks, err := parseChunkRows(rs)
	if err != nil {
		return nil, err
	}
	sortByIndex(chunks)
	return chunks, nil
}

// Search runs a cosine similarity search and returns up to topK hits.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]models.SearchHit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		chunkOutputFields,
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]models.SearchHit, 0, topK)
	for _, sr := range searchResult {
		chunks, err := parseChunkRows(sr.Fields)
		if err != nil {
			return nil, err
		}
		for i, chunk := range chunks {
			hits = append(hits, models.SearchHit{
				Chunk: chunk,
				Score: float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("top_k", topK),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

// ScanChunkRefs pages through the whole collection returning (chunk_id,
// file_id) pairs. Used only by the orphan sweep.
func (m *Client) ScanChunkRefs(ctx context.Context) ([]models.ChunkRef, error) {
	var refs []models.ChunkRef
	var offset int64

	for {
		rs, err := m.client.Query(ctx, m.collectionName, nil, "chunk_id != \"\"",
			[]string{"chunk_id", "file_id"},
			client.WithOffset(offset),
			client.WithLimit(scanPageSize),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunks at offset %d: %w", offset, err)
		}

		idCol := rs.GetColumn("chunk_id")
		fileCol := rs.GetColumn("file_id")
		if idCol == nil || idCol.Len() == 0 {
			break
		}

		for i := 0; i < idCol.Len(); i++ {
			id, err := idCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read chunk_id: %w", err)
			}
			fileID, err := fileCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read file_id: %w", err)
			}
			refs = append(refs, models.ChunkRef{ChunkID: id, FileID: fileID})
		}

		if int64(idCol.Len()) < scanPageSize {
			break
		}
		offset += scanPageSize
	}

	return refs, nil
}

func parseChunkRows(rs client.ResultSet) ([]models.Chunk, error) {
	idCol := rs.GetColumn("chunk_id")
	if idCol == nil || idCol.Len() == 0 {
		return nil, nil
	}

	contentCol := rs.GetColumn("content")
	fileCol := rs.GetColumn("file_id")
	nameCol := rs.GetColumn("name")
	mimeCol := rs.GetColumn("mime_type")
	indexCol := rs.GetColumn("chunk_index")
	totalCol := rs.GetColumn("total_chunks")
	pageCol := rs.GetColumn("page")

	chunks := make([]models.Chunk, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk row %d: %w", i, err)
		}
		content, _ := contentCol.GetAsString(i)
		fileID, _ := fileCol.GetAsString(i)
		name, _ := nameCol.GetAsString(i)
		mimeType, _ := mimeCol.GetAsString(i)
		chunkIndex, _ := indexCol.GetAsInt64(i)
		total, _ := totalCol.GetAsInt64(i)
		page, _ := pageCol.GetAsInt64(i)

		chunks = append(chunks, models.Chunk{
			ID:      id,
			Content: content,
			Metadata: models.ChunkMetadata{
				FileID:      fileID,
				ChunkIndex:  int(chunkIndex),
				TotalChunks: int(total),
				Name:        name,
				MimeType:    mimeType,
				Page:        int(page),
			},
		})
	}
	return chunks, nil
}

func sortByIndex(chunks []models.Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Metadata.ChunkIndex < chunks[j].Metadata.ChunkIndex
	})
}
