package models

import "time"

// FileStatus tracks a file record through the processing pipeline.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusProcessed  FileStatus = "processed"
	StatusError      FileStatus = "error"
)

// FileRecord is the local bookkeeping row for one remote file. LastModified
// holds the remote-supplied timestamp verbatim; it is never locally generated.
type FileRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MimeType     string     `json:"mime_type"`
	LastModified string     `json:"last_modified"`
	Checksum     string     `json:"checksum,omitempty"`
	Status       FileStatus `json:"status"`
	TotalChunks  int        `json:"total_chunks"`
	ProcessedAt  time.Time  `json:"processed_at"`
}

// RemoteFile is one entry of a remote folder listing.
type RemoteFile struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime string
	Checksum     string
}

// ChunkMetadata travels with every chunk into the vector store.
// Page is 1-based; zero means the source format has no page notion.
type ChunkMetadata struct {
	FileID      string `json:"file_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	Page        int    `json:"page,omitempty"`
}

// Chunk is one indexed fragment of a document. EnrichedContent carries the
// metadata banner used as embedding input; only Content is stored.
type Chunk struct {
	ID              string
	Content         string
	EnrichedContent string
	Embedding       []float32
	Metadata        ChunkMetadata
}

// SearchHit is a scored chunk returned by similarity search. Score is a
// cosine similarity in [0, 1].
type SearchHit struct {
	Chunk Chunk
	Score float64
}

// Source is one citation attached to an answer.
type Source struct {
	FileName    string  `json:"file_name"`
	FileID      string  `json:"file_id"`
	ChunkID     string  `json:"chunk_id"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	Similarity  float64 `json:"similarity"`
	Rank        int     `json:"rank"`
}

// QueryLogEntry is one answered question in the history table.
// UserFeedback is 0 until feedback arrives, then +1 or -1.
type QueryLogEntry struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Response     string    `json:"response"`
	Sources      []Source  `json:"sources"`
	CreatedAt    time.Time `json:"created_at"`
	UserFeedback int       `json:"user_feedback"`
}

// ChunkRef is the minimal projection used by the orphan sweep.
type ChunkRef struct {
	ChunkID string
	FileID  string
}
