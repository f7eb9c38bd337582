package splitter

import (
	"fmt"
	"os"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/identity"
	"github.com/driverag/backend/internal/storage/models"
)

const (
	largeFileBytes = 5 << 20
	hugeFileBytes  = 10 << 20
)

// FileMeta identifies the source file a chunk set belongs to.
type FileMeta struct {
	FileID   string
	Name     string
	MimeType string
}

type Splitter struct {
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

func NewSplitter(chunkSize, chunkOverlap int, logger *zap.Logger) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 3000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 400
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

// ProcessFile loads the document at path, splits it and returns the full
// ordered chunk set, ids and metadata attached. Chunk ordinals run across
// page boundaries; total_chunks is stamped once the split is complete.
func (s *Splitter) ProcessFile(path string, meta FileMeta) ([]models.Chunk, error) {
	size, overlap := s.chunkSize, s.chunkOverlap
	if info, err := os.Stat(path); err == nil {
		switch {
		case info.Size() > hugeFileBytes:
			size, overlap = 8000, 200
		case info.Size() > largeFileBytes:
			size, overlap = 5000, 150
		}
		if size != s.chunkSize {
			s.logger.Info("Large file, widening chunks",
				zap.String("file", meta.Name),
				zap.Int64("bytes", info.Size()),
				zap.Int("chunk_size", size),
			)
		}
	}

	sections, err := loadSections(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", meta.Name, err)
	}

	type piece struct {
		text string
		page int
	}
	var pieces []piece
	for _, sec := range sections {
		for _, text := range splitText(sec.text, size, overlap) {
			pieces = append(pieces, piece{text: text, page: sec.page})
		}
	}
	if len(pieces) == 0 {
		return nil, nil
	}

	total := len(pieces)
	chunks := make([]models.Chunk, 0, total)
	for i, p := range pieces {
		chunks = append(chunks, models.Chunk{
			ID:      identity.ChunkKey(meta.FileID, i),
			Content: p.text,
			EnrichedContent: fmt.Sprintf("[Archivo: %s | Tipo: %s | Parte %d de %d]\n%s",
				meta.Name, meta.MimeType, i+1, total, p.text),
			Metadata: models.ChunkMetadata{
				FileID:      meta.FileID,
				ChunkIndex:  i,
				TotalChunks: total,
				Name:        meta.Name,
				MimeType:    meta.MimeType,
				Page:        p.page,
			},
		})
	}

	s.logger.Debug("Document split",
		zap.String("file_id", meta.FileID),
		zap.String("file", meta.Name),
		zap.Int("chunks", total),
	)
	return chunks, nil
}

// splitText packs whole sentences into chunks of at most size bytes, carrying
// a tail of up to overlap bytes into the next chunk. Sentences longer than
// size are hard-split on word boundaries.
func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	sentences := segment(text)

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))

		// Carry trailing sentences into the next chunk for continuity.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			l := len(current[i]) + 1
			if tailLen+l > overlap {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailLen += l
		}
		current = tail
		currentLen = tailLen
	}

	for _, sent := range sentences {
		if len(sent) > size {
			flush()
			current = nil
			currentLen = 0
			for _, part := range hardSplit(sent, size) {
				chunks = append(chunks, part)
			}
			continue
		}
		if currentLen+len(sent)+1 > size {
			flush()
		}
		current = append(current, sent)
		currentLen += len(sent) + 1
	}
	if currentLen > 0 {
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
	}

	return chunks
}

// segment returns the sentences of text, falling back to line-based pieces
// when the segmenter rejects the input.
func segment(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		parts := strings.Split(text, "\n")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func hardSplit(sent string, size int) []string {
	words := strings.Fields(sent)
	var parts []string
	var b strings.Builder
	for _, w := range words {
		if b.Len() > 0 && b.Len()+len(w)+1 > size {
			parts = append(parts, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
