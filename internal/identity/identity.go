package identity

import (
	"fmt"

	"github.com/driverag/backend/pkg/utils"
)

// ChunkKey derives the stable id for a chunk from its file id and ordinal.
// The same (file, index) pair always maps to the same key, which is what
// makes re-processing an upsert instead of an append.
func ChunkKey(fileID string, index int) string {
	return utils.HashString(fmt.Sprintf("%s_%d", fileID, index))
}
