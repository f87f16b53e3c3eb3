// Package storage holds the ObjectStore backends and the key layout shared
// by the API and the workers.
package storage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

// OriginalKey is where the uploaded source image of a job lives.
func OriginalKey(jobID string) string {
	return "originals/" + jobID
}

// ThumbnailKey returns a fresh key for a derived image. Every call returns a
// new key, so a retried write never overwrites a thumbnail another attempt
// already published.
func ThumbnailKey(jobID string, format interfaces.Format) string {
	return fmt.Sprintf("thumbnails/%s/%s.%s", jobID, uuid.NewString(), format)
}
