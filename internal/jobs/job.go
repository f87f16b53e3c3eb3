package jobs

import (
	"errors"
	"fmt"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

var (
	ErrInvalidRequest    = errors.New("invalid thumbnail request")
	ErrEmptyUpload       = errors.New("uploaded file is empty")
	ErrThumbnailNotReady = errors.New("thumbnail not ready")
)

// MaxDimension caps requested thumbnail sides at the API boundary
const MaxDimension = 4096

// Request describes the thumbnail a caller wants
type Request struct {
	Width  int               `json:"width" validate:"gte=1,lte=4096"`
	Height int               `json:"height" validate:"gte=1,lte=4096"`
	Format interfaces.Format `json:"format" validate:"required,oneof=jpeg png webp"`
}

// DefaultRequest is a 100x100 JPEG
func DefaultRequest() Request {
	return Request{Width: 100, Height: 100, Format: interfaces.FormatJPEG}
}

func (r Request) Validate() error {
	if r.Width <= 0 || r.Height <= 0 || r.Width > MaxDimension || r.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidRequest, r.Width, r.Height)
	}
	if !r.Format.IsValid() {
		return fmt.Errorf("%w: format %q", ErrInvalidRequest, r.Format)
	}
	return nil
}
