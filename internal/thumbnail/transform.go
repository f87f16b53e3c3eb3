// Package thumbnail turns arbitrary source images into fixed-size thumbnails.
//
// The policy is fixed: a centered square crop on the shorter side, a cover
// resize to the requested box, white padding if rounding leaves the result
// short, then re-encoding to the requested format.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

var (
	ErrInvalidDimensions = errors.New("target dimensions must be positive")
	ErrUnsupportedFormat = errors.New("unsupported thumbnail format")
)

// Background fills any padding and replaces transparency in JPEG output.
var Background color.Color = color.White

// DecodeError is returned when the source bytes are not a decodable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode source image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Transformer holds encoder settings. The zero value uses quality 90 for
// lossy formats.
type Transformer struct {
	JPEGQuality int
	WebPQuality float32
}

// Transform uses the default Transformer.
func Transform(src []byte, width, height int, format interfaces.Format) ([]byte, error) {
	return Transformer{}.Transform(src, width, height, format)
}

func (t Transformer) Transform(src []byte, width, height int, format interfaces.Format) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if !format.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	img, err := decode(src)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	thumb := Render(img, width, height)

	var buf bytes.Buffer
	if err := t.encode(&buf, thumb, format); err != nil {
		return nil, fmt.Errorf("encode %s thumbnail: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Render applies crop, cover resize and padding. The result is always
// exactly width x height.
func Render(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	crop := CropRect(b.Dx(), b.Dy()).Add(b.Min)
	square := imaging.Crop(img, crop)

	resized := imaging.Fill(square, width, height, imaging.Center, imaging.Lanczos)
	return pad(resized, width, height)
}

// CropRect returns the centered square covering the shorter side of a
// sourceWidth x sourceHeight image, in zero-based coordinates.
func CropRect(sourceWidth, sourceHeight int) image.Rectangle {
	switch {
	case sourceWidth > sourceHeight:
		x := (sourceWidth - sourceHeight) / 2
		return image.Rect(x, 0, x+sourceHeight, sourceHeight)
	case sourceHeight > sourceWidth:
		y := (sourceHeight - sourceWidth) / 2
		return image.Rect(0, y, sourceWidth, y+sourceWidth)
	default:
		return image.Rect(0, 0, sourceWidth, sourceHeight)
	}
}

// Padding returns the top, bottom, left and right padding needed to grow a
// w x h image to width x height. Odd deficits put the extra pixel at the
// bottom and right.
func Padding(w, h, width, height int) (top, bottom, left, right int) {
	if dy := height - h; dy > 0 {
		top = dy / 2
		bottom = dy - top
	}
	if dx := width - w; dx > 0 {
		left = dx / 2
		right = dx - left
	}
	return top, bottom, left, right
}

func pad(img *image.NRGBA, width, height int) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w >= width && h >= height {
		return img
	}
	top, _, left, _ := Padding(w, h, width, height)
	canvas := imaging.New(width, height, Background)
	return imaging.Paste(canvas, img, image.Pt(left, top))
}

func decode(src []byte) (image.Image, error) {
	if isWebP(src) {
		return webp.Decode(bytes.NewReader(src))
	}
	return imaging.Decode(bytes.NewReader(src))
}

func isWebP(src []byte) bool {
	return len(src) >= 12 && string(src[0:4]) == "RIFF" && string(src[8:12]) == "WEBP"
}

func (t Transformer) encode(buf *bytes.Buffer, img *image.NRGBA, format interfaces.Format) error {
	switch format {
	case interfaces.FormatJPEG:
		quality := t.JPEGQuality
		if quality <= 0 {
			quality = 90
		}
		flat := imaging.Overlay(imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), Background), img, image.Pt(0, 0), 1.0)
		return imaging.Encode(buf, flat, imaging.JPEG, imaging.JPEGQuality(quality))
	case interfaces.FormatPNG:
		return imaging.Encode(buf, img, imaging.PNG)
	case interfaces.FormatWEBP:
		quality := t.WebPQuality
		if quality <= 0 {
			quality = 90
		}
		return webp.Encode(buf, img, &webp.Options{Quality: quality})
	default:
		return ErrUnsupportedFormat
	}
}
