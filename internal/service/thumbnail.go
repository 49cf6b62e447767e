package service

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/lofivibes/api/internal/session"
)

// Thumbnail dimensions keep the scene's 16:9 aspect.
const (
	ThumbnailWidth  = 480
	ThumbnailHeight = 270
)

// Thumbnail scales an embedded image down to a PNG of the given size,
// cropping to fill.
func Thumbnail(ref session.ImageRef, width, height int) ([]byte, error) {
	if ref.IsPlaceholder() {
		return nil, ErrImageNotFound
	}

	img, err := imaging.Decode(bytes.NewReader(ref.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
