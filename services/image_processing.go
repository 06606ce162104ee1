package services

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// NormalizeImage decodes an upload, applies its EXIF orientation, fits it inside
// maxDimension x maxDimension and re-encodes it as JPEG.
// A non-positive maxDimension keeps the original size.
func NormalizeImage(imageBytes []byte, maxDimension int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(imageBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if maxDimension > 0 && (bounds.Dx() > maxDimension || bounds.Dy() > maxDimension) {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode image to jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
