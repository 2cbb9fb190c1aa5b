package capture

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// JPEGQuality is used when frames are re-encoded.
const JPEGQuality = 85

// Normalize decodes an image, fits it into a maxSide square without upscaling and re-encodes it as JPEG.
func Normalize(data []byte, maxSide int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("capture: decode frame: %w", err)
	}
	img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("capture: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
