package detect

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/aiklabs/aik/internal/agent/desktop"
)

// thumbSize is the square edge both frames are downsampled to before
// comparison. Small enough to be cheap, large enough that a dialog or menu
// opening moves the score well below the unchanged threshold.
const thumbSize = 64

// Similarity returns a [0,1] score where 1.0 means the frames look
// identical. Identical bytes short-circuit to 1.0. Otherwise both PNGs are
// decoded, converted to grayscale, downsampled to 64x64, and scored by
// normalized mean absolute difference. Any decode failure yields 0.0 so an
// unreadable frame is treated as a change, never as "stuck".
func Similarity(before, after *desktop.Frame) float64 {
	if before == nil || after == nil {
		return 0.0
	}
	if bytes.Equal(before.PNG, after.PNG) {
		return 1.0
	}

	a, err := grayThumb(before.PNG)
	if err != nil {
		return 0.0
	}
	b, err := grayThumb(after.PNG)
	if err != nil {
		return 0.0
	}

	var total int64
	for i := range a.Pix {
		d := int64(a.Pix[i]) - int64(b.Pix[i])
		if d < 0 {
			d = -d
		}
		total += d
	}
	mean := float64(total) / float64(thumbSize*thumbSize)
	sim := 1.0 - mean/255.0
	if sim < 0 {
		return 0.0
	}
	if sim > 1 {
		return 1.0
	}
	return sim
}

// grayThumb decodes a PNG and scales it to a 64x64 grayscale thumbnail.
func grayThumb(data []byte) (*image.Gray, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	thumb := image.NewGray(image.Rect(0, 0, thumbSize, thumbSize))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)
	return thumb, nil
}
