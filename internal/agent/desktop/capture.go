package desktop

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

// ScreenCapturer captures one display and downscales wide frames before
// encoding, keeping vision payloads small.
type ScreenCapturer struct {
	display  int
	maxWidth int // 0 disables downscaling
}

// NewScreenCapturer builds a capturer for the given display index.
// maxWidth > 0 caps the encoded frame width.
// ActiveDisplays reports how many displays can be captured.
func ActiveDisplays() int {
	return screenshot.NumActiveDisplays()
}

func NewScreenCapturer(display, maxWidth int) *ScreenCapturer {
	return &ScreenCapturer{display: display, maxWidth: maxWidth}
}

// Capture grabs the configured display and returns it as an encoded PNG
// frame.
func (c *ScreenCapturer) Capture() (*Frame, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	if c.display < 0 || c.display >= n {
		return nil, fmt.Errorf("invalid display %d, available displays: 0-%d", c.display, n-1)
	}

	bounds := screenshot.GetDisplayBounds(c.display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", c.display, err)
	}

	var out image.Image = img
	if c.maxWidth > 0 && img.Bounds().Dx() > c.maxWidth {
		out = downscale(img, c.maxWidth)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}

	return &Frame{
		PNG:    buf.Bytes(),
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Bounds: bounds,
	}, nil
}

// downscale resizes to maxWidth preserving aspect ratio.
func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	h := b.Dy() * maxWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
