// Package vision holds the image-side half of the tracker: frames, regions,
// the hue appearance model and its back-projection onto new frames.
package vision

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ErrInvalidRegion is returned when a region is empty or does not lie
// entirely inside the frame it is applied to.
var ErrInvalidRegion = errors.New("invalid region")

// Frame is an immutable grid of RGB pixels for one video instant.
// Pixels are packed row-major, three bytes per pixel.
type Frame struct {
	width  int
	height int
	pix    []uint8
}

// NewFrame wraps packed RGB bytes. The frame takes ownership of pix;
// callers must not modify it afterwards.
func NewFrame(width, height int, pix []uint8) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame dimensions must be positive, got %dx%d", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("frame data has %d bytes, want %d for %dx%d RGB", len(pix), width*height*3, width, height)
	}
	return &Frame{width: width, height: height, pix: pix}, nil
}

// FrameFromBGR converts packed BGR bytes (OpenCV order) into a Frame.
func FrameFromBGR(width, height int, bgr []uint8) (*Frame, error) {
	if len(bgr) != width*height*3 {
		return nil, fmt.Errorf("frame data has %d bytes, want %d for %dx%d BGR", len(bgr), width*height*3, width, height)
	}
	pix := make([]uint8, len(bgr))
	for i := 0; i < len(bgr); i += 3 {
		pix[i], pix[i+1], pix[i+2] = bgr[i+2], bgr[i+1], bgr[i]
	}
	return NewFrame(width, height, pix)
}

// FrameFromImage copies any image.Image into a Frame. Alpha is discarded.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pix[i], pix[i+1], pix[i+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			i += 3
		}
	}
	return &Frame{width: w, height: h, pix: pix}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Bounds returns the region covering the whole frame.
func (f *Frame) Bounds() Region { return Region{Width: f.width, Height: f.height} }

// RGB returns the colour at (x, y). Coordinates are not bounds-checked.
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.width + x) * 3
	return f.pix[i], f.pix[i+1], f.pix[i+2]
}

// BGR returns a freshly allocated copy of the pixels in OpenCV byte order.
func (f *Frame) BGR() []uint8 {
	out := make([]uint8, len(f.pix))
	for i := 0; i < len(f.pix); i += 3 {
		out[i], out[i+1], out[i+2] = f.pix[i+2], f.pix[i+1], f.pix[i]
	}
	return out
}

// Region is an axis-aligned rectangle in frame coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseRegion parses "x,y,w,h".
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("region %q: expected x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	return Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// Center returns the centre point of the region.
func (r Region) Center() (float64, float64) {
	return float64(r.X) + float64(r.Width)/2, float64(r.Y) + float64(r.Height)/2
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Within reports whether the region is non-empty and fully inside a
// width x height grid.
func (r Region) Within(width, height int) bool {
	return !r.Empty() && r.X >= 0 && r.Y >= 0 && r.X+r.Width <= width && r.Y+r.Height <= height
}

// Validate returns ErrInvalidRegion unless the region fits inside f.
func (r Region) Validate(f *Frame) error {
	if r.Empty() {
		return fmt.Errorf("%w: %s has zero area", ErrInvalidRegion, r)
	}
	if !r.Within(f.width, f.height) {
		return fmt.Errorf("%w: %s outside %dx%d frame", ErrInvalidRegion, r, f.width, f.height)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
