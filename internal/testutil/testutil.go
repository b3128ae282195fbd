// Package testutil provides shared test fixtures: synthetic video frames,
// probability surfaces and a few assertion helpers.
package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"testing"
)

// Colours used across the tracking tests. Plate is a saturated blue (hue
// 115) that survives the appearance mask. Backdrop is grey, which maps to hue
// 0 and so carries no weight in a plate model. Dark fails the value mask.
var (
	Plate    = color.RGBA{R: 30, G: 60, B: 220, A: 255}
	Backdrop = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	Dark     = color.RGBA{R: 8, G: 8, B: 10, A: 255}
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Canvas returns a width x height image filled with bg.
func Canvas(width, height int, bg color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	return img
}

// FillRect paints r onto img.
func FillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// PlateScene draws a plate-coloured square of side size with its top-left
// corner at (x, y) on a grey backdrop.
func PlateScene(width, height, x, y, size int) *image.RGBA {
	img := Canvas(width, height, Backdrop)
	FillRect(img, image.Rect(x, y, x+size, y+size), Plate)
	return img
}

// GaussianSurface returns row-major likelihoods of a Gaussian bump centred
// at continuous coordinates (cx, cy) with spread sigma. Each cell is
// sampled at its pixel centre, so a peak at (10.5, 5.5) puts 255 in cell
// (10, 5) and a peak at (10, 5) splits evenly across four cells.
func GaussianSurface(width, height int, cx, cy, sigma float64) []uint8 {
	data := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			data[y*width+x] = uint8(math.Round(255 * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))))
		}
	}
	return data
}

// ImageSource replays a fixed list of images as frames. Convert is
// supplied by the caller so this package stays free of tracker imports.
type ImageSource[F any] struct {
	Images  []image.Image
	Convert func(image.Image) F
	next    int
}

// Next returns the next converted image or io.EOF.
func (s *ImageSource[F]) Next() (F, error) {
	var zero F
	if s.next >= len(s.Images) {
		return zero, io.EOF
	}
	img := s.Images[s.next]
	s.next++
	return s.Convert(img), nil
}

// Len returns the number of images in the source.
func (s *ImageSource[F]) Len() int { return len(s.Images) }
