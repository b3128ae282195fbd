package vision

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// HueBins is the histogram resolution: one bin per 8-bit hue value.
const HueBins = 180

// ColorEnvelope bounds the saturation and value of pixels allowed into the
// histogram. Hue is always taken over its full range and the upper bounds
// are fixed at 255.
type ColorEnvelope struct {
	MinSaturation uint8
	MinValue      uint8
}

// DefaultColorEnvelope drops washed-out and dark pixels.
var DefaultColorEnvelope = ColorEnvelope{MinSaturation: 60, MinValue: 32}

// Admits reports whether a pixel with saturation s and value v passes the mask.
func (e ColorEnvelope) Admits(s, v uint8) bool {
	return s >= e.MinSaturation && v >= e.MinValue
}

// HSV converts an RGB pixel to 8-bit HSV using the OpenCV layout:
// hue in [0,179] (degrees halved), saturation and value in [0,255].
func HSV(r, g, b uint8) (h, s, v uint8) {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	hf, sf, vf := c.Hsv()
	hi := int(math.Round(hf / 2))
	if hi >= HueBins {
		hi -= HueBins
	}
	return uint8(hi), uint8(math.Round(sf * 255)), uint8(math.Round(vf * 255))
}

// AppearanceModel is a normalised hue histogram of the tracked object.
// Bins lie in [0,255]; the largest is exactly 255 unless every pixel was
// masked out, in which case all bins are zero.
type AppearanceModel struct {
	bins    [HueBins]float64
	samples int
}

// BuildAppearanceModel builds the model from region of frame using
// DefaultColorEnvelope.
func BuildAppearanceModel(frame *Frame, region Region) (*AppearanceModel, error) {
	return BuildAppearanceModelWithEnvelope(frame, region, DefaultColorEnvelope)
}

// BuildAppearanceModelWithEnvelope builds the model with a custom mask.
//
// A selection where every pixel fails the mask is not an error: the model is
// all zero, Empty reports true, and any tracker fed its back-projection will
// see no probability mass at all.
func BuildAppearanceModelWithEnvelope(frame *Frame, region Region, env ColorEnvelope) (*AppearanceModel, error) {
	if err := region.Validate(frame); err != nil {
		return nil, err
	}

	m := &AppearanceModel{}
	for y := region.Y; y < region.Y+region.Height; y++ {
		for x := region.X; x < region.X+region.Width; x++ {
			h, s, v := HSV(frame.RGB(x, y))
			if !env.Admits(s, v) {
				continue
			}
			m.bins[h]++
			m.samples++
		}
	}
	m.normalize()
	return m, nil
}

// normalize applies min-max scaling onto [0,255].
func (m *AppearanceModel) normalize() {
	lo, hi := m.bins[0], m.bins[0]
	for _, b := range m.bins[1:] {
		lo = math.Min(lo, b)
		hi = math.Max(hi, b)
	}
	switch {
	case hi == 0:
		return
	case hi == lo:
		// Every bin equally populated; min-max would collapse them to zero.
		for i := range m.bins {
			m.bins[i] = 255
		}
		return
	}
	// Multiply before dividing: for integer counts the top bin is then
	// exactly 255.
	for i, b := range m.bins {
		m.bins[i] = (b - lo) * 255 / (hi - lo)
	}
}

// Bin returns the normalised weight for hue h.
func (m *AppearanceModel) Bin(h uint8) float64 { return m.bins[h] }

// Bins returns a copy of the histogram.
func (m *AppearanceModel) Bins() [HueBins]float64 { return m.bins }

// Samples is the number of pixels that passed the mask.
func (m *AppearanceModel) Samples() int { return m.samples }

// Empty reports whether no pixel contributed to the histogram.
func (m *AppearanceModel) Empty() bool { return m.samples == 0 }
