package vision

import (
	"fmt"
	"math"
)

// ProbabilityMap holds one back-projected likelihood per frame pixel.
type ProbabilityMap struct {
	width  int
	height int
	data   []uint8
}

// NewProbabilityMap wraps row-major likelihood data. The map takes
// ownership of data.
func NewProbabilityMap(width, height int, data []uint8) (*ProbabilityMap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("probability map dimensions must be positive, got %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("probability map has %d cells, want %d", len(data), width*height)
	}
	return &ProbabilityMap{width: width, height: height, data: data}, nil
}

// Project back-projects model onto frame: each output cell is the model's
// histogram value at that pixel's hue. Unlike model building, no
// saturation/value mask is applied here.
func Project(frame *Frame, model *AppearanceModel) *ProbabilityMap {
	var lut [HueBins]uint8
	for h, b := range model.bins {
		lut[h] = uint8(math.Min(255, math.Max(0, math.Round(b))))
	}

	pm := &ProbabilityMap{
		width:  frame.width,
		height: frame.height,
		data:   make([]uint8, frame.width*frame.height),
	}
	for i := range pm.data {
		p := frame.pix[i*3 : i*3+3]
		h, _, _ := HSV(p[0], p[1], p[2])
		pm.data[i] = lut[h]
	}
	return pm
}

// Width returns the map width.
func (pm *ProbabilityMap) Width() int { return pm.width }

// Height returns the map height.
func (pm *ProbabilityMap) Height() int { return pm.height }

// At returns the likelihood at (x, y).
func (pm *ProbabilityMap) At(x, y int) uint8 { return pm.data[y*pm.width+x] }

// Row returns the cells of row y. The slice aliases the map and must not
// be modified.
func (pm *ProbabilityMap) Row(y int) []uint8 {
	return pm.data[y*pm.width : (y+1)*pm.width]
}

// Equal reports whether two maps are cell-for-cell identical.
func (pm *ProbabilityMap) Equal(other *ProbabilityMap) bool {
	if pm.width != other.width || pm.height != other.height {
		return false
	}
	for i, v := range pm.data {
		if other.data[i] != v {
			return false
		}
	}
	return true
}
