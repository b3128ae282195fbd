// Package video reads frames from video files and writes annotated copies,
// using OpenCV through gocv. Frames cross the package boundary as
// *vision.Frame so the tracker never sees a gocv.Mat.
package video

import (
	"fmt"
	"io"

	"gocv.io/x/gocv"

	"github.com/banshee-data/lift.report/internal/vision"
)

// Capture is a frame source backed by a video file. It satisfies
// session.FrameSource and session.Sized.
type Capture struct {
	path  string
	vc    *gocv.VideoCapture
	img   gocv.Mat
	fps   float64
	total int
	read  int
}

// Open opens the video at path.
func Open(path string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}

	total := int(vc.Get(gocv.VideoCaptureFrameCount))
	if total < 0 {
		total = 0
	}
	return &Capture{
		path:  path,
		vc:    vc,
		img:   gocv.NewMat(),
		fps:   vc.Get(gocv.VideoCaptureFPS),
		total: total,
	}, nil
}

// FPS is the frame rate reported by the container, or 0 if unknown.
func (c *Capture) FPS() float64 { return c.fps }

// Len is the frame count reported by the container, or 0 if unknown.
func (c *Capture) Len() int { return c.total }

// Path returns the file the capture was opened from.
func (c *Capture) Path() string { return c.path }

// Next decodes the next frame. It returns io.EOF once the decoder runs
// dry.
func (c *Capture) Next() (*vision.Frame, error) {
	for {
		if ok := c.vc.Read(&c.img); !ok {
			return nil, io.EOF
		}
		if c.img.Empty() {
			continue
		}
		c.read++
		f, err := MatToFrame(c.img)
		if err != nil {
			return nil, fmt.Errorf("frame %d of %s: %w", c.read-1, c.path, err)
		}
		return f, nil
	}
}

// Close releases the decoder.
func (c *Capture) Close() error {
	c.img.Close()
	return c.vc.Close()
}

// MatToFrame copies an 8-bit BGR, BGRA or grey Mat into a Frame.
func MatToFrame(m gocv.Mat) (*vision.Frame, error) {
	src := m
	switch m.Type() {
	case gocv.MatTypeCV8UC3:
	case gocv.MatTypeCV8UC4:
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(m, &src, gocv.ColorBGRAToBGR)
	case gocv.MatTypeCV8UC1:
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(m, &src, gocv.ColorGrayToBGR)
	default:
		return nil, fmt.Errorf("unsupported mat type %v", m.Type())
	}
	if !src.IsContinuous() {
		c := src.Clone()
		defer c.Close()
		src = c
	}
	return vision.FrameFromBGR(src.Cols(), src.Rows(), src.ToBytes())
}

// FrameToMat builds an 8-bit BGR Mat from f. The caller owns the result.
func FrameToMat(f *vision.Frame) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(f.Height(), f.Width(), gocv.MatTypeCV8UC3, f.BGR())
}
