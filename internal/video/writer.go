package video

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/lift.report/internal/kinematics"
	"github.com/banshee-data/lift.report/internal/units"
	"github.com/banshee-data/lift.report/internal/vision"
)

var (
	windowColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// AnnotatedWriter writes each frame with the tracked window drawn on it and
// the instantaneous velocity printed above. It satisfies session.FrameSink.
type AnnotatedWriter struct {
	vw      *gocv.VideoWriter
	overlay Overlay
}

// NewAnnotatedWriter creates an mp4v-encoded video at path.
func NewAnnotatedWriter(path string, width, height int, overlay Overlay) (*AnnotatedWriter, error) {
	vw, err := gocv.VideoWriterFile(path, "mp4v", overlay.FPS, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("failed to create video writer %s", path)
	}
	return &AnnotatedWriter{vw: vw, overlay: overlay}, nil
}

// WriteFrame draws window and the overlay text onto a copy of frame and
// appends it to the video.
func (w *AnnotatedWriter) WriteFrame(index int, frame *vision.Frame, window vision.Region) error {
	img, err := FrameToMat(frame)
	if err != nil {
		return err
	}
	defer img.Close()

	gocv.Rectangle(&img, window.Rect(), windowColor, 2)

	pos := image.Pt(window.X, window.Y-8)
	if pos.Y < 15 {
		pos.Y = window.Y + window.Height + 20
	}
	gocv.PutText(&img, w.overlay.Label(index, window), pos, gocv.FontHersheySimplex, 0.5, textColor, 1)

	if err := w.vw.Write(img); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", index, err)
	}
	return nil
}

// Close flushes and closes the output file.
func (w *AnnotatedWriter) Close() error {
	return w.vw.Close()
}

// Overlay formats the per-frame label. It tracks the previous window to
// report the velocity between consecutive frames.
type Overlay struct {
	FPS              float64
	ReferenceLengthM float64
	Units            string

	prevY   int
	hasPrev bool
}

// Label returns the text for frame index with the given window. It must be
// called once per frame in order.
func (o *Overlay) Label(index int, window vision.Region) string {
	defer func() {
		o.prevY = window.Y
		o.hasPrev = true
	}()
	if !o.hasPrev {
		return fmt.Sprintf("#%d", index)
	}
	v, err := kinematics.Estimate([]float64{float64(o.prevY), float64(window.Y)}, float64(window.Height), o.FPS, o.ReferenceLengthM)
	if err != nil {
		return fmt.Sprintf("#%d", index)
	}
	u := o.Units
	if !units.IsValid(u) {
		u = units.MPS
	}
	return fmt.Sprintf("#%d %+.2f %s", index, units.ConvertSpeed(v[0], u), units.Label(u))
}
