package kinematics

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/banshee-data/lift.report/internal/units"
)

// CSVWriter writes a velocity series as CSV with one row per sample:
// sample index, time in seconds and velocity in Units.
type CSVWriter struct {
	W     io.Writer
	FPS   float64
	Units string
}

// WriteVelocities writes the header and one row per sample. Velocities are
// given in m/s and converted on output.
func (c *CSVWriter) WriteVelocities(velocities []float64) error {
	u := c.Units
	if !units.IsValid(u) {
		u = units.MPS
	}
	ts, err := Timestamps(len(velocities), c.FPS)
	if err != nil {
		return err
	}

	w := csv.NewWriter(c.W)
	if err := w.Write([]string{"sample", "time_s", "velocity_" + u}); err != nil {
		return err
	}
	for i, v := range units.ConvertSeries(velocities, u) {
		row := []string{
			strconv.Itoa(i),
			strconv.FormatFloat(ts[i], 'f', 4, 64),
			strconv.FormatFloat(v, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
