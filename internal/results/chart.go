package results

import (
	"image/color"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	cpuColor      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	durationColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// RenderChart draws avg CPU (top) and duration (bottom) against bandwidth and
// writes the figure as PNG.
func RenderChart(path string, bandwidths, cpus, durations []float64) error {
	cpu, err := panel(bandwidths, cpus, "Avg CPU Usage (%)", cpuColor)
	if err != nil {
		return err
	}
	cpu.Title.Text = "Performance Metrics for Bandwidth Limits"
	cpu.Legend.Top = true
	cpu.Legend.Left = true

	dur, err := panel(bandwidths, durations, "Duration (s)", durationColor)
	if err != nil {
		return err
	}
	dur.Legend.Top = true

	img := vgimg.New(10*vg.Inch, 6*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      4 * vg.Millimeter,
		PadTop:    2 * vg.Millimeter,
		PadBottom: 2 * vg.Millimeter,
		PadLeft:   2 * vg.Millimeter,
		PadRight:  4 * vg.Millimeter,
	}
	plots := [][]*plot.Plot{{cpu}, {dur}}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		plots[j][0].Draw(canvases[j][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func panel(xs, ys []float64, label string, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "Bandwidth Limit (Mbit/s)"
	p.Y.Label.Text = label
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	if len(pts) == 0 {
		return p, nil
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, errors.Wrap(err, "plot "+label)
	}
	line.Color = c
	points.Color = c
	points.Shape = draw.CircleGlyph{}
	p.Add(line, points)
	p.Legend.Add(label, line, points)
	return p, nil
}
