// Package diagnostics renders the debug images of a pass: the per-frame
// signal used for sun edge detection, the spectral line fit and a preview
// of the average image.
package diagnostics

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"solexrecon/pkg/edges"
	"solexrecon/pkg/polynomial"
	"solexrecon/pkg/spectrum"
)

// Default plot size in pixels.
const (
	DefaultWidth  = 1200
	DefaultHeight = 500
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("nothing to plot")

var (
	blue  = color.RGBA{B: 255, A: 255}
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 160, A: 255}
	dash  = []vg.Length{vg.Points(6), vg.Points(4)}
)

// MagnitudePlot draws the FFT magnitude of every frame, the detection
// threshold and the detected edges.
func MagnitudePlot(res edges.Result) (*plot.Plot, error) {
	var pts plotter.XYs
	for i, m := range res.Magnitudes {
		if math.IsNaN(m) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: m})
	}
	if len(pts) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sun edges %s", res.Edges)
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "max FFT magnitude"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = blue
	p.Add(line)

	last := float64(len(res.Magnitudes) - 1)
	threshold, err := plotter.NewLine(plotter.XYs{{X: 0, Y: res.Threshold}, {X: last, Y: res.Threshold}})
	if err != nil {
		return nil, err
	}
	threshold.Dashes = dash
	threshold.Color = green
	p.Add(threshold)
	p.Legend.Add("threshold", threshold)

	if res.Found() {
		_, _, ymin, ymax := plotter.XYRange(pts)
		for _, edge := range []int{res.Start, res.End} {
			vline, err := plotter.NewLine(plotter.XYs{
				{X: float64(edge), Y: ymin},
				{X: float64(edge), Y: ymax},
			})
			if err != nil {
				return nil, err
			}
			vline.Dashes = dash
			vline.Color = red
			p.Add(vline)
		}
	}
	return p, nil
}

// LineFitPlot draws the sampled line positions of an analysis together
// with the polynomial used for the pass. Y grows downwards as in the frame.
func LineFitPlot(res *spectrum.Result, poly polynomial.Polynomial) (*plot.Plot, error) {
	if res == nil || res.Width == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Spectral line %s", poly)
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Add(plotter.NewGrid())

	if len(res.SamplePoints) > 0 {
		samples := make(plotter.XYs, len(res.SamplePoints))
		for i, pt := range res.SamplePoints {
			samples[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		scatter, err := plotter.NewScatter(samples)
		if err != nil {
			return nil, err
		}
		scatter.Color = red
		p.Add(scatter)
		p.Legend.Add("samples", scatter)
	}

	curve := make(plotter.XYs, res.Width)
	for x := range curve {
		curve[x] = plotter.XY{X: float64(x), Y: poly.Eval(float64(x))}
	}
	line, err := plotter.NewLine(curve)
	if err != nil {
		return nil, err
	}
	line.Color = blue
	p.Add(line)
	p.Legend.Add("polynomial", line)

	if l, r, ok := res.SunBorders(); ok {
		for _, x := range []int{l, r} {
			vline, err := plotter.NewLine(plotter.XYs{{X: float64(x), Y: 0}, {X: float64(x), Y: float64(res.Height - 1)}})
			if err != nil {
				return nil, err
			}
			vline.Dashes = dash
			vline.Color = green
			p.Add(vline)
		}
	}
	return p, nil
}

// Render draws p on an image of wPx by hPx pixels.
func Render(p *plot.Plot, wPx, hPx float64) image.Image {
	const dpi = 96
	width := vg.Length(wPx) * vg.Inch / dpi
	height := vg.Length(hPx) * vg.Inch / dpi

	c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	dc := vgdraw.New(c)
	p.Draw(dc)
	return c.Image()
}

// SavePlot renders p and writes it as a PNG file.
func SavePlot(p *plot.Plot, filename string, wPx, hPx float64) (err error) {
	img := Render(p, wPx, hPx)

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, img)
}

// PlotMagnitudes saves the magnitude plot of an edge detection.
func PlotMagnitudes(res edges.Result, filename string) error {
	p, err := MagnitudePlot(res)
	if err != nil {
		return err
	}
	return SavePlot(p, filename, DefaultWidth, DefaultHeight)
}

// PlotLineFit saves the line fit plot of an analysis.
func PlotLineFit(res *spectrum.Result, poly polynomial.Polynomial, filename string) error {
	p, err := LineFitPlot(res, poly)
	if err != nil {
		return err
	}
	return SavePlot(p, filename, DefaultWidth, DefaultHeight)
}
