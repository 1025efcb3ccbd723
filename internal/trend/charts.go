package trend

import (
	"bytes"
	"encoding/base64"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	observedColor = color.RGBA{R: 0x34, G: 0x65, B: 0xa4, A: 0xff}
	fitColor      = color.RGBA{R: 0xb4, G: 0x61, B: 0x99, A: 0xff}
	bandColor     = color.RGBA{R: 0xb4, G: 0x61, B: 0x99, A: 0x30}
	forecastColor = color.RGBA{R: 0xcc, G: 0x00, B: 0x00, A: 0xff}
)

// renderPNG encodes a plot as base64 PNG, the form the UI layer embeds.
// Rendering failures degrade to an empty string; charts are decoration,
// never a reason to fail an analysis.
func renderPNG(p *plot.Plot, w, h vg.Length) string {
	var buf bytes.Buffer
	writer, err := p.WriterTo(w, h, "png")
	if err != nil {
		return ""
	}
	if _, err := writer.WriteTo(&buf); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// acfPlot draws the residual autocorrelations with the ±1.96/√n bounds.
func acfPlot(acf []float64, n int, title string) string {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Lag"
	p.Y.Label.Text = "ACF"

	bars := make(plotter.XYs, len(acf))
	for i, v := range acf {
		bars[i] = plotter.XY{X: float64(i + 1), Y: v}
	}
	line, points, err := plotter.NewLinePoints(bars)
	if err != nil {
		return ""
	}
	line.Color = observedColor
	points.Color = observedColor
	p.Add(line, points)

	bound := 1.96 / math.Sqrt(float64(n))
	for _, b := range []float64{bound, -bound} {
		ref := plotter.NewFunction(func(float64) float64 { return b })
		ref.Color = forecastColor
		ref.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(ref)
	}
	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = color.Gray{Y: 0x99}
	p.Add(zero)

	p.X.Min = 0.5
	p.X.Max = float64(len(acf)) + 0.5
	return renderPNG(p, 14*vg.Centimeter, 8*vg.Centimeter)
}

// seriesChart draws observations, a fitted curve with its prediction band
// and the one-step forecast.
func seriesChart(title, ylabel string, labels []string, x, y []float64,
	fitX, fitY, bandLow, bandHigh []float64, forecastX, forecastY float64) string {

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Period"
	p.Y.Label.Text = ylabel

	if len(bandLow) == len(fitX) && len(bandLow) > 0 {
		band := make(plotter.XYs, 0, 2*len(fitX))
		for i := range fitX {
			band = append(band, plotter.XY{X: fitX[i], Y: bandHigh[i]})
		}
		for i := len(fitX) - 1; i >= 0; i-- {
			band = append(band, plotter.XY{X: fitX[i], Y: bandLow[i]})
		}
		poly, err := plotter.NewPolygon(band)
		if err == nil {
			poly.Color = bandColor
			poly.LineStyle.Color = color.Transparent
			p.Add(poly)
		}
	}

	fitPts := make(plotter.XYs, len(fitX))
	for i := range fitX {
		fitPts[i] = plotter.XY{X: fitX[i], Y: fitY[i]}
	}
	fitLine, err := plotter.NewLine(fitPts)
	if err == nil {
		fitLine.Color = fitColor
		fitLine.Width = vg.Points(1.5)
		p.Add(fitLine)
		p.Legend.Add("fit", fitLine)
	}

	obs := make(plotter.XYs, len(x))
	for i := range x {
		obs[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	scatter, err := plotter.NewScatter(obs)
	if err == nil {
		scatter.GlyphStyle.Color = observedColor
		scatter.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(scatter)
		p.Legend.Add("observed", scatter)
	}

	fc, err := plotter.NewScatter(plotter.XYs{{X: forecastX, Y: forecastY}})
	if err == nil {
		fc.GlyphStyle.Color = forecastColor
		fc.GlyphStyle.Radius = vg.Points(3.5)
		p.Add(fc)
		p.Legend.Add("forecast", fc)
	}

	if len(labels) > 0 {
		ticks := make([]plot.Tick, 0, len(labels))
		for i, l := range labels {
			ticks = append(ticks, plot.Tick{Value: x[i], Label: l})
		}
		p.X.Tick.Marker = plot.ConstantTicks(ticks)
	}
	p.Y.Min = 0
	p.Y.Max = 105

	return renderPNG(p, 16*vg.Centimeter, 9*vg.Centimeter)
}
