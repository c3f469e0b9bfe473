package explain

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	positiveColor = color.RGBA{R: 255, G: 0, B: 81, A: 255}
	negativeColor = color.RGBA{R: 0, G: 139, B: 251, A: 255}
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// bar is one labelled value.
type bar struct {
	name  string
	value float64
}

// SummaryPlot renders mean |attribution| per feature, largest on top.
func SummaryPlot(path string, features []string, values Matrix) error {
	importance := MeanAbs(values)
	bars := make([]bar, len(features))
	for j, name := range features {
		bars[j] = bar{name: name, value: importance[j]}
	}
	sort.SliceStable(bars, func(a, b int) bool { return bars[a].value < bars[b].value })

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.X.Label.Text = "mean(|attribution|)"

	chart, err := plotter.NewBarChart(barValues(bars, func(float64) bool { return true }), vg.Points(18))
	if err != nil {
		return fmt.Errorf("failed to build summary chart: %w", err)
	}
	styleBars(chart, positiveColor)
	p.Add(chart, plotter.NewGrid())
	p.NominalY(barNames(bars)...)

	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// LocalPlot renders the signed contributions of one row, ordered by magnitude.
func LocalPlot(path string, features []string, contributions []float64, base float64) error {
	bars := make([]bar, len(features))
	output := base
	for j, name := range features {
		bars[j] = bar{name: name, value: contributions[j]}
		output += contributions[j]
	}
	sort.SliceStable(bars, func(a, b int) bool { return abs(bars[a].value) < abs(bars[b].value) })

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Prediction f(x) = %.3f (base value %.3f)", output, base)
	p.X.Label.Text = "contribution"

	pos, err := plotter.NewBarChart(barValues(bars, func(v float64) bool { return v >= 0 }), vg.Points(18))
	if err != nil {
		return fmt.Errorf("failed to build local chart: %w", err)
	}
	neg, err := plotter.NewBarChart(barValues(bars, func(v float64) bool { return v < 0 }), vg.Points(18))
	if err != nil {
		return fmt.Errorf("failed to build local chart: %w", err)
	}
	styleBars(pos, positiveColor)
	styleBars(neg, negativeColor)
	p.Add(pos, neg, plotter.NewGrid())
	p.NominalY(barNames(bars)...)

	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func styleBars(chart *plotter.BarChart, c color.Color) {
	chart.Horizontal = true
	chart.Color = c
	chart.LineStyle.Width = 0
}

// barValues keeps the values accepted by keep and zeroes the rest so bars of
// several charts stay aligned on the same axis positions.
func barValues(bars []bar, keep func(float64) bool) plotter.Values {
	out := make(plotter.Values, len(bars))
	for i, b := range bars {
		if keep(b.value) {
			out[i] = b.value
		}
	}
	return out
}

func barNames(bars []bar) []string {
	out := make([]string, len(bars))
	for i, b := range bars {
		out[i] = b.name
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
