package report

import (
	"bytes"
	"fmt"
	"image/color"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/user/qcw_analyzer_go/internal/analysis"
)

var plotColors = []color.Color{
	color.RGBA{R: 255, A: 255},         // Red
	color.RGBA{G: 180, A: 255},         // Green
	color.RGBA{B: 255, A: 255},         // Blue
	color.RGBA{R: 255, G: 165, A: 255}, // Orange
	color.RGBA{R: 128, B: 128, A: 255}, // Purple
	color.RGBA{G: 128, B: 128, A: 255}, // Teal
}

// CreateDeviationPlot renders a grouped bar chart of the percent deviations
// in one field group, one bar group per energy block, with the failure gate
// drawn as dashed lines. Returns an error when the group holds no numeric
// deviation at all (nothing to draw).
func CreateDeviationPlot(fg analysis.FieldGroup, threshold float64) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Deviation from reference - Field %s", fg.FieldSize)
	p.Y.Label.Text = "Deviation (%)"
	p.Add(plotter.NewGrid())

	n := len(ReportParameters)
	xMin, xMax := -0.5, float64(n)-0.5
	for _, tol := range []float64{threshold, -threshold} {
		line, err := plotter.NewLine(plotter.XYs{{X: xMin, Y: tol}, {X: xMax, Y: tol}})
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 200, A: 255}
		line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		p.Add(line)
	}

	barWidth := vg.Points(10)
	plotted := 0
	for i, block := range fg.Energies {
		vals := make(plotter.Values, n)
		hasData := false
		for j, param := range ReportParameters {
			if m, ok := block.Measured[param]; ok {
				if dev, err := strconv.ParseFloat(m.Deviation, 64); err == nil {
					vals[j] = dev
					hasData = true
				}
			}
		}
		if !hasData {
			continue
		}
		bars, err := plotter.NewBarChart(vals, barWidth)
		if err != nil {
			return nil, err
		}
		bars.LineStyle.Width = 0
		bars.Color = plotColors[i%len(plotColors)]
		bars.Offset = barWidth * vg.Length(float64(i)-float64(len(fg.Energies)-1)/2)
		p.Add(bars)
		p.Legend.Add(block.Energy, bars)
		plotted++
	}
	if plotted == 0 {
		return nil, fmt.Errorf("field %s: no numeric deviations to plot", fg.FieldSize)
	}

	p.NominalX(ReportParameters...)
	p.Legend.Top = true

	wt, err := p.WriterTo(15*vg.Centimeter, 8*vg.Centimeter, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
