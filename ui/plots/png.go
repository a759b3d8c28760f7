// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"path/filepath"

	"github.com/cipikiko/Hatogoya/pkg/support/fsutil"
	gomlxfsutil "github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Dimensions of the saved images.
var (
	ImageWidth  = 10 * vg.Inch
	ImageHeight = 5 * vg.Inch
)

// Style of a series when rendered.
type Style int

const (
	// Lines connects the points of each series.
	Lines Style = iota

	// Scatter draws each point separately.
	Scatter

	// Bars draws one bar per point, labeled by Point.Label.
	Bars
)

// Figure describes one image to render from the points of one kind.
type Figure struct {
	Title          string
	XLabel, YLabel string
	Kind           string
	Style          Style
}

// SavePNG renders the points of the figure's kind into filePath. The image format is taken from the file
// extension, so ".svg" and ".pdf" work as well.
func SavePNG(filePath string, fig Figure, points Points) error {
	rawPoints := points.OfKind(fig.Kind)
	if len(rawPoints) == 0 {
		return errors.Errorf("no points of kind %q to plot in %q", fig.Kind, filePath)
	}
	p := plot.New()
	p.Title.Text = fig.Title
	p.X.Label.Text = fig.XLabel
	p.Y.Label.Text = fig.YLabel
	p.Add(plotter.NewGrid())

	if fig.Style == Bars {
		values := make(plotter.Values, len(rawPoints))
		labels := make([]string, len(rawPoints))
		for ii, pt := range rawPoints {
			values[ii] = pt.Y
			labels[ii] = pt.Label
		}
		bars, err := plotter.NewBarChart(values, vg.Points(max(2, 400/float64(len(values)))))
		if err != nil {
			return errors.Wrapf(err, "failed to create bar chart %q", fig.Title)
		}
		bars.Color = plotutil.Color(0)
		bars.LineStyle.Width = vg.Length(0)
		p.Add(bars)
		if len(labels) <= 40 {
			p.NominalX(labels...)
		}
	} else {
		var series []string
		bySeries := make(map[string]plotter.XYs)
		for _, pt := range rawPoints {
			if _, found := bySeries[pt.Series]; !found {
				series = append(series, pt.Series)
			}
			bySeries[pt.Series] = append(bySeries[pt.Series], plotter.XY{X: pt.X, Y: pt.Y})
		}
		for ii, name := range series {
			xys := bySeries[name]
			switch fig.Style {
			case Scatter:
				scatter, err := plotter.NewScatter(xys)
				if err != nil {
					return errors.Wrapf(err, "failed to plot series %q", name)
				}
				scatter.Color = plotutil.Color(ii)
				scatter.Shape = plotutil.Shape(ii)
				p.Add(scatter)
				p.Legend.Add(name, scatter)
			default:
				line, err := plotter.NewLine(xys)
				if err != nil {
					return errors.Wrapf(err, "failed to plot series %q", name)
				}
				line.Color = plotutil.Color(ii)
				line.Width = vg.Points(2)
				p.Add(line)
				p.Legend.Add(name, line)
			}
		}
		p.Legend.Top = true
	}

	filePath, err := gomlxfsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	if err := fsutil.MkdirAll(filepath.Dir(filePath)); err != nil {
		return err
	}
	if err := p.Save(ImageWidth, ImageHeight, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot %q", filePath)
	}
	return nil
}
