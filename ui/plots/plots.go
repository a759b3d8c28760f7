// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package plots collects the curves of a training suggestion as plot points, prints them as tables and
// renders them as PNG images.
package plots

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/cipikiko/Hatogoya/pkg/support/fsutil"
	gomlxfsutil "github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// PointsFileName is the default file name, within the plots directory, where the points are saved.
const PointsFileName = "plot_points.json"

// Point of one plot series. It is used to save/load plots.
type Point struct {
	// Series name of this point, e.g.: "Learning rate".
	Series string

	// Kind groups series plotted together, e.g.: "schedule", "classes", "probe".
	Kind string

	// X coordinate: epoch, class index or batch size.
	X float64

	// Y value.
	Y float64

	// Label of the point, optional. Used to name the bars of categorical plots.
	Label string `json:",omitempty"`
}

// Points is a collection of Point objects organized by their X value.
type Points map[float64][]Point

// NewPoints create a Points object from a collection of individual Point.
func NewPoints(rawPoints []Point) (points Points) {
	points = make(map[float64][]Point)
	points.Append(rawPoints...)
	return points
}

// Append individual points.
func (points Points) Append(rawPoints ...Point) {
	for _, p := range rawPoints {
		points[p.X] = append(points[p.X], p)
	}
}

// Map executes the given function on all individual points, in X order.
func (points Points) Map(fn func(p *Point)) {
	for _, x := range slices.Sorted(maps.Keys(points)) {
		xPoints := points[x]
		for ii := range xPoints {
			fn(&xPoints[ii])
		}
	}
}

// Extract converts Points back to a list of individual points, sorted by X.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// OfKind returns the points of the given kind, sorted by X.
func (points Points) OfKind(kind string) (rawPoints []Point) {
	points.Map(func(p *Point) {
		if p.Kind == kind {
			rawPoints = append(rawPoints, *p)
		}
	})
	return
}

// SeriesNames returns the names of the series in the collection, sorted by kind and then by name.
func (points Points) SeriesNames() []string {
	nameToKind := make(map[string]string)
	points.Map(func(p *Point) {
		nameToKind[p.Series] = p.Kind
	})
	names := slices.Sorted(maps.Keys(nameToKind))
	slices.SortStableFunc(names, func(a, b string) int {
		switch {
		case nameToKind[a] < nameToKind[b]:
			return -1
		case nameToKind[a] > nameToKind[b]:
			return 1
		}
		return 0
	})
	return names
}

// TableForSeries returns a table with the first column being X, followed by the columns of the given series.
// If series is empty, it includes all series.
func (points Points) TableForSeries(xName string, series ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if len(series) == 0 {
		series = points.SeriesNames()
	}
	table.Headers(append([]string{xName}, series...)...)
	for _, x := range slices.Sorted(maps.Keys(points)) {
		row := make([]string, 1+len(series))
		row[0] = fmt.Sprintf("%g", x)
		var found bool
		for _, pt := range points[x] {
			if idx := slices.Index(series, pt.Series); idx != -1 {
				row[idx+1] = fmt.Sprintf("%.6g", pt.Y)
				found = true
			}
		}
		if found {
			table.Row(row...)
		}
	}
	return table.String()
}

// WritePoints saves the points as a stream of JSON objects, one per line, creating the parent directories
// as needed.
func WritePoints(filePath string, points Points) error {
	filePath, err := gomlxfsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	var buf []byte
	for _, p := range points.Extract() {
		encoded, err := json.Marshal(p)
		if err != nil {
			return errors.Wrapf(err, "failed to encode point %v", p)
		}
		buf = append(append(buf, encoded...), '\n')
	}
	return fsutil.WriteFile(filePath, buf, 0o644)
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) (Points, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plots file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(bufio.NewReader(f))
	var rawPoints []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plots file %q", filePath)
		}
		rawPoints = append(rawPoints, point)
	}
	return NewPoints(rawPoints), nil
}

func (points Points) String() string {
	return points.TableForSeries("X")
}
