// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"path/filepath"

	"github.com/cipikiko/Hatogoya/pkg/advisor"
	"github.com/cipikiko/Hatogoya/pkg/schedule"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kinds of points of a suggestion.
const (
	KindSchedule = "schedule"
	KindClasses  = "classes"
	KindProbe    = "probe"
)

// Figures rendered by SaveSuggestion, keyed by file name.
var Figures = map[string]Figure{
	"learning_rate.png": {
		Title: "Learning rate schedule", XLabel: "Epoch", YLabel: "Learning rate",
		Kind: KindSchedule, Style: Lines},
	"class_counts.png": {
		Title: "Examples per class", XLabel: "Class", YLabel: "Examples",
		Kind: KindClasses, Style: Bars},
	"capacity_probe.png": {
		Title: "Capacity probe", XLabel: "Batch size", YLabel: "Memory fraction",
		Kind: KindProbe, Style: Scatter},
}

// ForSuggestion returns the points of the learning rate schedule, the class counts and the capacity probe
// trials of a suggestion.
func ForSuggestion(s *advisor.Suggestion) Points {
	points := NewPoints(nil)
	train := s.Recipe.Train
	sched := schedule.New(train.LearningRate, train.WarmupEpochs, train.Epochs)
	for epoch, lr := range sched.Curve() {
		points.Append(Point{Series: "Learning rate", Kind: KindSchedule, X: float64(epoch), Y: lr})
	}
	if s.Insights != nil {
		for class, count := range s.Insights.ClassCounts {
			points.Append(Point{Series: "Examples", Kind: KindClasses, X: float64(class), Y: float64(count),
				Label: s.Insights.ClassName(class)})
		}
	}
	for _, trial := range s.Capacity.Trials {
		if !trial.MemoryKnown {
			continue
		}
		points.Append(Point{Series: trial.Outcome.String(), Kind: KindProbe,
			X: float64(trial.BatchSize), Y: trial.MemoryFraction()})
	}
	return points
}

// SaveSuggestion saves the points of the suggestion into dir/PointsFileName and renders one image per
// entry in Figures. Figures without points, e.g. the probe when memory could not be measured, are skipped.
func SaveSuggestion(dir string, s *advisor.Suggestion) error {
	points := ForSuggestion(s)
	if err := WritePoints(filepath.Join(dir, PointsFileName), points); err != nil {
		return err
	}
	for name, fig := range Figures {
		if len(points.OfKind(fig.Kind)) == 0 {
			klog.V(1).Infof("No %s points, skipping %q", fig.Kind, name)
			continue
		}
		if err := SavePNG(filepath.Join(dir, name), fig, points); err != nil {
			return errors.WithMessagef(err, "plotting %s", fig.Kind)
		}
	}
	return nil
}

