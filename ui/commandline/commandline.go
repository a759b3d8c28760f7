// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains the command line display of a training suggestion: dataset insights, capacity
// probe trials and progress.
package commandline

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/cipikiko/Hatogoya/pkg/advisor"
	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/cipikiko/Hatogoya/pkg/insights"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
)

// MaxClassesReported is the maximum number of classes listed in the insights report.
var MaxClassesReported = 20

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	titleStyle        = lipgloss.NewStyle().Bold(true).Underline(true)
	tableBorderColor  = "#705090"
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return rightAlignedStyle
			}
			return normalStyle
		})
}

// InsightsTable returns a table describing the dataset insights.
func InsightsTable(in *insights.Insights) string {
	table := newTable()
	table.Row("Split", in.Split)
	table.Row("Examples", humanize.Comma(int64(in.NumSamples)))
	table.Row("Classes", humanize.Comma(int64(in.NumClasses)))
	table.Row("Imbalance ratio", fmt.Sprintf("%.2f", in.ImbalanceRatio))
	table.Row("Storage", in.Storage.String())
	table.Row("Image shape (C, H, W)", fmt.Sprintf("(%d, %d, %d)", in.Channels, in.Height, in.Width))
	if in.Stats.Computed() {
		table.Row("Mean", formatFloats(in.Stats.Mean))
		table.Row("Std", formatFloats(in.Stats.Std))
		table.Row("Images sampled", humanize.Comma(int64(in.Stats.NumSampled)))
	} else {
		table.Row("Mean / Std", fmt.Sprintf("unavailable: %v", in.Stats.Err))
	}
	return table.String()
}

// ClassesTable returns a table with the number of examples and sampling weight of each class, up to
// MaxClassesReported of them.
func ClassesTable(in *insights.Insights) string {
	table := newTable().Headers("Class", "Examples", "Weight")
	weights := in.ClassWeights()
	for class, count := range in.ClassCounts {
		if class == MaxClassesReported {
			table.Row("...", fmt.Sprintf("%d more", len(in.ClassCounts)-class), "")
			break
		}
		table.Row(in.ClassName(class), humanize.Comma(int64(count)), fmt.Sprintf("%.3f", weights[class]))
	}
	return table.String()
}

// TrialsTable returns a table with the capacity probe trials, in the order they were run.
func TrialsTable(trials []capacity.Trial) string {
	table := newTable().Headers("Batch", "Outcome", "Memory", "Duration")
	for _, trial := range trials {
		table.Row(humanize.Comma(int64(trial.BatchSize)), trial.Outcome.String(), formatMemory(trial),
			gomlxcli.FormatDuration(trial.Duration))
	}
	return table.String()
}

// Report returns the full report of a suggestion: insights, classes, capacity and derived values.
func Report(s *advisor.Suggestion) string {
	var parts []string
	if s.Insights != nil {
		parts = append(parts,
			titleStyle.Render("Dataset"), InsightsTable(s.Insights),
			titleStyle.Render("Classes"), ClassesTable(s.Insights))
	}
	parts = append(parts, titleStyle.Render("Capacity"))
	capacityTable := newTable()
	capacityTable.Row("Device", s.Device)
	capacityTable.Row("Mixed precision", fmt.Sprintf("%v", s.MixedPrecision))
	capacityTable.Row("Batch size", humanize.Comma(int64(s.Capacity.BatchSize)))
	capacityTable.Row("Method", string(s.Capacity.Method))
	if s.Capacity.Reason != nil {
		capacityTable.Row("Reason", s.Capacity.Reason.Error())
	}
	parts = append(parts, capacityTable.String())
	if len(s.Capacity.Trials) > 0 {
		parts = append(parts, TrialsTable(s.Capacity.Trials))
	}

	parts = append(parts, titleStyle.Render("Schedule"))
	scheduleTable := newTable()
	scheduleTable.Row("Global batch size", humanize.Comma(int64(s.Derivation.GlobalBatchSize)))
	scheduleTable.Row("Steps per epoch", humanize.Comma(int64(s.Derivation.StepsPerEpoch)))
	scheduleTable.Row("Epochs", humanize.Comma(int64(s.Recipe.Train.Epochs)))
	scheduleTable.Row("Total updates", humanize.Comma(int64(s.Derivation.TotalUpdates)))
	scheduleTable.Row("Learning rate", fmt.Sprintf("%g", s.Recipe.Train.LearningRate))
	scheduleTable.Row("Warmup epochs", fmt.Sprintf("%d", s.Recipe.Train.WarmupEpochs))
	parts = append(parts, scheduleTable.String())
	return strings.Join(parts, "\n")
}

func formatMemory(trial capacity.Trial) string {
	if !trial.MemoryKnown {
		return "-"
	}
	return fmt.Sprintf("%s of %s (%.1f%%)", humanize.IBytes(trial.MemoryUsed), humanize.IBytes(trial.MemoryTotal),
		100*trial.MemoryFraction())
}

func formatFloats(values []float64) string {
	parts := xslices.Map(values, func(v float64) string {
		if math.IsNaN(v) {
			return "NaN"
		}
		return fmt.Sprintf("%.4f", v)
	})
	return "[" + strings.Join(parts, ", ") + "]"
}
