// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/dustin/go-humanize"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of the probe.
const maxUpdateFrequency = time.Millisecond * 200

// numStatsRows is the number of rows of the stats table printed under the progress bar.
const numStatsRows = 4

type probeUpdate struct {
	trial  capacity.Trial
	bounds capacity.Bounds
}

// ProbeProgress displays the progress of a capacity probe: a progress bar over the maximum number of trials,
// and a table with the last trial and the current search bounds.
//
// Trials are reported with OnTrial, which can be used as capacity.Config.OnTrial, and drawn asynchronously.
// Call Done once the probe finishes.
type ProbeProgress struct {
	writer        io.Writer
	bar           *progressbar.ProgressBar
	termenv       *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool

	updates          chan probeUpdate
	asyncUpdatesDone sync.WaitGroup
	closeOnce        sync.Once
}

// NewProbeProgress creates the display of a probe over [minBatch, maxBatch], printed to os.Stdout.
func NewProbeProgress(minBatch, maxBatch int) *ProbeProgress {
	return NewProbeProgressTo(os.Stdout, minBatch, maxBatch)
}

// NewProbeProgressTo creates the display of a probe over [minBatch, maxBatch], printed to w.
func NewProbeProgressTo(w io.Writer, minBatch, maxBatch int) *ProbeProgress {
	p := &ProbeProgress{
		writer:        w,
		isFirstOutput: true,
		termenv:       termenv.NewOutput(w),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		statsTable: lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			}),
		updates: make(chan probeUpdate, 100), // Large buffer so the probe is never blocked.
	}
	p.bar = progressbar.NewOptions(max(1, capacity.NumTrials(minBatch, maxBatch)),
		progressbar.OptionSetDescription("      [bold]Probing[reset]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("trials"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(w),
	)
	p.asyncUpdatesDone.Add(1)
	go p.drawLoop()
	return p
}

// OnTrial enqueues the trial to be displayed. bounds are the search bounds before the trial.
func (p *ProbeProgress) OnTrial(trial capacity.Trial, bounds capacity.Bounds) {
	p.updates <- probeUpdate{trial: trial, bounds: bounds}
}

// Done waits for the pending updates to be drawn and completes the progress bar.
// It is safe to call it more than once.
func (p *ProbeProgress) Done() {
	p.closeOnce.Do(func() {
		close(p.updates)
		p.asyncUpdatesDone.Wait()
		_ = p.bar.Finish()
		p.termenv.ShowCursor()
		_, _ = fmt.Fprintln(p.writer)
	})
}

// drawLoop draws the updates as they arrive. If trials are faster than the terminal, only the last one
// is drawn.
func (p *ProbeProgress) drawLoop() {
	defer p.asyncUpdatesDone.Done()
	for update := range p.updates {
		amount := 1
	exhaust:
		for {
			select {
			case newUpdate, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount++
				update = newUpdate
			default:
				break exhaust
			}
		}

		bounds := update.bounds.Next(update.trial.BatchSize, update.trial.Outcome)
		p.statsTable.Data(lgtable.NewStringData())
		p.statsTable.Row("Last trial", fmt.Sprintf("batch %s: %s", humanize.Comma(int64(update.trial.BatchSize)),
			update.trial.Outcome))
		p.statsTable.Row("Memory", formatMemory(update.trial))
		p.statsTable.Row("Step duration", gomlxcli.FormatDuration(update.trial.Duration))
		p.statsTable.Row("Search range", formatBounds(bounds))

		// Clear the previous table, which is overwritten.
		p.termenv.HideCursor()
		if !p.isFirstOutput {
			p.termenv.CursorPrevLine(numStatsRows + 2 + 1)
		}
		p.isFirstOutput = false
		_, _ = fmt.Fprintln(p.writer, p.statsStyle.Render(p.statsTable.String()))
		_ = p.bar.Add(amount)
		_, _ = fmt.Fprintln(p.writer)
		p.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func formatBounds(b capacity.Bounds) string {
	best := "none"
	if b.Best > 0 {
		best = humanize.Comma(int64(b.Best))
	}
	if b.Done() {
		return "converged, best " + best
	}
	return fmt.Sprintf("[%s, %s], best %s", humanize.Comma(int64(b.Lo)), humanize.Comma(int64(b.Hi)), best)
}
