// Package output renders live progress and the end-of-run summary.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentStage int // 1-indexed
	TotalStages  int
}

// LiveSource is what Watch polls; *engine.Engine satisfies it.
type LiveSource interface {
	Live() (*metrics.Snapshot, *executor.Stats, bool)
	Progress() float64
}

// palette holds one fatih/color instance per role.
type palette struct {
	header  *color.Color
	title   *color.Color
	dim     *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	stage   *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		header:  color.New(color.FgCyan),
		title:   color.New(color.Bold),
		dim:     color.New(color.Faint),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		latency: color.New(color.FgBlue),
		stage:   color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.header, p.title, p.dim, p.value, p.good, p.warn, p.bad, p.latency, p.stage} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName      string
	target        string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	quiet         bool
	colors        palette

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	Target        string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler. Colors are used
// only on a terminal and never when NO_COLOR is set.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := config.ForceColors || (isTTY && !config.NoColor && os.Getenv("NO_COLOR") == "")

	return &ConsoleOutput{
		testName:      config.TestName,
		target:        config.Target,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		quiet:         config.Quiet,
		colors:        newPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.header.Sprint(line))
	c.writeln(c.colors.title.Sprintf("%s - Running [ramping-vus]", c.testName))
	if c.target != "" {
		c.writeln(fmt.Sprintf("Target:   %s", c.colors.value.Sprint(c.target)))
	}
	if c.totalDuration > 0 {
		c.writeln(fmt.Sprintf("Duration: %s", c.colors.value.Sprint(formatDuration(c.totalDuration))))
	}
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")
}

// Watch refreshes the display from src every interval until ctx is done.
// On a terminal the block is redrawn in place; otherwise one line is
// printed per tick.
func (c *ConsoleOutput) Watch(ctx context.Context, src LiveSource, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, stats, ok := src.Live()
			if !ok {
				continue
			}
			live := StatsFromMetrics(snap, stats, src.Progress())
			if c.isTTY {
				c.Update(live)
			} else {
				c.PrintNonInteractiveUpdate(live)
			}
		}
	}
}

// Update redraws the live display with new statistics.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	progressBar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.good.Sprint(progressBar),
		c.colors.title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))
	lines = append(lines, fmt.Sprintf("Stage:    %s",
		c.colors.stage.Sprintf("ramping (%d/%d)", stats.CurrentStage, stats.TotalStages)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", c.colors.value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", c.colors.value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	errColor := c.rateColor(stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", c.colors.good.Sprintf("%.1f", stats.CurrentRPS))
	errStr := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", c.colors.latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", c.colors.latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	lines = append(lines, c.colors.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *ConsoleOutput) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return c.colors.bad
	case errorRate > 0.01:
		return c.colors.warn
	default:
		return c.colors.good
	}
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	bar := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		bar, left, strings.Repeat(" ", leftPadding),
		bar, right, strings.Repeat(" ", rightPadding),
		bar)
}

// PrintNonInteractiveUpdate prints a one-line status update. Used when
// output is not a TTY (e.g., piped to a file or CI/CD).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final metrics table, the thresholds and the verdict.
func (c *ConsoleOutput) PrintSummary(report *engine.Report) {
	if c.quiet {
		if report.Passed {
			c.writeln(c.colors.good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status, statusColor := "Completed ✓", c.colors.good
	if !report.Passed {
		status, statusColor = "Failed ✗", c.colors.bad
	}

	c.writeln("")
	c.writeln(c.colors.header.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.title.Sprint(report.Name), statusColor.Sprint(status)))
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.value.Sprint(formatDuration(report.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.value.Sprint(formatNumber(report.Iterations))))
	c.writeln(fmt.Sprintf("Max VUs:       %s", c.colors.value.Sprint(report.MaxVUs)))
	c.writeln("")

	if checks, ok := report.Metric("checks"); ok && checks.Label != "" {
		fails, _ := checks.Get("fails")
		mark := c.colors.good.Sprint("✓")
		if fails > 0 {
			mark = c.colors.bad.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %s", mark, checks.Label))
		c.writeln("")
	}

	for _, m := range report.Metrics {
		c.writeln(fmt.Sprintf("  %s: %s", padDots(m.Name, 32), formatMetricValues(m)))
	}
	c.writeln("")

	if len(report.Thresholds) > 0 {
		c.writeln(c.colors.title.Sprint("Thresholds:"))
		for _, t := range report.Thresholds {
			mark := c.colors.good.Sprint("✓")
			if t.Breached {
				mark = c.colors.bad.Sprint("✗")
			}
			detail := "not evaluated"
			if t.Breached {
				detail = fmt.Sprintf("breached at %s with %s", formatDuration(t.FirstBreachAt), formatValue(t.BreachValue))
			} else if t.Evaluated {
				detail = "actual: " + formatValue(t.Value)
			}
			c.writeln(fmt.Sprintf("  %s %s %s (%s)", mark, t.Metric, t.Expression, detail))
		}
		c.writeln("")
	}

	state := report.State.String()
	if report.AbortReason != "" {
		state += " (" + report.AbortReason + ")"
	}
	stateColor := c.colors.good
	if report.Aborted() {
		stateColor = c.colors.warn
	}
	c.writeln(fmt.Sprintf("End state:     %s", stateColor.Sprint(state)))
	verdict := c.colors.good.Sprint("PASSED")
	if !report.Passed {
		verdict = c.colors.bad.Sprint("FAILED")
	}
	c.writeln(fmt.Sprintf("Verdict:       %s", verdict))
}

// write writes to the output without a newline.
func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics creates LiveStats from a snapshot and executor stats.
func StatsFromMetrics(snap *metrics.Snapshot, stats *executor.Stats, progress float64) *LiveStats {
	live := &LiveStats{Progress: progress}
	if stats != nil {
		live.TargetVUs = stats.TargetVUs
		live.CurrentStage = stats.CurrentStage + 1
		live.TotalStages = stats.TotalStages
		live.Elapsed = stats.Elapsed
		if stats.TotalDuration > stats.Elapsed {
			live.Remaining = stats.TotalDuration - stats.Elapsed
		}
	}
	if snap == nil {
		return live
	}

	live.ActiveVUs = snap.ActiveVUs
	live.CurrentRPS = snap.RPS
	live.TotalRequests = snap.TotalRequests
	live.Errors = snap.FailedRequests
	live.ErrorRate = snap.ErrorRate
	live.LatencyP95 = snap.Latency.P95
	live.LatencyAvg = snap.Latency.Mean
	if stats == nil {
		live.Elapsed = snap.Elapsed
	}
	return live
}
