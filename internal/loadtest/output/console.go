// Package output provides console output for load test runs.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest/engine"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA" // Move cursor up N lines
	clearLine = "\033[2K"  // Clear entire line
)

const (
	ruleWidth = 56

	// Box drawing characters
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	// Progress bar characters
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	// Progress tracking
	Progress  float64       // 0.0 to 1.0
	Elapsed   time.Duration // Time elapsed since the run started
	Remaining time.Duration // Estimated time remaining

	// VU stats
	ActiveVUs int // Spawned virtual users across running phases
	PeakVUs   int // Peak concurrently busy virtual users

	// Iteration stats
	RPS       float64 // Issued iterations per second
	Issued    int64   // Total iterations issued
	Failed    int64   // Total failed iterations
	ErrorRate float64 // Error rate (0.0 to 1.0)
	Dropped   int64   // Ticks lost to overload

	// Latency stats
	LatencyP95 time.Duration
	LatencyAvg time.Duration

	// Running lists the phases currently running
	Running []string
}

// ConsoleOutput manages live console output during a run.
type ConsoleOutput struct {
	testName string
	writer   io.Writer
	isTTY    bool
	quiet    bool
	colors   *ColorScheme

	mu          sync.Mutex
	linesOutput int // Number of lines in the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName    string
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY
	if f, ok := config.Writer.(*os.File); ok && !isTTY {
		isTTY = isTerminal(f)
	}

	colors := NoColorScheme()
	switch {
	case config.ForceColors:
		colors = ForcedColorScheme()
	case isTTY && supportsColors():
		colors = DefaultColorScheme()
	}

	return &ConsoleOutput{
		testName: config.TestName,
		writer:   config.Writer,
		isTTY:    isTTY,
		quiet:    config.Quiet,
		colors:   colors,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(phases []string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, ruleWidth)
	c.writeln(c.colors.Border.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.testName))
	c.writeln(c.colors.Border.Sprint(line))
	if len(phases) > 0 {
		c.writeln("Phases: " + c.colors.Phase.Sprint(strings.Join(phases, ", ")))
	}
	c.writeln("")
}

// Update redraws the live display. It does nothing when the output is not
// a terminal.
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

// clearLive erases the previous live display. Callers hold c.mu.
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

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	progressBar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Good.Sprint(progressBar),
		c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))

	running := "-"
	if len(stats.Running) > 0 {
		running = strings.Join(stats.Running, ", ")
	}
	lines = append(lines, fmt.Sprintf("Running:  %s", c.colors.Phase.Sprint(running)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s (peak %d)", c.colors.Value.Sprintf("%d", stats.ActiveVUs), stats.PeakVUs)
	issuedStr := fmt.Sprintf("Issued:      %s", c.colors.Value.Sprint(formatNumber(stats.Issued)))
	lines = append(lines, c.formatBoxRow(vusStr, issuedStr, boxWidth))

	errColor := c.colors.rateColor(stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", c.colors.Good.Sprintf("%.1f", stats.RPS))
	errStr := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprintf("%d", stats.Failed),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	droppedColor := c.colors.Good
	if stats.Dropped > 0 {
		droppedColor = c.colors.Warn
	}
	droppedStr := fmt.Sprintf("Dropped:     %s", droppedColor.Sprintf("%d", stats.Dropped))
	lines = append(lines, c.formatBoxRow(p95Str, droppedStr, boxWidth))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2 // 2 borders + 2 padding

	pad := func(s string) string {
		n := colWidth - len([]rune(stripANSI(s)))
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s %s", border, pad(left), border, pad(right), border)
}

// PrintNonInteractiveUpdate prints a one-line status update.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Issued: %d | RPS: %.1f | Errors: %d (%.1f%%) | Dropped: %d | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.Issued,
		stats.RPS,
		stats.Failed,
		stats.ErrorRate*100,
		stats.Dropped,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final run summary.
func (c *ConsoleOutput) PrintSummary(result *engine.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Bad.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, ruleWidth)
	status := c.colors.Good.Sprint("Completed ✓")
	switch {
	case !result.Passed:
		status = c.colors.Bad.Sprint("Failed ✗")
	case result.Cancelled:
		status = c.colors.Warn.Sprint("Cancelled")
	}

	c.writeln("")
	c.writeln(c.colors.Border.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(c.colors.Border.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Dim.Sprint(result.ID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))

	if t := result.Totals; t != nil {
		c.writeln(fmt.Sprintf("Issued:        %s", c.colors.Value.Sprint(formatNumber(t.Issued))))
		c.writeln(fmt.Sprintf("  Succeeded:   %s", formatNumber(t.Succeeded)))
		c.writeln(fmt.Sprintf("  Failed:      %s", formatNumber(t.Failed)))
		c.writeln(fmt.Sprintf("  Cancelled:   %s", formatNumber(t.Cancelled)))
		if t.Dropped > 0 || t.Delayed > 0 {
			c.writeln(fmt.Sprintf("Overload:      %s dropped, %s delayed",
				c.colors.Warn.Sprint(formatNumber(t.Dropped)),
				c.colors.Warn.Sprint(formatNumber(t.Delayed))))
		}

		successRate := 1.0 - t.ErrorRate
		c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.rateColor(t.ErrorRate).Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Peak VUs:      %d", t.PeakVUs))
		c.writeln("")

		c.writeLatency(t.Latency)
		c.writeChecks(t)
	}

	if len(result.Phases) > 0 {
		c.writeln(c.colors.Title.Sprint("Phases:"))
		for _, p := range result.Phases {
			c.writeln(c.formatPhase(p))
		}
		c.writeln("")
	}

	if len(result.SideEffectErrors) > 0 {
		c.writeln(c.colors.Title.Sprint("Side Effect Errors:"))
		for _, e := range result.SideEffectErrors {
			c.writeln("  " + c.colors.Bad.Sprint("✗") + " " + e)
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.colors.Good.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Bad.Sprint("✗")
			}
			entry := fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value)
			if !t.Passed && t.Message != "" {
				entry += " " + c.colors.Dim.Sprint(t.Message)
			}
			c.writeln(entry)
		}
		c.writeln("")
	}
}

func (c *ConsoleOutput) writeLatency(l metrics.LatencyStats) {
	c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(l.Min)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(l.P50)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(l.P90)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(l.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(l.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(l.Max)))
	c.writeln("")
}

func (c *ConsoleOutput) writeChecks(s *metrics.Snapshot) {
	names := s.CheckNames()
	if len(names) == 0 {
		return
	}

	c.writeln(c.colors.Title.Sprint("Checks:"))
	for _, name := range names {
		counts := s.Checks[name]
		mark := c.colors.Good.Sprint("✓")
		if counts.Fails > 0 {
			mark = c.colors.Bad.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %s %s", mark, name,
			c.colors.Dim.Sprintf("(%d passed, %d failed)", counts.Passes, counts.Fails)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) formatPhase(p *engine.PhaseResult) string {
	state := p.State.String()
	switch p.State {
	case engine.PhaseCompleted:
		state = c.colors.Good.Sprint(state)
	case engine.PhaseCancelled:
		state = c.colors.Warn.Sprint(state)
	}

	entry := fmt.Sprintf("  %-20s %-10s %s", c.colors.Phase.Sprint(p.Name), state, formatDuration(p.Duration))
	if m := p.Metrics; m != nil {
		entry += fmt.Sprintf(" | issued %d ok %d fail %d cancel %d",
			m.Issued, m.Succeeded, m.Failed, m.Cancelled)
		if m.Dropped > 0 {
			entry += fmt.Sprintf(" dropped %d", m.Dropped)
		}
		if m.Latency.Count > 0 {
			entry += " | p95 " + formatDurationShort(m.Latency.P95)
		}
	}
	return entry
}

// write writes to the output without a newline.
func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromEngine builds LiveStats from a running engine.
func StatsFromEngine(eng *engine.Engine) *LiveStats {
	snap := eng.Progress()
	progress := eng.GetProgress()

	stats := &LiveStats{
		Progress:   progress,
		Elapsed:    snap.Elapsed,
		ActiveVUs:  snap.ActiveVUs,
		PeakVUs:    snap.PeakVUs,
		RPS:        snap.RPS,
		Issued:     snap.Issued,
		Failed:     snap.Failed,
		ErrorRate:  snap.ErrorRate,
		Dropped:    snap.Dropped,
		LatencyP95: snap.Latency.P95,
		LatencyAvg: snap.Latency.Mean,
	}
	if progress > 0 && progress < 1 {
		stats.Remaining = time.Duration(float64(snap.Elapsed) * (1 - progress) / progress)
	}

	for _, ps := range eng.PhaseStatuses() {
		if ps.State == engine.PhaseRunning {
			stats.Running = append(stats.Running, ps.Name)
		}
	}
	return stats
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
