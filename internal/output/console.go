// Package output renders run progress and the final summary to a terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/threshold"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleWidth = 56
	boxWidth  = 55

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats is one frame of the live display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	MaxVUs    int

	RPS           float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Dropped       int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase string
}

// StatsFrom builds a frame from a live snapshot.
func StatsFrom(snap *metrics.Snapshot, progress float64, maxVUs int) *LiveStats {
	ls := &LiveStats{Progress: progress, MaxVUs: maxVUs, Phase: "initializing"}
	if snap == nil {
		return ls
	}
	ls.Elapsed = snap.Elapsed
	if progress > 0 && progress < 1 {
		ls.Remaining = time.Duration(float64(snap.Elapsed) * (1 - progress) / progress)
	}
	ls.ActiveVUs = snap.ActiveVUs
	ls.RPS = snap.RPS
	ls.TotalRequests = snap.TotalRequests
	ls.Errors = snap.FailedRequests
	ls.ErrorRate = snap.ErrorRate
	ls.Dropped = snap.DroppedIterations
	ls.LatencyP95 = snap.Latency.P95
	ls.LatencyAvg = snap.Latency.Mean
	if snap.CurrentPhase != "" {
		ls.Phase = string(snap.CurrentPhase)
	}
	return ls
}

// Config configures a Console.
type Config struct {
	Writer   io.Writer
	Quiet    bool
	NoColor  bool
	ForceTTY bool
}

// Console writes the header, the live frames and the summary.
type Console struct {
	w     io.Writer
	tty   bool
	quiet bool

	bold, dim, cyan, green, yellow, red, blue, magenta *color.Color

	mu    sync.Mutex
	lines int
}

// NewConsole creates a console. Colors are used only on a terminal, and
// never when NoColor or the NO_COLOR environment variable is set.
func NewConsole(cfg Config) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	tty := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColor := tty && !cfg.NoColor && os.Getenv("NO_COLOR") == ""

	c := &Console{
		w:       cfg.Writer,
		tty:     tty,
		quiet:   cfg.Quiet,
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		cyan:    color.New(color.FgCyan),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		blue:    color.New(color.FgBlue),
		magenta: color.New(color.FgMagenta),
	}
	for _, col := range []*color.Color{c.bold, c.dim, c.cyan, c.green, c.yellow, c.red, c.blue, c.magenta} {
		if useColor {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTTY reports whether live frames are redrawn in place.
func (c *Console) IsTTY() bool {
	return c.tty
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(name, runID string, scenarios []string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.cyan.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - Running", c.bold.Sprint(name)))
	c.writeln(c.dim.Sprintf("run %s | scenarios: %s", runID, strings.Join(scenarios, ", ")))
	c.writeln(rule)
	c.writeln("")
}

// Update draws a live frame. On a terminal the previous frame is replaced;
// otherwise a single status line is appended.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tty {
		c.writeln(fmt.Sprintf("[%s] %.0f%% | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | Dropped: %d | P95: %s",
			formatDuration(stats.Elapsed), stats.Progress*100, stats.ActiveVUs, stats.TotalRequests,
			stats.RPS, stats.Errors, stats.ErrorRate*100, stats.Dropped, formatDurationShort(stats.LatencyP95)))
		return
	}

	c.clear()
	lines := c.renderLive(stats)
	for _, l := range lines {
		c.writeln(l)
	}
	c.lines = len(lines)
}

func (c *Console) clear() {
	if c.lines == 0 {
		return
	}
	fmt.Fprintf(c.w, cursorUp, c.lines)
	for i := 0; i < c.lines; i++ {
		fmt.Fprint(c.w, clearLine+"\n")
	}
	fmt.Fprintf(c.w, cursorUp, c.lines)
	c.lines = 0
}

func (c *Console) renderLive(s *LiveStats) []string {
	total := formatDuration(s.Elapsed + s.Remaining)
	lines := []string{
		fmt.Sprintf("Progress: %s %s | %s",
			c.green.Sprint(progressBar(s.Progress, 40)),
			c.bold.Sprintf("%.0f%%", s.Progress*100),
			c.dim.Sprintf("%s / %s", formatDuration(s.Elapsed), total)),
		fmt.Sprintf("Phase:    %s", c.magenta.Sprint(s.Phase)),
		"",
		c.dim.Sprint("┌" + strings.Repeat("━", boxWidth-2) + "┐"),
	}

	errColor := c.green
	switch {
	case s.ErrorRate > 0.05:
		errColor = c.red
	case s.ErrorRate > 0.01:
		errColor = c.yellow
	}

	lines = append(lines,
		c.boxRow(
			fmt.Sprintf("VUs:     %s / %d", c.cyan.Sprint(s.ActiveVUs), s.MaxVUs),
			fmt.Sprintf("Requests:    %s", c.cyan.Sprint(formatNumber(s.TotalRequests)))),
		c.boxRow(
			fmt.Sprintf("RPS:     %s", c.green.Sprintf("%.1f", s.RPS)),
			fmt.Sprintf("Errors:      %s", errColor.Sprintf("%d (%.1f%%)", s.Errors, s.ErrorRate*100))),
		c.boxRow(
			fmt.Sprintf("P95:     %s", c.blue.Sprint(formatDurationShort(s.LatencyP95))),
			fmt.Sprintf("Avg:         %s", c.blue.Sprint(formatDurationShort(s.LatencyAvg)))),
	)
	if s.Dropped > 0 {
		lines = append(lines, c.boxRow(fmt.Sprintf("Dropped: %s", c.yellow.Sprint(formatNumber(s.Dropped))), ""))
	}
	lines = append(lines, c.dim.Sprint("└"+strings.Repeat("━", boxWidth-2)+"┘"))
	return lines
}

func (c *Console) boxRow(left, right string) string {
	col := (boxWidth - 7) / 2
	pad := func(s string) string {
		n := col - len([]rune(stripANSI(s)))
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}
	bar := c.dim.Sprint("│")
	return fmt.Sprintf("%s %s %s %s %s", bar, pad(left), bar, pad(right), bar)
}

// PrintSummary prints the final report and the verdict.
func (c *Console) PrintSummary(res *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if res.Passed() {
			c.writeln(c.green.Sprint("PASSED"))
		} else {
			c.writeln(c.red.Sprint("FAILED"))
		}
		return
	}
	if c.tty {
		c.clear()
	}

	status, statusColor := "Completed ✓", c.green
	switch {
	case !res.Passed():
		status, statusColor = "Failed ✗", c.red
	case res.Aborted:
		status, statusColor = "Aborted", c.yellow
	}

	rule := c.cyan.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.bold.Sprint(res.Name), statusColor.Sprint(status)))
	c.writeln(rule)
	c.writeln("")

	m := res.Metrics
	c.writeln(fmt.Sprintf("Duration:      %s", c.cyan.Sprint(formatDuration(res.Duration))))
	if m != nil {
		c.printTotals(m)
		c.printLatency("Request Duration", m.Latency)
		c.printLatency("Iteration Duration", m.IterationDuration)
		c.printChecks(m.Checks)
		c.printBreakdown(m)
	}
	if len(res.Scenarios) > 1 {
		c.printScenarios(res.Scenarios)
	}
	c.printVerdict(res.Verdict)
}

func (c *Console) printTotals(m *metrics.Snapshot) {
	c.writeln(fmt.Sprintf("Total Reqs:    %s (%.1f/s)", c.cyan.Sprint(formatNumber(m.TotalRequests)), m.RPS))

	success := 1 - m.ErrorRate
	successColor := c.green
	switch {
	case success < 0.95:
		successColor = c.red
	case success < 0.99:
		successColor = c.yellow
	}
	c.writeln(fmt.Sprintf("Success Rate:  %s", successColor.Sprintf("%.2f%%", success*100)))
	if m.DroppedIterations > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s", c.yellow.Sprint(formatNumber(m.DroppedIterations))))
	}
	c.writeln(fmt.Sprintf("Data:          %s sent, %s received", formatBytes(m.BytesSent), formatBytes(m.BytesReceived)))
	c.writeln("")
}

func (c *Console) printLatency(title string, l metrics.LatencyStats) {
	if l.Count == 0 {
		return
	}
	c.writeln(c.bold.Sprint(title + ":"))
	c.writeln(fmt.Sprintf("  avg=%s min=%s med=%s max=%s",
		formatDurationShort(l.Mean), formatDurationShort(l.Min), formatDurationShort(l.P50), formatDurationShort(l.Max)))
	c.writeln(fmt.Sprintf("  p(90)=%s p(95)=%s p(99)=%s",
		formatDurationShort(l.P90), formatDurationShort(l.P95), formatDurationShort(l.P99)))
	c.writeln("")
}

func (c *Console) printChecks(checks map[string]metrics.CheckCount) {
	if len(checks) == 0 {
		return
	}
	c.writeln(c.bold.Sprint("Checks:"))
	for _, name := range sortedKeys(checks) {
		cc := checks[name]
		mark := c.green.Sprint("✓")
		if cc.Fails > 0 {
			mark = c.red.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %s  %.2f%% (%d/%d)", mark, name, cc.Rate()*100, cc.Passes, cc.Passes+cc.Fails))
	}
	c.writeln("")
}

func (c *Console) printBreakdown(m *metrics.Snapshot) {
	if len(m.StatusCodes) > 0 {
		codes := make([]int, 0, len(m.StatusCodes))
		for code := range m.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		parts := make([]string, len(codes))
		for i, code := range codes {
			label := fmt.Sprint(code)
			if code == 0 {
				label = "error"
			}
			parts[i] = fmt.Sprintf("%s=%d", label, m.StatusCodes[code])
		}
		c.writeln(fmt.Sprintf("Status Codes:  %s", strings.Join(parts, " ")))
	}
	if len(m.ErrorKinds) > 0 {
		parts := make([]string, 0, len(m.ErrorKinds))
		for _, kind := range sortedKeys(m.ErrorKinds) {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, m.ErrorKinds[kind]))
		}
		c.writeln(fmt.Sprintf("Errors:        %s", c.red.Sprint(strings.Join(parts, " "))))
	}
	c.writeln("")
}

func (c *Console) printScenarios(scenarios map[string]*engine.ScenarioResult) {
	c.writeln(c.bold.Sprint("Scenarios:"))
	for _, name := range sortedKeys(scenarios) {
		s := scenarios[name]
		if s.Metrics == nil {
			continue
		}
		line := fmt.Sprintf("  %-16s %-22s reqs=%-8s err=%.2f%% p95=%s",
			name, s.Executor, formatNumber(s.Metrics.TotalRequests),
			s.Metrics.ErrorRate*100, formatDurationShort(s.Metrics.Latency.P95))
		if st := s.Stats; st != nil {
			line += fmt.Sprintf(" vus=%d", st.AllocatedVUs)
			if st.Arrivals != nil {
				line += fmt.Sprintf(" arrivals=%s dropped=%s",
					formatNumber(st.Arrivals.Scheduled), formatNumber(st.Dropped))
			}
		}
		c.writeln(line)
	}
	c.writeln("")
}

func (c *Console) printVerdict(v threshold.Verdict) {
	if len(v.Results) == 0 {
		c.writeln(c.dim.Sprint("No thresholds defined."))
		return
	}
	c.writeln(c.bold.Sprint("Thresholds:"))
	for _, r := range v.Results {
		mark := c.green.Sprint("✓")
		if !r.Passed {
			mark = c.red.Sprint("✗")
		}
		key := r.Metric
		if r.Scenario != "" {
			key = fmt.Sprintf("%s{scenario:%s}", r.Metric, r.Scenario)
		}
		c.writeln(fmt.Sprintf("  %s %s %s  %s", mark, key, r.Expression, c.dim.Sprint(r.Message)))
	}
	c.writeln("")
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
