// Package ui renders a live heartbeat board in the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Sample is one completed heartbeat cycle.
type Sample struct {
	At       time.Time
	Alive    bool
	RTT      time.Duration
	Attempts int
}

// Status is the connection summary shown under the chart.
type Status struct {
	Connected bool
	LostSince time.Time
	Campaigns int
}

// StatusBoard draws an RTT chart of recent heartbeats and a status line.
type StatusBoard struct {
	out    io.Writer
	target string
	color  bool

	samples     []Sample
	maxSamples  int
	chartHeight int
	status      Status

	width int

	// Track lines printed for redraw
	linesPrinted int
}

// NewStatusBoard creates a board writing to out. Colors and cursor control are
// used only when out is a terminal.
func NewStatusBoard(out io.Writer, target string) *StatusBoard {
	width, _, isTTY := terminalSize(out)

	maxSamples := width - 12 // Leave room for the RTT axis
	if maxSamples < 20 {
		maxSamples = 20
	}
	if maxSamples > 120 {
		maxSamples = 120
	}

	return &StatusBoard{
		out:         out,
		target:      target,
		color:       isTTY,
		samples:     make([]Sample, 0, maxSamples),
		maxSamples:  maxSamples,
		chartHeight: 8,
		width:       width,
	}
}

// Start hides the cursor.
func (b *StatusBoard) Start() {
	if b.color {
		fmt.Fprint(b.out, HideCursor)
	}
	fmt.Fprintln(b.out)
}

// Stop restores the cursor.
func (b *StatusBoard) Stop() {
	if b.color {
		fmt.Fprint(b.out, ShowCursor)
	}
	fmt.Fprintln(b.out)
}

// AddSample appends a heartbeat, dropping the oldest beyond the chart width.
func (b *StatusBoard) AddSample(s Sample) {
	b.samples = append(b.samples, s)
	if len(b.samples) > b.maxSamples {
		b.samples = b.samples[1:]
	}
}

// SetStatus updates the status line.
func (b *StatusBoard) SetStatus(st Status) {
	b.status = st
}

// Render redraws the board in place.
func (b *StatusBoard) Render() {
	if b.color && b.linesPrinted > 0 {
		fmt.Fprintf(b.out, "\033[%dA", b.linesPrinted)
	}

	lines := []string{b.paint(ColorBold, "ibwatch ") + b.target}
	lines = append(lines, b.renderChart()...)
	lines = append(lines, b.statsLine())

	for _, line := range lines {
		if b.color {
			fmt.Fprint(b.out, ClearLine)
		}
		fmt.Fprintln(b.out, line)
	}

	b.linesPrinted = len(lines)
}

func (b *StatusBoard) statsLine() string {
	state := b.paint(ColorGreen, "CONNECTED")
	if !b.status.Connected {
		state = b.paint(ColorRed, "LOST")
		if !b.status.LostSince.IsZero() {
			state += fmt.Sprintf(" %s", time.Since(b.status.LostSince).Round(time.Second))
		}
	}

	alive, p50, p95 := b.summary()
	return fmt.Sprintf("%s │ %s %.1f%% │ %s p50 %v p95 %v │ %s %d",
		state,
		b.paint(ColorBold, "Alive:"), alive,
		b.paint(ColorBold, "RTT:"), p50, p95,
		b.paint(ColorBold, "Campaigns:"), b.status.Campaigns,
	)
}

// summary returns the alive percentage and RTT percentiles of the window.
func (b *StatusBoard) summary() (alivePct float64, p50, p95 time.Duration) {
	if len(b.samples) == 0 {
		return 0, 0, 0
	}

	var rtts []time.Duration
	for _, s := range b.samples {
		if s.Alive {
			rtts = append(rtts, s.RTT)
		}
	}
	alivePct = float64(len(rtts)) / float64(len(b.samples)) * 100
	if len(rtts) == 0 {
		return alivePct, 0, 0
	}

	sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })
	p50 = rtts[(len(rtts)-1)*50/100].Round(time.Microsecond)
	p95 = rtts[(len(rtts)-1)*95/100].Round(time.Microsecond)
	return alivePct, p50, p95
}

// renderChart draws one column per sample: a bar scaled to RTT, or a red x for a lost cycle.
func (b *StatusBoard) renderChart() []string {
	if len(b.samples) == 0 {
		return []string{b.paint(ColorDim, "  waiting for first heartbeat...")}
	}

	var maxRTT time.Duration
	for _, s := range b.samples {
		if s.Alive && s.RTT > maxRTT {
			maxRTT = s.RTT
		}
	}
	if maxRTT <= 0 {
		maxRTT = time.Millisecond
	}

	lines := make([]string, b.chartHeight)
	for row := 0; row < b.chartHeight; row++ {
		y := b.chartHeight - row // top row is the tallest
		var sb strings.Builder

		label := "        "
		if row == 0 {
			label = fmt.Sprintf("%7s ", maxRTT.Round(time.Microsecond))
		} else if row == b.chartHeight-1 {
			label = fmt.Sprintf("%7s ", "0")
		}
		sb.WriteString(b.paint(ColorDim, label+"│"))

		for _, s := range b.samples {
			switch {
			case !s.Alive && y == 1:
				sb.WriteString(b.paint(ColorRed, "x"))
			case s.Alive && rttToHeight(s.RTT, maxRTT, b.chartHeight) >= y:
				c := ColorGreen
				if s.Attempts > 1 {
					c = ColorYellow
				}
				sb.WriteString(b.paint(c, "█"))
			default:
				sb.WriteString(" ")
			}
		}
		lines[row] = sb.String()
	}

	return lines
}

func (b *StatusBoard) paint(color, s string) string {
	if !b.color {
		return s
	}
	return color + s + ColorReset
}

// rttToHeight maps rtt onto 1..height.
func rttToHeight(rtt, maxRTT time.Duration, height int) int {
	h := int(float64(rtt) / float64(maxRTT) * float64(height))
	if h < 1 {
		h = 1
	}
	if h > height {
		h = height
	}
	return h
}

// terminalSize returns the width of out and whether it is a terminal.
func terminalSize(out io.Writer) (width, height int, isTTY bool) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 80, 24, false
	}
	width, height, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80, 24, true // Default
	}
	return width, height, true
}
