package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewStatusBoard_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	b := NewStatusBoard(&buf, "127.0.0.1:7497")

	if b.color {
		t.Error("color enabled for a non-terminal writer")
	}
	if b.maxSamples != 68 {
		t.Errorf("maxSamples = %d, want 68 for an 80 column fallback", b.maxSamples)
	}
}

func TestStatusBoard_RenderWaiting(t *testing.T) {
	var buf bytes.Buffer
	b := NewStatusBoard(&buf, "127.0.0.1:7497")
	b.SetStatus(Status{Connected: true})
	b.Render()

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Error("escape codes written to a non-terminal")
	}
	for _, want := range []string{"ibwatch 127.0.0.1:7497", "waiting for first heartbeat", "CONNECTED"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusBoard_RenderChart(t *testing.T) {
	var buf bytes.Buffer
	b := NewStatusBoard(&buf, "gw")
	b.AddSample(Sample{Alive: true, RTT: 2 * time.Millisecond, Attempts: 1})
	b.AddSample(Sample{Alive: false, Attempts: 11})
	b.AddSample(Sample{Alive: true, RTT: 4 * time.Millisecond, Attempts: 1})

	lines := b.renderChart()
	if len(lines) != b.chartHeight {
		t.Fatalf("chart rows = %d, want %d", len(lines), b.chartHeight)
	}
	if !strings.HasSuffix(lines[0], "  █") {
		t.Errorf("top row = %q, want only the slowest sample filled", lines[0])
	}
	if !strings.HasSuffix(lines[len(lines)-1], "█x█") {
		t.Errorf("bottom row = %q, want lost cycle marked x", lines[len(lines)-1])
	}
}

func TestStatusBoard_Summary(t *testing.T) {
	b := NewStatusBoard(&bytes.Buffer{}, "gw")
	for _, rtt := range []time.Duration{1, 2, 3, 4} {
		b.AddSample(Sample{Alive: true, RTT: rtt * time.Millisecond})
	}
	b.AddSample(Sample{Alive: false})

	alive, p50, p95 := b.summary()
	if alive != 80 {
		t.Errorf("alive = %v, want 80", alive)
	}
	if p50 != 2*time.Millisecond {
		t.Errorf("p50 = %v, want 2ms", p50)
	}
	if p95 != 3*time.Millisecond {
		t.Errorf("p95 = %v, want 3ms", p95)
	}
}

func TestStatusBoard_WindowBounded(t *testing.T) {
	b := NewStatusBoard(&bytes.Buffer{}, "gw")
	for i := 0; i < b.maxSamples+5; i++ {
		b.AddSample(Sample{Alive: true, RTT: time.Duration(i+1) * time.Millisecond})
	}
	if len(b.samples) != b.maxSamples {
		t.Errorf("samples = %d, want %d", len(b.samples), b.maxSamples)
	}
	if b.samples[0].RTT != 6*time.Millisecond {
		t.Errorf("oldest sample RTT = %v, want 6ms", b.samples[0].RTT)
	}
}

func TestStatusBoard_LostStatus(t *testing.T) {
	var buf bytes.Buffer
	b := NewStatusBoard(&buf, "gw")
	b.SetStatus(Status{Connected: false, LostSince: time.Now().Add(-time.Minute), Campaigns: 2})
	b.Render()

	out := buf.String()
	if !strings.Contains(out, "LOST 1m0s") {
		t.Errorf("output missing lost duration:\n%s", out)
	}
	if !strings.Contains(out, "Campaigns: 2") {
		t.Errorf("output missing campaign count:\n%s", out)
	}
}

func TestRttToHeight(t *testing.T) {
	tests := []struct {
		rtt, max time.Duration
		want     int
	}{
		{0, time.Millisecond, 1},
		{time.Millisecond, time.Millisecond, 8},
		{time.Millisecond / 2, time.Millisecond, 4},
		{2 * time.Millisecond, time.Millisecond, 8},
	}
	for _, tt := range tests {
		if got := rttToHeight(tt.rtt, tt.max, 8); got != tt.want {
			t.Errorf("rttToHeight(%v, %v) = %d, want %d", tt.rtt, tt.max, got, tt.want)
		}
	}
}
