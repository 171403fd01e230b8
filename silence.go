package main

import "time"

const (
	silenceWarnAfter = 5 * time.Second
	speechLevel      = 0.01 // RMS above this counts as voice
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
)

// silenceMonitor watches a sliding window of per-tick voice flags and warns
// once when the speech ratio stays below speechMinRatio for a whole window.
type silenceMonitor struct {
	windowSz int
	ticks    int
	window   []bool
	warned   bool
}

func newSilenceMonitor(interval time.Duration) *silenceMonitor {
	n := max(int(silenceWarnAfter/interval), 1)
	return &silenceMonitor{windowSz: n, window: make([]bool, n)}
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, m.windowSz)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	m.window[m.ticks%m.windowSz] = hasSpeech
	m.ticks++

	r := m.ratio()
	if m.ticks >= m.windowSz && r < speechMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}

func (m *silenceMonitor) Warned() bool { return m.warned }

func (m *silenceMonitor) Reset() {
	m.ticks = 0
	m.warned = false
	clear(m.window)
}
