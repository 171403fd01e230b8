package main

import (
	"strings"
	"sync"
)

const meterSize = 32

var levelBars = []rune("▁▂▃▄▅▆▇█")

// levelMeter keeps the most recent fragment levels for the waveform strip.
// push runs on the capture goroutine.
type levelMeter struct {
	mu     sync.Mutex
	levels [meterSize]float64
	next   int
	filled int
}

func (m *levelMeter) push(l float64) {
	m.mu.Lock()
	m.levels[m.next] = l
	m.next = (m.next + 1) % meterSize
	m.filled = min(m.filled+1, meterSize)
	m.mu.Unlock()
}

// snapshot returns the stored levels oldest first.
func (m *levelMeter) snapshot() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, 0, m.filled)
	start := (m.next - m.filled + meterSize) % meterSize
	for i := 0; i < m.filled; i++ {
		out = append(out, m.levels[(start+i)%meterSize])
	}
	return out
}

func (m *levelMeter) latest() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled == 0 {
		return 0
	}
	return m.levels[(m.next-1+meterSize)%meterSize]
}

func (m *levelMeter) reset() {
	m.mu.Lock()
	m.next, m.filled = 0, 0
	m.mu.Unlock()
}

// renderLevels draws one bar per level, padded on the left to width. Speech
// rarely exceeds 0.25 RMS so that maps to a full bar.
func renderLevels(levels []float64, width int) string {
	var b strings.Builder
	for i := len(levels); i < width; i++ {
		b.WriteRune(' ')
	}
	if len(levels) > width {
		levels = levels[len(levels)-width:]
	}
	for _, l := range levels {
		idx := int(l / 0.25 * float64(len(levelBars)-1))
		idx = max(0, min(idx, len(levelBars)-1))
		b.WriteRune(levelBars[idx])
	}
	return b.String()
}
