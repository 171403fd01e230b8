package main

import (
	"testing"
	"time"
)

// 100ms ticks give a 50-tick window.
func newTestMonitor() *silenceMonitor {
	return newSilenceMonitor(100 * time.Millisecond)
}

func feedN(m *silenceMonitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfterWindow(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < 49; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick 50, got %d", ev)
	}
	if !m.Warned() {
		t.Error("Warned() = false after warning")
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := newTestMonitor()
	feedN(m, false, 50)

	for i := 0; i < 50; i++ {
		if m.Tick(true) == SilenceWarnClear {
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < 200; i++ {
		if ev := m.Tick(true); ev == SilenceWarn {
			t.Fatalf("unexpected warn during speech at tick %d", i)
		}
	}
}

func TestWarnOnlyOnce(t *testing.T) {
	m := newTestMonitor()
	warns := 0
	for i := 0; i < 300; i++ {
		if m.Tick(false) == SilenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 SilenceWarn, got %d", warns)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := newTestMonitor()
	feedN(m, false, 50)

	for i := 0; i < 50; i++ {
		speech := i%10 == 0 // below the clear threshold
		if m.Tick(speech) == SilenceWarnClear {
			t.Fatalf("warning cleared by sparse noise at tick %d", i)
		}
	}
}

func TestSilenceReset(t *testing.T) {
	m := newTestMonitor()
	feedN(m, false, 50)
	m.Reset()
	if m.Warned() {
		t.Fatal("still warned after Reset")
	}
	if ev := feedN(m, false, 49); ev != SilenceNone {
		t.Errorf("warned early after Reset: %d", ev)
	}
}
