// Package beep plays short audible cues for recording and submission events.
package beep

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

type Cue int

const (
	Start Cue = iota
	Stop
	Error
	Success
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Disabled() bool { return disabled.Load() }

const (
	sampleRate = 44100

	// start: high, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// stop: a little lower
	stopFreq   = 900
	stopVolume = 0.5
	stopDecay  = 40

	// error: low double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	successVolume = 0.4
	successDecay  = 25
)

// successNotes is a rising major arpeggio.
var successNotes = []float64{660, 830, 990}

// samples returns the mono 16-bit waveform for a cue.
func samples(c Cue) []int16 {
	switch c {
	case Start:
		return tick(startFreq, 0.2, startVolume, startDecay)
	case Stop:
		return tick(stopFreq, 0.2, stopVolume, stopDecay)
	case Error:
		return doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
	case Success:
		var out []int16
		for _, f := range successNotes {
			out = append(out, tick(f, 0.09, successVolume, successDecay)...)
		}
		return out
	}
	return nil
}

func tick(freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return out
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	return append(out, b...)
}

func toBytes(s []int16) []byte {
	buf := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// Play starts c in the background. Playback failures are logged and
// otherwise ignored.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	go play(c)
}
