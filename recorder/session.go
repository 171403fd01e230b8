// Package recorder owns the microphone for one screen and turns captured
// fragments into an encoded artifact.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"speakscore/audio"
	"speakscore/encoder"
	"speakscore/log"

	"github.com/jonboulle/clockwork"
)

type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Observer is told when recordings begin and end.
type Observer interface {
	RecordingStarted()
	RecordingStopped(seconds float64)
}

type Config struct {
	Device      *audio.DeviceInfo
	SampleRate  int
	Format      encoder.Format
	ArtifactDir string
}

type Snapshot struct {
	State    State
	Elapsed  int // whole seconds spent in Recording
	Chunks   int
	Artifact *Artifact
	Ready    bool
	Err      error // acquisition or finalization failure
	Device   string
}

// Session is the recording state machine. Transitions are serialized by
// opMu; mu guards the fields shared with the capture callback and the
// elapsed ticker. Device and ticker teardown happen with mu released.
type Session struct {
	cfg      Config
	clock    clockwork.Clock
	levels   func(float64)
	observer Observer

	opMu     sync.Mutex
	ticker   clockwork.Ticker
	tickStop chan struct{}
	tickDone chan struct{}

	ready chan struct{}

	mu       sync.Mutex
	capture  audio.CaptureDevice
	err      error
	closed   bool
	state    State
	chunks   [][]byte
	elapsed  int
	artifact *Artifact
}

type Option func(*Session)

func WithClock(c clockwork.Clock) Option { return func(s *Session) { s.clock = c } }

// WithLevels receives the RMS level of every captured fragment. It runs on
// the capture goroutine and must not block.
func WithLevels(fn func(float64)) Option { return func(s *Session) { s.levels = fn } }

func WithObserver(o Observer) Option { return func(s *Session) { s.observer = o } }

// NewSession starts acquiring a capture device from actx in the background.
// Start is a no-op until Ready is closed without error.
func NewSession(actx audio.Context, cfg Config, opts ...Option) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.Format == "" {
		cfg.Format = encoder.WAV
	}
	s := &Session{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.acquire(actx)
	return s
}

func (s *Session) acquire(actx audio.Context) {
	defer close(s.ready)

	capCfg := audio.CaptureConfig{SampleRate: uint32(s.cfg.SampleRate), Channels: audio.Channels}
	dev, err := actx.NewCapture(s.cfg.Device, capCfg)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
		log.DeviceUnavailable(err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return
	}
	dev.SetCallback(s.onData)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		dev.ClearCallback()
		dev.Close()
		return
	}
	s.capture = dev
	s.mu.Unlock()
	log.Infof("capture device ready: %s", dev.DeviceName())
}

// Ready is closed once acquisition has finished, successfully or not.
func (s *Session) Ready() <-chan struct{} { return s.ready }

func (s *Session) onData(data []byte, _ uint32) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.chunks = append(s.chunks, append([]byte(nil), data...))
	s.mu.Unlock()

	if s.levels != nil {
		s.levels(audio.Level(data))
	}
}

// Start begins a new recording from Idle or Stopped.
func (s *Session) Start() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.capture == nil || s.closed || (s.state != Idle && s.state != Stopped) {
		s.mu.Unlock()
		return false
	}
	old := s.artifact
	s.artifact = nil
	s.chunks = nil
	s.elapsed = 0
	s.err = nil
	s.state = Recording
	dev := s.capture
	s.mu.Unlock()

	old.remove()

	if err := dev.Start(); err != nil {
		s.mu.Lock()
		s.state = Idle
		s.err = fmt.Errorf("starting capture: %w", err)
		s.mu.Unlock()
		log.Errorf("starting capture: %v", err)
		return false
	}
	s.startTicker()

	log.Recording("start", 0, 0)
	if s.observer != nil {
		s.observer.RecordingStarted()
	}
	return true
}

// Pause suspends capture and the elapsed counter. Only valid while Recording.
func (s *Session) Pause() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return false
	}
	s.state = Paused
	dev := s.capture
	elapsed, chunks := s.elapsed, len(s.chunks)
	s.mu.Unlock()

	dev.Stop()
	s.stopTicker()
	log.Recording("pause", elapsed, chunks)
	return true
}

// Resume continues a paused recording from the held elapsed value.
func (s *Session) Resume() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != Paused {
		s.mu.Unlock()
		return false
	}
	s.state = Recording
	dev := s.capture
	elapsed, chunks := s.elapsed, len(s.chunks)
	s.mu.Unlock()

	if err := dev.Start(); err != nil {
		s.mu.Lock()
		s.state = Paused
		s.mu.Unlock()
		log.Errorf("resuming capture: %v", err)
		return false
	}
	s.startTicker()
	log.Recording("resume", elapsed, chunks)
	return true
}

// Stop finalizes the recording into an artifact. The returned bool reports
// whether the transition applied; a failed encode leaves the session
// Stopped without an artifact and the error in Snapshot.Err.
func (s *Session) Stop() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != Recording && s.state != Paused {
		s.mu.Unlock()
		return false
	}
	wasRecording := s.state == Recording
	s.state = Stopped
	dev := s.capture
	chunks := s.chunks
	elapsed := s.elapsed
	s.mu.Unlock()

	if wasRecording {
		dev.Stop()
		s.stopTicker()
	}

	art, err := writeArtifact(s.cfg.ArtifactDir, s.cfg.Format, s.cfg.SampleRate, chunks)

	s.mu.Lock()
	if err != nil {
		s.err = err
	} else {
		s.artifact = art
	}
	s.mu.Unlock()

	if err != nil {
		log.Errorf("finalizing recording: %v", err)
	} else {
		log.Recording("stop", elapsed, len(chunks))
		log.Infof("artifact %s: %d bytes, %.1fs", art.Path, art.Size, art.Duration.Seconds())
	}
	if s.observer != nil {
		s.observer.RecordingStopped(float64(elapsed))
	}
	return true
}

// Delete resets to Idle from any state and removes the artifact file.
func (s *Session) Delete() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reset()
	log.Recording("delete", 0, 0)
	return true
}

func (s *Session) reset() {
	s.mu.Lock()
	wasRecording := s.state == Recording
	s.state = Idle
	s.chunks = nil
	s.elapsed = 0
	art := s.artifact
	s.artifact = nil
	dev := s.capture
	s.mu.Unlock()

	if wasRecording {
		dev.Stop()
		s.stopTicker()
	}
	art.remove()
}

// Close resets the session and releases the capture device regardless of
// state. A pending acquisition releases its device when it completes.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reset()

	s.mu.Lock()
	s.closed = true
	dev := s.capture
	s.capture = nil
	s.mu.Unlock()

	if dev != nil {
		dev.ClearCallback()
		dev.Close()
	}
}

func (s *Session) startTicker() {
	s.ticker = s.clock.NewTicker(time.Second)
	s.tickStop = make(chan struct{})
	s.tickDone = make(chan struct{})
	go s.tick(s.ticker, s.tickStop, s.tickDone)
}

func (s *Session) tick(t clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.Chan():
			s.mu.Lock()
			if s.state == Recording {
				s.elapsed++
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) stopTicker() {
	if s.tickStop == nil {
		return
	}
	close(s.tickStop)
	<-s.tickDone
	s.ticker, s.tickStop, s.tickDone = nil, nil, nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:   s.state,
		Elapsed: s.elapsed,
		Chunks:  len(s.chunks),
		Ready:   s.capture != nil,
		Err:     s.err,
	}
	if s.artifact != nil {
		a := *s.artifact
		snap.Artifact = &a
	}
	if s.capture != nil {
		snap.Device = s.capture.DeviceName()
	}
	return snap
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// FormatElapsed renders seconds as m:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
