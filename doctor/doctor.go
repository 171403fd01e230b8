// Package doctor runs non-interactive diagnostics for the endpoint, the
// microphone and the clipboard.
package doctor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"speakscore/audio"
	"speakscore/clipboard"
	"speakscore/encoder"
	"speakscore/predict"
	"speakscore/recorder"
)

type Options struct {
	Out       io.Writer
	Audio     audio.Context // nil skips the microphone check
	Device    *audio.DeviceInfo
	Predictor predict.Predictor
	Endpoint  string
	RecordFor time.Duration
	// ArtifactDir holds the probe recording while it is checked.
	ArtifactDir string
	Clipboard   bool
}

// silenceLevel is the RMS below which a recording is reported as silent.
const silenceLevel = 0.002

// checker carries the microphone recording over to the endpoint check.
type checker struct {
	Options
	probe *predict.Payload
}

// Run executes every check and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, opts Options) int {
	if opts.RecordFor <= 0 {
		opts.RecordFor = 3 * time.Second
	}
	out := opts.Out
	fmt.Fprintln(out, "speakscore doctor")
	fmt.Fprintln(out, "=================")

	c := &checker{Options: opts}
	checks := []struct {
		name string
		run  func(context.Context) bool
	}{
		{"Microphone", c.checkMicrophone},
		{"Scoring endpoint", c.checkEndpoint},
		{"Clipboard", c.checkClipboard},
	}

	allPass := true
	for i, check := range checks {
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(checks), check.name)
		if !check.run(ctx) {
			allPass = false
		}
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func (c *checker) checkEndpoint(ctx context.Context) bool {
	out := c.Out
	if c.Predictor == nil {
		fmt.Fprintln(out, "  SKIP: no endpoint configured")
		return true
	}

	var payload predict.Payload
	if c.probe != nil {
		payload = *c.probe
		fmt.Fprintf(out, "  POST %s with the microphone recording\n", c.Endpoint)
	} else {
		var err error
		if payload, err = silentWAV(time.Second); err != nil {
			fmt.Fprintf(out, "  FAIL: building probe audio: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "  POST %s with 1s of silence\n", c.Endpoint)
	}
	start := time.Now()
	res, err := c.Predictor.Predict(ctx, payload)
	took := time.Since(start).Round(time.Millisecond)

	var se *predict.ServerError
	switch {
	case err == nil:
		label := res.Label
		if label == "" {
			label = "(empty)"
		}
		fmt.Fprintf(out, "  PASS: %d in %v, label %s\n", res.StatusCode, took, label)
		if res.Metrics != nil {
			m := res.Metrics
			fmt.Fprintf(out, "  dns %v  tcp %v  tls %v  ttfb %v\n", m.DNS, m.TCP, m.TLS, m.TTFB)
		}
		return true
	case errors.As(err, &se):
		// reachable; the model just refused the audio
		fmt.Fprintf(out, "  PASS: reachable, server answered %d in %v", se.StatusCode, took)
		if se.Message != "" {
			fmt.Fprintf(out, " (%s)", se.Message)
		}
		fmt.Fprintln(out)
		return true
	default:
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}
}

func silentWAV(d time.Duration) (predict.Payload, error) {
	var buf seekBuffer
	enc := encoder.NewWav(&buf, encoder.SampleRate)
	n := int(d.Seconds() * encoder.SampleRate)
	if err := encoder.EncodeAll(enc, make([]int16, n)); err != nil {
		return predict.Payload{}, err
	}
	return predict.Payload{Name: "doctor.wav", ContentType: encoder.WAV.MIMEType(), Data: buf.Bytes()}, nil
}

func (c *checker) checkMicrophone(ctx context.Context) bool {
	opts := c.Options
	out := opts.Out
	if opts.Audio == nil {
		fmt.Fprintln(out, "  SKIP: audio unavailable")
		return true
	}

	var mu sync.Mutex
	var peak float64
	session := recorder.NewSession(opts.Audio, recorder.Config{Device: opts.Device, ArtifactDir: opts.ArtifactDir},
		recorder.WithLevels(func(l float64) {
			mu.Lock()
			peak = math.Max(peak, l)
			mu.Unlock()
		}))
	defer session.Close()

	select {
	case <-session.Ready():
	case <-ctx.Done():
		fmt.Fprintln(out, "  FAIL: interrupted")
		return false
	}
	if snap := session.Snapshot(); !snap.Ready {
		fmt.Fprintf(out, "  FAIL: %v\n", snap.Err)
		return false
	}

	fmt.Fprintf(out, "  Recording %v from %s, speak now", opts.RecordFor, session.Snapshot().Device)
	if !session.Start() {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  FAIL: could not start capture: %v\n", session.Snapshot().Err)
		return false
	}
	select {
	case <-time.After(opts.RecordFor):
	case <-ctx.Done():
	}
	session.Stop()
	fmt.Fprintln(out, " done")

	snap := session.Snapshot()
	if snap.Artifact == nil {
		fmt.Fprintf(out, "  FAIL: no recording: %v\n", snap.Err)
		return false
	}
	if snap.Artifact.Frames == 0 {
		fmt.Fprintln(out, "  FAIL: no audio captured")
		return false
	}
	mu.Lock()
	p := peak
	mu.Unlock()
	fmt.Fprintf(out, "  %.1fs captured, %.1f KB, peak level %.3f\n",
		snap.Artifact.Duration.Seconds(), float64(snap.Artifact.Size)/1024, p)
	if p < silenceLevel {
		fmt.Fprintln(out, "  FAIL: recording is silent, check the input device")
		return false
	}
	if p, err := snap.Artifact.Payload(); err == nil {
		c.probe = &p
	}
	fmt.Fprintln(out, "  PASS: microphone captured audio")
	return true
}

func (c *checker) checkClipboard(context.Context) bool {
	out := c.Out
	if !c.Clipboard || clipboard.Unsupported {
		fmt.Fprintln(out, "  SKIP: clipboard unavailable")
		return true
	}
	prev, _ := clipboard.Read()
	defer clipboard.Copy(prev)

	const sentinel = "speakscore-doctor-check"
	if err := clipboard.Copy(sentinel); err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: reading clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Fprintf(out, "  FAIL: read back %q, want %q\n", got, sentinel)
		return false
	}
	fmt.Fprintln(out, "  PASS: clipboard round trip")
	return true
}

// seekBuffer is an in-memory io.WriteSeeker for the WAV encoder.
type seekBuffer struct {
	buf bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	b := s.buf.Bytes()
	if s.pos < len(b) {
		n := copy(b[s.pos:], p)
		s.pos += n
		if n == len(p) {
			return n, nil
		}
		p = p[n:]
		m, err := s.buf.Write(p)
		s.pos += m
		return n + m, err
	}
	n, err := s.buf.Write(p)
	s.pos += n
	return n, err
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(s.buf.Len()) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 || abs > int64(s.buf.Len()) {
		return 0, errors.New("seekBuffer: position out of range")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte { return s.buf.Bytes() }
