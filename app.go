package main

import (
	"fmt"
	"sync"
	"time"

	"speakscore/audio"
	"speakscore/beep"
	"speakscore/config"
	"speakscore/encoder"
	"speakscore/metrics"
	"speakscore/predict"
	"speakscore/recorder"
	"speakscore/submission"
	"speakscore/upload"

	"github.com/jonboulle/clockwork"
)

// app holds what both screens share and builds a fresh flow each time one
// is entered.
type app struct {
	cfg       config.Config
	audio     audio.Context
	device    *audio.DeviceInfo
	predictor predict.Predictor
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	format    encoder.Format

	mu          sync.Mutex
	predictions int
}

func newApp(cfg config.Config, actx audio.Context, device *audio.DeviceInfo, p predict.Predictor, m *metrics.Metrics) (*app, error) {
	format, err := encoder.ParseFormat(cfg.Recorder.Format)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	return &app{
		cfg:       cfg,
		audio:     actx,
		device:    device,
		predictor: p,
		metrics:   m,
		clock:     clockwork.NewRealClock(),
		format:    format,
	}, nil
}

func (a *app) limits() upload.Limits {
	return upload.Limits{MaxBytes: a.cfg.Upload.MaxBytes, AllowedTypes: a.cfg.Upload.AllowedTypes}
}

// newRecordFlow acquires the microphone for one visit to the record screen.
// levels must not block.
func (a *app) newRecordFlow(onChange func(), levels func(float64)) *recorder.Flow {
	actx := a.audio
	if actx == nil {
		actx = noAudio{}
	}
	opts := []recorder.Option{recorder.WithClock(a.clock), recorder.WithObserver(a)}
	if levels != nil {
		opts = append(opts, recorder.WithLevels(levels))
	}
	session := recorder.NewSession(actx, recorder.Config{
		Device:      a.device,
		SampleRate:  a.cfg.Recorder.SampleRate,
		Format:      a.format,
		ArtifactDir: a.cfg.Recorder.ArtifactDir,
	}, opts...)
	return recorder.NewFlow(session, a.predictor, recorder.FlowConfig{
		Limits:     a.limits(),
		Rejections: a.metrics,
		Observer:   a,
		OnChange:   onChange,
	})
}

func (a *app) newUploadFlow(onChange func()) *upload.Flow {
	return upload.NewFlow(a.predictor,
		upload.WithLimits(a.limits()),
		upload.WithClock(a.clock),
		upload.WithCelebration(a.cfg.Celebration()),
		upload.WithOnChange(onChange),
		upload.WithRejectionObserver(a.metrics),
		upload.WithSubmissionObserver(a),
	)
}

func (a *app) RecordingStarted() {
	a.metrics.RecordingStarted()
	beep.Play(beep.Start)
}

func (a *app) RecordingStopped(seconds float64) {
	a.metrics.RecordingStopped(seconds)
	beep.Play(beep.Stop)
}

func (a *app) SubmissionFinished(flow, outcome string, d time.Duration) {
	a.metrics.SubmissionFinished(flow, outcome, d)
	switch outcome {
	case submission.OutcomeSuccess:
		a.mu.Lock()
		a.predictions++
		a.mu.Unlock()
		beep.Play(beep.Success)
	case submission.OutcomeServer, submission.OutcomeTransport:
		beep.Play(beep.Error)
	}
}

// Predictions counts successful submissions in this run.
func (a *app) Predictions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.predictions
}

// noAudio stands in when no audio backend could be opened, so the record
// screen reports the device as unavailable instead of crashing.
type noAudio struct{ err error }

func (n noAudio) fail() error {
	if n.err != nil {
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, n.err)
	}
	return audio.ErrDeviceUnavailable
}

func (n noAudio) Devices() ([]audio.DeviceInfo, error) { return nil, n.fail() }

func (n noAudio) NewCapture(*audio.DeviceInfo, audio.CaptureConfig) (audio.CaptureDevice, error) {
	return nil, n.fail()
}

func (noAudio) Close() {}
