package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"speakscore/predict"
	"speakscore/submission"

	"github.com/jonboulle/clockwork"
)

// View is what the upload screen renders.
type View struct {
	File        *FileInfo
	Message     string
	Status      submission.Status
	Result      *predict.Result
	Celebrating bool
}

// Flow is the pick-validate-submit screen. The last accepted file stays
// selected until another one is accepted.
type Flow struct {
	inspector   Inspector
	limits      Limits
	rejections  RejectionObserver
	clock       clockwork.Clock
	celebration time.Duration
	onChange    func()
	pipeline    *submission.Pipeline

	mu          sync.Mutex
	file        *FileInfo
	message     string
	celebrating bool
	timer       clockwork.Timer
}

type FlowOption func(*flowConfig)

type flowConfig struct {
	inspector   Inspector
	limits      Limits
	rejections  RejectionObserver
	observer    submission.Observer
	clock       clockwork.Clock
	celebration time.Duration
	onChange    func()
}

func WithInspector(in Inspector) FlowOption { return func(c *flowConfig) { c.inspector = in } }

func WithLimits(l Limits) FlowOption { return func(c *flowConfig) { c.limits = l } }

func WithClock(clk clockwork.Clock) FlowOption { return func(c *flowConfig) { c.clock = clk } }

func WithCelebration(d time.Duration) FlowOption { return func(c *flowConfig) { c.celebration = d } }

func WithOnChange(fn func()) FlowOption { return func(c *flowConfig) { c.onChange = fn } }

func WithRejectionObserver(o RejectionObserver) FlowOption {
	return func(c *flowConfig) { c.rejections = o }
}

func WithSubmissionObserver(o submission.Observer) FlowOption {
	return func(c *flowConfig) { c.observer = o }
}

func NewFlow(predictor predict.Predictor, opts ...FlowOption) *Flow {
	cfg := flowConfig{
		inspector:   FSInspector{},
		limits:      DefaultLimits(),
		clock:       clockwork.NewRealClock(),
		celebration: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &Flow{
		inspector:   cfg.inspector,
		limits:      cfg.limits,
		rejections:  cfg.rejections,
		clock:       cfg.clock,
		celebration: cfg.celebration,
		onChange:    cfg.onChange,
	}
	popts := []submission.Option{
		submission.WithClock(cfg.clock),
		submission.WithOnChange(f.submissionChanged),
	}
	if cfg.observer != nil {
		popts = append(popts, submission.WithObserver(cfg.observer))
	}
	f.pipeline = submission.New(predictor, "upload", popts...)
	return f
}

// Select runs the validation gate on path. A rejected file leaves the
// previous selection in place.
func (f *Flow) Select(path string) error {
	info, payload, err := Load(f.inspector, path, f.limits, f.rejections)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			f.message = ve.Message()
		}
		return err
	}
	f.file = &info
	f.message = MsgReady
	f.stopCelebration()
	f.pipeline.SetPayload(payload)
	return nil
}

// Submit sends the selected file. Without one it only sets the message.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		f.message = submission.MsgNoFile
		return submission.ErrNoPayload
	}
	if err := f.pipeline.Submit(ctx); err != nil {
		return err
	}
	f.message = ""
	f.stopCelebration()
	return nil
}

func (f *Flow) submissionChanged() {
	f.mu.Lock()
	s := f.pipeline.Snapshot()
	switch s.Status {
	case submission.Succeeded:
		f.message = s.Message
		f.startCelebration()
	case submission.Failed:
		f.message = s.Message
	}
	f.mu.Unlock()
	f.notify()
}

func (f *Flow) startCelebration() {
	f.stopCelebration()
	if f.celebration <= 0 {
		return
	}
	f.celebrating = true
	var timer clockwork.Timer
	timer = f.clock.AfterFunc(f.celebration, func() {
		f.mu.Lock()
		if f.timer != timer {
			f.mu.Unlock()
			return
		}
		f.celebrating = false
		f.timer = nil
		f.mu.Unlock()
		f.notify()
	})
	f.timer = timer
}

func (f *Flow) stopCelebration() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.celebrating = false
}

func (f *Flow) notify() {
	if f.onChange != nil {
		f.onChange()
	}
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.pipeline.Snapshot()
	v := View{
		Message:     f.message,
		Status:      s.Status,
		Result:      s.Result,
		Celebrating: f.celebrating,
	}
	if f.file != nil {
		file := *f.file
		v.File = &file
	}
	return v
}

// Wait blocks until the in-flight submission, if any, has finished.
func (f *Flow) Wait(ctx context.Context) error {
	return f.pipeline.Wait(ctx)
}

func (f *Flow) Pipeline() *submission.Pipeline { return f.pipeline }
