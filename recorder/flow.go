package recorder

import (
	"context"
	"errors"
	"sync"

	"speakscore/predict"
	"speakscore/submission"
	"speakscore/upload"
)

type Source int

const (
	SourceNone Source = iota
	SourceRecording
	SourceFile
)

// FlowView is what the record screen renders.
type FlowView struct {
	Session  Snapshot
	Attached *upload.FileInfo
	Source   Source
	Message  string
	Status   submission.Status
	Result   *predict.Result
}

// Flow pairs a Session with a submission pipeline. The payload is whichever
// was produced last: the stopped recording or an attached file that passed
// the upload validation gate.
type Flow struct {
	session    *Session
	pipeline   *submission.Pipeline
	inspector  upload.Inspector
	limits     upload.Limits
	rejections upload.RejectionObserver
	onChange   func()

	mu       sync.Mutex
	attached *upload.FileInfo
	source   Source
	message  string
}

type FlowConfig struct {
	Inspector  upload.Inspector
	Limits     upload.Limits
	Rejections upload.RejectionObserver
	Observer   submission.Observer
	OnChange   func()
}

func NewFlow(session *Session, predictor predict.Predictor, cfg FlowConfig) *Flow {
	if cfg.Inspector == nil {
		cfg.Inspector = upload.FSInspector{}
	}
	if cfg.Limits.MaxBytes == 0 {
		cfg.Limits = upload.DefaultLimits()
	}
	f := &Flow{
		session:    session,
		inspector:  cfg.Inspector,
		limits:     cfg.Limits,
		rejections: cfg.Rejections,
		onChange:   cfg.OnChange,
	}
	opts := []submission.Option{submission.WithOnChange(f.submissionChanged)}
	if cfg.Observer != nil {
		opts = append(opts, submission.WithObserver(cfg.Observer))
	}
	f.pipeline = submission.New(predictor, "record", opts...)
	return f
}

func (f *Flow) Session() *Session { return f.session }

func (f *Flow) Pipeline() *submission.Pipeline { return f.pipeline }

// Start begins a new recording and forgets the previous payload and result.
func (f *Flow) Start() bool {
	if !f.session.Start() {
		return false
	}
	f.mu.Lock()
	f.pipeline.Clear()
	f.attached = nil
	f.source = SourceNone
	f.message = ""
	f.mu.Unlock()
	return true
}

func (f *Flow) Pause() bool { return f.session.Pause() }

func (f *Flow) Resume() bool { return f.session.Resume() }

// Stop finalizes the recording and makes it the payload.
func (f *Flow) Stop() bool {
	if !f.session.Stop() {
		return false
	}
	snap := f.session.Snapshot()

	f.mu.Lock()
	defer f.mu.Unlock()
	if snap.Artifact == nil {
		f.message = "Could not save the recording."
		return true
	}
	payload, err := snap.Artifact.Payload()
	if err != nil {
		f.message = "Could not save the recording."
		return true
	}
	f.pipeline.SetPayload(payload)
	f.attached = nil
	f.source = SourceRecording
	f.message = ""
	return true
}

// Delete discards the recording. An attached file stays the payload. The
// last result stays on screen and a submission in flight still lands.
func (f *Flow) Delete() bool {
	f.session.Delete()
	f.mu.Lock()
	if f.source == SourceRecording {
		f.pipeline.DropPayload()
		f.source = SourceNone
	}
	f.mu.Unlock()
	return true
}

// Attach validates path with the upload gate and makes it the payload.
func (f *Flow) Attach(path string) error {
	info, payload, err := upload.Load(f.inspector, path, f.limits, f.rejections)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		var ve *upload.ValidationError
		if errors.As(err, &ve) {
			f.message = ve.Message()
		}
		return err
	}
	f.attached = &info
	f.source = SourceFile
	f.message = upload.MsgReady
	f.pipeline.SetPayload(payload)
	return nil
}

// Submit sends the current payload. Without one it does nothing.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pipeline.Submit(ctx); err != nil {
		return err
	}
	f.message = ""
	return nil
}

func (f *Flow) submissionChanged() {
	f.mu.Lock()
	s := f.pipeline.Snapshot()
	if s.Status == submission.Succeeded || s.Status == submission.Failed {
		f.message = s.Message
	}
	f.mu.Unlock()
	if f.onChange != nil {
		f.onChange()
	}
}

// CanSubmit reports whether a payload exists and nothing is in flight.
func (f *Flow) CanSubmit() bool {
	s := f.pipeline.Snapshot()
	return s.HasPayload && s.Status != submission.Submitting
}

func (f *Flow) View() FlowView {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.pipeline.Snapshot()
	v := FlowView{
		Session: f.session.Snapshot(),
		Source:  f.source,
		Message: f.message,
		Status:  ps.Status,
		Result:  ps.Result,
	}
	if f.attached != nil {
		a := *f.attached
		v.Attached = &a
	}
	return v
}

func (f *Flow) Wait(ctx context.Context) error {
	return f.pipeline.Wait(ctx)
}

// Close releases the microphone.
func (f *Flow) Close() {
	f.session.Close()
}
