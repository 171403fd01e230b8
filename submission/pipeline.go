// Package submission sends one audio payload at a time to a Predictor and
// tracks the outcome.
package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	"speakscore/log"
	"speakscore/predict"

	"github.com/jonboulle/clockwork"
)

const (
	MsgSuccess   = "Upload successful!"
	MsgFailed    = "Upload failed. Please try again."
	MsgTransport = "Error uploading file. Please try again."
	MsgNoFile    = "No audio file selected."
)

var (
	ErrNoPayload = errors.New("no audio payload to submit")
	ErrInFlight  = errors.New("submission already in flight")
)

type Status int

const (
	Idle Status = iota
	Submitting
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome labels used for metrics and logs.
const (
	OutcomeSuccess   = "success"
	OutcomeServer    = "server_error"
	OutcomeTransport = "transport_error"
	OutcomeStale     = "stale"
)

// Observer is told about every finished submission, stale ones included.
type Observer interface {
	SubmissionFinished(flow, outcome string, d time.Duration)
}

type Snapshot struct {
	Status      Status
	Result      *predict.Result
	Message     string
	HasPayload  bool
	PayloadName string
}

type Pipeline struct {
	predictor predict.Predictor
	flow      string
	clock     clockwork.Clock
	observer  Observer
	onChange  func()

	mu      sync.Mutex
	payload *predict.Payload
	status  Status
	result  *predict.Result
	message string
	gen     uint64
	done    chan struct{}
}

type Option func(*Pipeline)

func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

func WithObserver(o Observer) Option { return func(p *Pipeline) { p.observer = o } }

// WithOnChange registers a callback run after every asynchronous state change.
func WithOnChange(fn func()) Option { return func(p *Pipeline) { p.onChange = fn } }

// New returns an idle pipeline. flow names the producer ("upload" or
// "record") in logs and metrics.
func New(predictor predict.Predictor, flow string, opts ...Option) *Pipeline {
	p := &Pipeline{
		predictor: predictor,
		flow:      flow,
		clock:     clockwork.NewRealClock(),
		done:      closedChan(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// SetPayload replaces the payload and forgets any previous result. A
// submission still in flight becomes stale.
func (p *Pipeline) SetPayload(payload predict.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.payload = &payload
}

// Clear drops the payload and any result.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.payload = nil
}

// DropPayload forgets the payload only. The shown result and any submission
// in flight are kept.
func (p *Pipeline) DropPayload() {
	p.mu.Lock()
	p.payload = nil
	p.mu.Unlock()
}

func (p *Pipeline) reset() {
	p.gen++
	p.status = Idle
	p.result = nil
	p.message = ""
}

// Submit starts one request for the current payload and returns at once.
func (p *Pipeline) Submit(ctx context.Context) error {
	p.mu.Lock()
	if p.status == Submitting {
		p.mu.Unlock()
		return ErrInFlight
	}
	if p.payload == nil {
		p.mu.Unlock()
		return ErrNoPayload
	}
	payload := *p.payload
	p.status = Submitting
	p.result = nil
	p.message = ""
	gen := p.gen
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, payload, gen, done)
	return nil
}

func (p *Pipeline) run(ctx context.Context, payload predict.Payload, gen uint64, done chan struct{}) {
	defer close(done)
	start := p.clock.Now()
	res, err := p.predictor.Predict(ctx, payload)
	elapsed := p.clock.Since(start)

	outcome, message := classify(err)

	p.mu.Lock()
	stale := gen != p.gen
	if stale {
		outcome = OutcomeStale
	} else if err != nil {
		p.status = Failed
		p.message = message
	} else {
		p.status = Succeeded
		p.result = res
		p.message = MsgSuccess
	}
	p.mu.Unlock()

	p.record(payload, res, err, outcome, elapsed)
	if p.observer != nil {
		p.observer.SubmissionFinished(p.flow, outcome, elapsed)
	}
	if !stale && p.onChange != nil {
		p.onChange()
	}
}

func classify(err error) (outcome, message string) {
	if err == nil {
		return OutcomeSuccess, MsgSuccess
	}
	var se *predict.ServerError
	if errors.As(err, &se) {
		if se.Message != "" {
			return OutcomeServer, se.Message
		}
		return OutcomeServer, MsgFailed
	}
	return OutcomeTransport, MsgTransport
}

func (p *Pipeline) record(payload predict.Payload, res *predict.Result, err error, outcome string, elapsed time.Duration) {
	switch {
	case outcome == OutcomeStale:
		log.Infof("discarded stale %s prediction for %s", p.flow, payload.Name)
	case err != nil:
		status := 0
		var se *predict.ServerError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		log.PredictionFailed(p.flow, outcome, status, err.Error())
	default:
		m := log.PredictionMetrics{
			Flow:        p.flow,
			Label:       res.Label,
			StatusCode:  res.StatusCode,
			PayloadKB:   float64(len(payload.Data)) / 1024,
			TotalTimeMs: float64(elapsed) / float64(time.Millisecond),
		}
		if nm := res.Metrics; nm != nil {
			m.DNSTimeMs = float64(nm.DNS) / float64(time.Millisecond)
			m.ConnTimeMs = float64(nm.TCP) / float64(time.Millisecond)
			m.TLSTimeMs = float64(nm.TLS) / float64(time.Millisecond)
			m.TTFBMs = float64(nm.TTFB) / float64(time.Millisecond)
			m.ConnReused = nm.ConnReused
		}
		log.Prediction(m)
		log.PredictionText(res.Label, res.Transcription)
	}
}

// Done returns a channel closed once no submission is in flight.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the in-flight submission finishes or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Status:     p.status,
		Message:    p.message,
		HasPayload: p.payload != nil,
	}
	if p.payload != nil {
		s.PayloadName = p.payload.Name
	}
	if p.result != nil {
		r := *p.result
		s.Result = &r
	}
	return s
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) Flow() string { return p.flow }
