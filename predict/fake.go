package predict

import (
	"context"
	"sync"
)

// Fake returns a fixed result or error. With Gate set, each call blocks
// until a value is received from Gate or ctx is done.
type Fake struct {
	Result Result
	Err    error
	Gate   chan struct{}

	mu       sync.Mutex
	payloads []Payload
}

func NewFake(label, transcription string, err error) *Fake {
	return &Fake{Result: Result{Label: label, Transcription: transcription, StatusCode: 200}, Err: err}
}

func (f *Fake) Predict(ctx context.Context, p Payload) (*Result, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, &TransportError{Err: ctx.Err()}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	r := f.Result
	r.Metrics = &NetworkMetrics{}
	return &r, nil
}

// Payloads returns every payload received so far.
func (f *Fake) Payloads() []Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Payload(nil), f.payloads...)
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}
