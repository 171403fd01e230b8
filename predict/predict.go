// Package predict talks to the proficiency scoring endpoint.
package predict

import (
	"context"
	"time"
)

// KnownLabels are the scores the service is trained to return, lowest first.
var KnownLabels = []string{"A2", "B1", "B2", "C"}

func IsKnownLabel(label string) bool {
	for _, l := range KnownLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Payload is one audio file to score.
type Payload struct {
	Name        string // file name sent in the multipart part
	ContentType string
	Data        []byte
}

type Result struct {
	Label         string
	Transcription string
	StatusCode    int
	RequestID     string
	Metrics       *NetworkMetrics
}

// Predictor scores one payload per call. Implementations never retry.
type Predictor interface {
	Predict(ctx context.Context, p Payload) (*Result, error)
}

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}
