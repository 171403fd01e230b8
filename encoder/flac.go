package encoder

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes fixed BlockSize frames, buffering input until a frame
// is full. Close flushes the short final frame.
type FlacEncoder struct {
	mu         sync.Mutex
	enc        *flac.Encoder
	sampleRate uint32
	pending    []int32
	accepted   uint64
	encodeTime time.Duration
}

// flac.Encoder closes any io.Closer it writes to. These wrappers keep the
// caller's file open and, for seekable targets, still let the encoder
// rewrite the stream info on Close.
type flacSink struct{ io.Writer }

type flacSeekSink struct{ io.WriteSeeker }

// NewFlac never closes w; the caller owns it.
func NewFlac(w io.Writer, sampleRate int) (*FlacEncoder, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	var sink io.Writer = flacSink{w}
	if ws, ok := w.(io.WriteSeeker); ok {
		sink = flacSeekSink{ws}
	}
	enc, err := flac.NewEncoder(sink, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &FlacEncoder{
		enc:        enc,
		sampleRate: uint32(sampleRate),
		pending:    make([]int32, 0, BlockSize),
	}, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range block {
		e.pending = append(e.pending, int32(s))
		if len(e.pending) == BlockSize {
			if err := e.flush(); err != nil {
				return err
			}
		}
	}
	e.accepted += uint64(len(block))
	return nil
}

func (e *FlacEncoder) flush() error {
	if len(e.pending) == 0 {
		return nil
	}
	samples := make([]int32, len(e.pending))
	copy(samples, e.pending)
	e.pending = e.pending[:0]

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(samples)),
			SampleRate:    e.sampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(samples),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	return nil
}

func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	err := e.flush()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("finalizing flac: %w", err)
	}
	return nil
}

func (e *FlacEncoder) Format() Format { return FLAC }

// TotalFrames counts samples accepted so far, flushed or not.
func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
