package encoder

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Format names an artifact container.
type Format string

const (
	WAV  Format = "wav"
	FLAC Format = "flac"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case WAV, "":
		return WAV, nil
	case FLAC:
		return FLAC, nil
	}
	return "", fmt.Errorf("unknown artifact format %q (want wav or flac)", s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

func (f Format) MIMEType() string {
	if f == FLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

// Encoder turns PCM16 mono blocks into a finished audio container.
// Close must be called once after the last block.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Format() Format
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// New returns an encoder for format writing to w. The WAV header and the
// FLAC stream info are finalized through w's Seek on Close.
func New(format Format, w io.WriteSeeker, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	switch format {
	case WAV, "":
		return NewWav(w, sampleRate), nil
	case FLAC:
		return NewFlac(w, sampleRate)
	}
	return nil, fmt.Errorf("unknown artifact format %q", format)
}

// EncodeAll feeds samples to enc in BlockSize chunks and closes it.
func EncodeAll(enc Encoder, samples []int16) error {
	start := time.Now()
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return fmt.Errorf("encoding block at %d: %w", i, err)
		}
	}
	enc.AddEncodeTime(time.Since(start))
	return enc.Close()
}
