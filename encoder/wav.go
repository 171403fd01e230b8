package encoder

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

type WavEncoder struct {
	enc         *wav.Encoder
	format      *audio.Format
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewWav(w io.WriteSeeker, sampleRate int) *WavEncoder {
	return &WavEncoder{
		enc:    wav.NewEncoder(w, sampleRate, BitsPerSample, Channels, wavFormatPCM),
		format: &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
	}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	empty := e.totalFrames == 0
	e.mu.Unlock()
	// the header and data chunk are only written with the first buffer
	if empty {
		if err := e.enc.Write(&audio.IntBuffer{Format: e.format, SourceBitDepth: BitsPerSample}); err != nil {
			return fmt.Errorf("writing wav header: %w", err)
		}
	}
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return nil
}

func (e *WavEncoder) Format() Format { return WAV }

func (e *WavEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WavEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WavEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
