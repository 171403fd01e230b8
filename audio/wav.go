package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var ErrNotWAV = errors.New("not a valid wav file")

// WAVInfo describes a PCM WAV stream.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// ProbeWAV reads the header of a WAV stream and derives its duration from
// the size of the data chunk.
func ProbeWAV(r io.ReadSeeker) (WAVInfo, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return WAVInfo{}, ErrNotWAV
	}
	if err := d.FwdToPCM(); err != nil {
		return WAVInfo{}, fmt.Errorf("locating wav data chunk: %w", err)
	}
	info := WAVInfo{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	bytesPerSec := info.SampleRate * info.Channels * info.BitDepth / 8
	if bytesPerSec > 0 {
		info.Duration = time.Duration(d.PCMLen()) * time.Second / time.Duration(bytesPerSec)
	}
	return info, nil
}

func ProbeWAVFile(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()
	return ProbeWAV(f)
}

// ReadPCM decodes a 16-bit WAV file into little-endian PCM16 bytes. Multi
// channel input keeps only the first channel.
func ReadPCM(path string) ([]byte, WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	defer f.Close()

	info, err := ProbeWAV(f)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	if info.BitDepth != BitsPerSample {
		return nil, info, fmt.Errorf("%w: %d-bit samples, want %d", ErrNotWAV, info.BitDepth, BitsPerSample)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, info, err
	}
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		return nil, info, fmt.Errorf("decoding wav: %w", err)
	}

	step := max(info.Channels, 1)
	pcm := make([]byte, 0, len(buf.Data)/step*2)
	for i := 0; i < len(buf.Data); i += step {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(buf.Data[i])))
	}
	return pcm, info, nil
}
