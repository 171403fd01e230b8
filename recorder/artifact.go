package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"speakscore/audio"
	"speakscore/encoder"
	"speakscore/predict"

	"github.com/google/uuid"
)

// Artifact is a finalized recording on disk.
type Artifact struct {
	Path      string
	Format    encoder.Format
	Size      int64
	Frames    uint64
	Duration  time.Duration
	EncodeDur time.Duration
}

// Payload reads the artifact for submission.
func (a *Artifact) Payload() (predict.Payload, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return predict.Payload{}, fmt.Errorf("reading artifact: %w", err)
	}
	return predict.Payload{
		Name:        filepath.Base(a.Path),
		ContentType: a.Format.MIMEType(),
		Data:        data,
	}, nil
}

func (a *Artifact) remove() {
	if a == nil {
		return
	}
	os.Remove(a.Path)
}

// writeArtifact concatenates chunks in order and encodes them into a new
// file under dir.
func writeArtifact(dir string, format encoder.Format, sampleRate int, chunks [][]byte) (*Artifact, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "speakscore")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	var total int
	for _, c := range chunks {
		total += len(c)
	}
	pcm := make([]byte, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	path := filepath.Join(dir, "recording-"+uuid.NewString()+format.Ext())
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating artifact: %w", err)
	}

	enc, err := encoder.New(format, f, sampleRate)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := encoder.EncodeAll(enc, audio.Samples(pcm)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing artifact: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	frames := enc.TotalFrames()
	return &Artifact{
		Path:      path,
		Format:    format,
		Size:      st.Size(),
		Frames:    frames,
		Duration:  time.Duration(frames) * time.Second / time.Duration(sampleRate),
		EncodeDur: enc.EncodeTime(),
	}, nil
}
