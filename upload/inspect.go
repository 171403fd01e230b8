package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"speakscore/audio"

	"github.com/gabriel-vasile/mimetype"
)

// FileInfo describes a candidate audio file. MIMEType is sniffed from the
// content, not taken from the extension.
type FileInfo struct {
	Path     string
	Name     string
	Size     int64
	MIMEType string
	Duration time.Duration // zero when unknown

	mime *mimetype.MIME
}

// Is reports whether the file's type is t or an alias of it.
func (f FileInfo) Is(t string) bool {
	if f.mime != nil {
		return f.mime.Is(t)
	}
	return mimetype.EqualsAny(f.MIMEType, t)
}

// Inspector stats and reads candidate files.
type Inspector interface {
	Inspect(path string) (FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

type FSInspector struct{}

func (FSInspector) Inspect(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	if st.IsDir() {
		return FileInfo{}, fmt.Errorf("%s is a directory", path)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("detecting type of %s: %w", path, err)
	}
	info := FileInfo{
		Path:     path,
		Name:     filepath.Base(path),
		Size:     st.Size(),
		MIMEType: mtype.String(),
		mime:     mtype,
	}
	if mtype.Is("audio/wav") {
		if wi, err := audio.ProbeWAVFile(path); err == nil {
			info.Duration = wi.Duration
		}
	}
	return info, nil
}

func (FSInspector) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
