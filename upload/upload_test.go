package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"speakscore/encoder"
	"speakscore/predict"
	"speakscore/submission"

	"github.com/jonboulle/clockwork"
)

func writeWAVFile(t *testing.T, dir string, samples int) string {
	t.Helper()
	path := filepath.Join(dir, "speech.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := encoder.NewWav(f, encoder.SampleRate)
	if err := encoder.EncodeAll(enc, make([]int16, samples)); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func writeSparse(t *testing.T, dir, name string, header []byte, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(header); err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return path
}

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	id3Header = []byte("ID3\x03\x00\x00\x00\x00\x00\x00")
)

type countingRejections struct {
	mu      sync.Mutex
	reasons []string
}

func (c *countingRejections) ValidationRejected(reason string) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestValidate(t *testing.T) {
	limits := DefaultLimits()
	tests := []struct {
		name string
		info FileInfo
		want Reason
	}{
		{"wav ok", FileInfo{MIMEType: "audio/wav", Size: 5 << 20}, ""},
		{"mpeg at limit", FileInfo{MIMEType: "audio/mpeg", Size: 10 << 20}, ""},
		{"mpeg over limit", FileInfo{MIMEType: "audio/mpeg", Size: 10<<20 + 1}, ReasonSize},
		{"png", FileInfo{MIMEType: "image/png", Size: 100}, ReasonFormat},
		{"oversized png reports format", FileInfo{MIMEType: "image/png", Size: 50 << 20}, ReasonFormat},
		{"params ignored", FileInfo{MIMEType: "audio/wav; codecs=1", Size: 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.info, limits)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate = %v, want nil", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Reason != tt.want {
				t.Fatalf("Validate = %v, want reason %s", err, tt.want)
			}
		})
	}
}

func TestInspectSniffsContent(t *testing.T) {
	dir := t.TempDir()
	wavPath := writeWAVFile(t, dir, encoder.SampleRate)
	disguised := writeSparse(t, dir, "really-a-png.wav", pngHeader, 1024)

	info, err := FSInspector{}.Inspect(wavPath)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Is("audio/wav") || info.Name != "speech.wav" {
		t.Errorf("info = %+v", info)
	}
	if info.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", info.Duration)
	}

	info, err = FSInspector{}.Inspect(disguised)
	if err != nil {
		t.Fatal(err)
	}
	if info.Is("audio/wav") {
		t.Errorf("png content accepted as wav from its extension")
	}
}

func TestSelectAcceptsFiveMegabyteWAV(t *testing.T) {
	path := writeWAVFile(t, t.TempDir(), 5<<20/2)
	flow := NewFlow(predict.NewFake("B1", "", nil))

	if err := flow.Select(path); err != nil {
		t.Fatalf("Select: %v", err)
	}
	v := flow.View()
	if v.Message != MsgReady || v.File == nil || v.File.Name != "speech.wav" {
		t.Errorf("view = %+v", v)
	}
	if !flow.Pipeline().Snapshot().HasPayload {
		t.Error("accepted file not handed to the pipeline")
	}
}

func TestSelectRejections(t *testing.T) {
	dir := t.TempDir()
	good := writeWAVFile(t, dir, 1000)
	png := writeSparse(t, dir, "photo.png", pngHeader, 2048)
	bigMP3 := writeSparse(t, dir, "long.mp3", id3Header, 11<<20)

	rej := &countingRejections{}
	flow := NewFlow(predict.NewFake("B1", "", nil), WithRejectionObserver(rej))
	if err := flow.Select(good); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path    string
		message string
	}{
		{png, MsgInvalidFormat},
		{bigMP3, MsgTooLarge},
		{filepath.Join(dir, "missing.wav"), MsgSelectValid},
		{"", MsgSelectValid},
	}
	for _, tt := range tests {
		err := flow.Select(tt.path)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Select(%q) = %v, want *ValidationError", tt.path, err)
		}
		v := flow.View()
		if v.Message != tt.message {
			t.Errorf("Select(%q) message = %q, want %q", tt.path, v.Message, tt.message)
		}
		if v.File == nil || v.File.Name != "speech.wav" {
			t.Errorf("rejected file replaced the selection: %+v", v.File)
		}
	}
	if len(rej.reasons) != 4 || rej.reasons[0] != "format" || rej.reasons[1] != "size" {
		t.Errorf("rejections = %v", rej.reasons)
	}
}

func TestSubmitWithoutFile(t *testing.T) {
	fake := predict.NewFake("B1", "", nil)
	flow := NewFlow(fake)

	if err := flow.Submit(context.Background()); !errors.Is(err, submission.ErrNoPayload) {
		t.Fatalf("Submit = %v", err)
	}
	if v := flow.View(); v.Message != submission.MsgNoFile {
		t.Errorf("message = %q", v.Message)
	}
	if fake.Calls() != 0 {
		t.Error("predictor called without a file")
	}
}

func TestUploadSuccessCelebrates(t *testing.T) {
	path := writeWAVFile(t, t.TempDir(), 1600)
	clock := clockwork.NewFakeClock()
	fake := predict.NewFake("B1", "I like reading", nil)
	flow := NewFlow(fake, WithClock(clock))

	if err := flow.Select(path); err != nil {
		t.Fatal(err)
	}
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := flow.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	v := flow.View()
	if v.Message != "Upload successful!" || v.Status != submission.Succeeded {
		t.Errorf("view = %+v", v)
	}
	if v.Result == nil || v.Result.Label != "B1" {
		t.Fatalf("result = %+v", v.Result)
	}
	if !v.Celebrating {
		t.Error("celebration not started")
	}

	p := fake.Payloads()[0]
	if p.Name != "speech.wav" || p.ContentType != "audio/wav" {
		t.Errorf("payload = %s %s", p.Name, p.ContentType)
	}

	clock.Advance(4 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if !flow.View().Celebrating {
		t.Error("celebration ended early")
	}
	clock.Advance(time.Second)
	eventually(t, func() bool { return !flow.View().Celebrating })
}

func TestUploadServerError(t *testing.T) {
	path := writeWAVFile(t, t.TempDir(), 1600)
	flow := NewFlow(predict.NewFake("", "", &predict.ServerError{StatusCode: 422, Message: "Unsupported sample rate"}))

	flow.Select(path)
	flow.Submit(context.Background())
	flow.Wait(context.Background())

	v := flow.View()
	if v.Message != "Unsupported sample rate" || v.Result != nil || v.Celebrating {
		t.Errorf("view = %+v", v)
	}
}

func TestNewSelectionClearsPrediction(t *testing.T) {
	dir := t.TempDir()
	path := writeWAVFile(t, dir, 1600)
	fake := predict.NewFake("C", "", nil)
	flow := NewFlow(fake, WithClock(clockwork.NewFakeClock()))

	flow.Select(path)
	flow.Submit(context.Background())
	flow.Wait(context.Background())
	if flow.View().Result == nil {
		t.Fatal("expected a result")
	}

	flow.Select(path)
	v := flow.View()
	if v.Result != nil || v.Message != MsgReady || v.Celebrating {
		t.Errorf("view after reselect = %+v", v)
	}
}

func TestSelectDuringFlightDiscardsResult(t *testing.T) {
	path := writeWAVFile(t, t.TempDir(), 1600)
	fake := predict.NewFake("A2", "", nil)
	fake.Gate = make(chan struct{})
	flow := NewFlow(fake)

	flow.Select(path)
	flow.Submit(context.Background())
	if err := flow.Submit(context.Background()); !errors.Is(err, submission.ErrInFlight) {
		t.Errorf("second Submit = %v, want ErrInFlight", err)
	}
	done := flow.Pipeline().Done()
	flow.Select(path)
	close(fake.Gate)
	<-done

	v := flow.View()
	if v.Result != nil || v.Message != MsgReady {
		t.Errorf("stale response applied: %+v", v)
	}
}

func TestUploadMP3(t *testing.T) {
	path := writeSparse(t, t.TempDir(), "answer.mp3", id3Header, 2*1024*1024)
	fake := predict.NewFake("B1", "hello", nil)
	flow := NewFlow(fake, WithClock(clockwork.NewFakeClock()))

	if err := flow.Select(path); err != nil {
		t.Fatal(err)
	}
	if v := flow.View(); v.Message != MsgReady || v.File == nil {
		t.Fatalf("view = %+v", v)
	}
	if err := flow.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	flow.Wait(context.Background())

	v := flow.View()
	if v.Result == nil || v.Result.Label != "B1" || v.Result.Transcription != "hello" || !v.Celebrating {
		t.Errorf("view = %+v", v)
	}
	p := fake.Payloads()[0]
	if p.ContentType != "audio/mpeg" || len(p.Data) != 2*1024*1024 {
		t.Errorf("payload = %s, %d bytes", p.ContentType, len(p.Data))
	}
}
