package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"speakscore/audio"
	"speakscore/encoder"
	"speakscore/predict"
	"speakscore/submission"
	"speakscore/upload"
)

func newFlowHarness(t *testing.T, fake *predict.Fake) (*Flow, *harness) {
	t.Helper()
	h := newHarness(t)
	return NewFlow(h.session, fake, FlowConfig{}), h
}

func writeWAV(t *testing.T, samples int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := encoder.EncodeAll(encoder.NewWav(f, encoder.SampleRate), make([]int16, samples)); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func submitAndWait(t *testing.T, f *Flow) {
	t.Helper()
	if err := f.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRecordStopSubmit(t *testing.T) {
	fake := predict.NewFake("B2", "my favourite hobby", nil)
	f, h := newFlowHarness(t, fake)

	if f.CanSubmit() {
		t.Fatal("submit enabled before recording")
	}
	if !f.Start() {
		t.Fatal("Start refused")
	}
	h.capture.Emit(tone(16000))
	h.advance(t, 3)
	if !f.Stop() {
		t.Fatal("Stop refused")
	}

	v := f.View()
	if v.Session.Elapsed != 3 || v.Session.Artifact == nil {
		t.Fatalf("session = %+v", v.Session)
	}
	if v.Source != SourceRecording || !f.CanSubmit() {
		t.Fatalf("source = %v, can submit = %v", v.Source, f.CanSubmit())
	}

	submitAndWait(t, f)
	v = f.View()
	if v.Status != submission.Succeeded || v.Result == nil || v.Result.Label != "B2" {
		t.Fatalf("view = %+v", v)
	}
	if v.Message != submission.MsgSuccess {
		t.Errorf("message = %q", v.Message)
	}
	p := fake.Payloads()[0]
	if p.ContentType != "audio/wav" || p.Name != filepath.Base(v.Session.Artifact.Path) {
		t.Errorf("payload = %s %s", p.Name, p.ContentType)
	}
	if want := audio.WAVHeaderSize + 32000; len(p.Data) != want {
		t.Errorf("payload = %d bytes, want %d", len(p.Data), want)
	}
}

func TestSubmitWithoutPayload(t *testing.T) {
	fake := predict.NewFake("A1", "", nil)
	f, _ := newFlowHarness(t, fake)
	if err := f.Submit(context.Background()); !errors.Is(err, submission.ErrNoPayload) {
		t.Errorf("Submit = %v, want ErrNoPayload", err)
	}
	if fake.Calls() != 0 {
		t.Error("predictor called")
	}
}

func TestSecondSubmissionOverwritesResult(t *testing.T) {
	fake := predict.NewFake("A2", "", nil)
	f, _ := newFlowHarness(t, fake)
	f.Start()
	f.Stop()

	submitAndWait(t, f)
	fake.Result.Label = "C1"
	submitAndWait(t, f)

	if r := f.View().Result; r == nil || r.Label != "C1" {
		t.Errorf("result = %+v", r)
	}
	if fake.Calls() != 2 {
		t.Errorf("calls = %d", fake.Calls())
	}
}

func TestSubmitFailureMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&predict.ServerError{StatusCode: 500, Message: "model unavailable"}, "model unavailable"},
		{&predict.ServerError{StatusCode: 502}, submission.MsgFailed},
		{&predict.TransportError{Err: errors.New("connection refused")}, submission.MsgTransport},
	}
	for _, tt := range tests {
		f, _ := newFlowHarness(t, predict.NewFake("", "", tt.err))
		f.Start()
		f.Stop()
		submitAndWait(t, f)

		v := f.View()
		if v.Status != submission.Failed || v.Result != nil || v.Message != tt.want {
			t.Errorf("%v: view = %+v", tt.err, v)
		}
		if !f.CanSubmit() {
			t.Errorf("%v: retry not allowed", tt.err)
		}
	}
}

func TestAttachRejectsInvalidFile(t *testing.T) {
	f, _ := newFlowHarness(t, predict.NewFake("A1", "", nil))
	path := filepath.Join(t.TempDir(), "photo.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatal(err)
	}

	err := f.Attach(path)
	var ve *upload.ValidationError
	if !errors.As(err, &ve) || ve.Reason != upload.ReasonFormat {
		t.Fatalf("Attach = %v", err)
	}
	v := f.View()
	if v.Message != upload.MsgInvalidFormat || v.Attached != nil || f.CanSubmit() {
		t.Errorf("view = %+v", v)
	}
}

func TestAttachAndRecordingReplaceEachOther(t *testing.T) {
	fake := predict.NewFake("B1", "", nil)
	f, _ := newFlowHarness(t, fake)

	f.Start()
	f.Stop()
	if err := f.Attach(writeWAV(t, 1600)); err != nil {
		t.Fatal(err)
	}
	v := f.View()
	if v.Source != SourceFile || v.Attached == nil || v.Message != upload.MsgReady {
		t.Fatalf("after attach: %+v", v)
	}
	submitAndWait(t, f)
	if got := fake.Payloads()[0].Name; got != "take.wav" {
		t.Errorf("submitted %q, want the attached file", got)
	}

	f.Start()
	if v := f.View(); v.Result != nil || v.Attached != nil || f.CanSubmit() {
		t.Fatalf("Start kept the previous payload: %+v", v)
	}
	f.Stop()
	submitAndWait(t, f)
	if got := fake.Payloads()[1].Name; got == "take.wav" {
		t.Error("recording did not replace the attached file")
	}
}

func TestDeleteClearsRecordingPayloadOnly(t *testing.T) {
	f, _ := newFlowHarness(t, predict.NewFake("A1", "", nil))

	f.Start()
	f.Stop()
	f.Delete()
	if f.CanSubmit() {
		t.Error("deleted recording still submittable")
	}
	if s := f.View().Session; s.State != Idle || s.Artifact != nil {
		t.Errorf("session = %+v", s)
	}

	if err := f.Attach(writeWAV(t, 1600)); err != nil {
		t.Fatal(err)
	}
	f.Delete()
	if !f.CanSubmit() || f.View().Source != SourceFile {
		t.Error("Delete dropped the attached file")
	}
}

func TestDeleteKeepsResult(t *testing.T) {
	f, h := newFlowHarness(t, predict.NewFake("B1", "we went camping", nil))

	f.Start()
	h.capture.Emit(tone(1600))
	f.Stop()
	submitAndWait(t, f)

	f.Delete()
	v := f.View()
	if v.Result == nil || v.Result.Label != "B1" || v.Status != submission.Succeeded {
		t.Fatalf("view after Delete = %+v", v)
	}
	if v.Message != submission.MsgSuccess {
		t.Errorf("message = %q", v.Message)
	}
	if f.CanSubmit() {
		t.Error("deleted recording still submittable")
	}

	// a new recording is what clears the result
	f.Start()
	if v := f.View(); v.Result != nil || v.Status != submission.Idle {
		t.Errorf("view after Start = %+v", v)
	}
}

func TestDeleteDuringSubmission(t *testing.T) {
	fake := predict.NewFake("A2", "", nil)
	fake.Gate = make(chan struct{})
	f, h := newFlowHarness(t, fake)

	f.Start()
	h.capture.Emit(tone(1600))
	f.Stop()
	if err := f.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.Delete()
	fake.Gate <- struct{}{}
	if err := f.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	if v := f.View(); v.Result == nil || v.Result.Label != "A2" {
		t.Errorf("in-flight result dropped by Delete: %+v", v)
	}
}

func TestFlowDeviceUnavailable(t *testing.T) {
	actx := audio.NewFakeContextPCM(nil, false)
	actx.Err = errors.New("no microphone")
	s := NewSession(actx, Config{ArtifactDir: t.TempDir()})
	t.Cleanup(s.Close)
	<-s.Ready()

	f := NewFlow(s, predict.NewFake("A1", "", nil), FlowConfig{})
	if f.Start() {
		t.Fatal("Start applied without a device")
	}
	v := f.View()
	if !errors.Is(v.Session.Err, audio.ErrDeviceUnavailable) || v.Session.Ready {
		t.Errorf("session = %+v", v.Session)
	}

	// uploads still work without a microphone
	if err := f.Attach(writeWAV(t, 1600)); err != nil {
		t.Fatal(err)
	}
	if !f.CanSubmit() {
		t.Error("attached file not submittable")
	}
}
