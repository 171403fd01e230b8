package main

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"speakscore/audio"
	"speakscore/beep"
	"speakscore/config"
	"speakscore/encoder"
	"speakscore/predict"
	"speakscore/submission"
	"speakscore/upload"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMain(m *testing.M) {
	beep.Disable()
	os.Exit(m.Run())
}

func tone(n int) []byte {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(i%2000-1000)))
	}
	return out
}

func writeWAV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "answer.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := encoder.EncodeAll(encoder.NewWav(f, encoder.SampleRate), make([]int16, 8000)); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func newTestApp(t *testing.T, p predict.Predictor) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Recorder.ArtifactDir = t.TempDir()
	a, err := newApp(cfg, audio.NewFakeContextPCM(tone(2*audio.SampleRate), true), nil, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.TraceFile = "from-file.json"
	applyFlags(&cfg, flagOverrides{endpoint: "https://score.example/predict_audio", format: "flac"})

	if cfg.Endpoint != "https://score.example/predict_audio" || cfg.Recorder.Format != "flac" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.TraceFile != "from-file.json" {
		t.Errorf("empty flag overwrote trace file: %q", cfg.TraceFile)
	}
}

func TestNewAppRejectsFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Recorder.Format = "ogg"
	if _, err := newApp(cfg, nil, nil, predict.NewFake("A2", "", nil), nil); err == nil {
		t.Error("accepted unknown format")
	}
}

func TestNoAudioMakesDeviceUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Recorder.ArtifactDir = t.TempDir()
	a, err := newApp(cfg, nil, nil, predict.NewFake("A2", "", nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	f := a.newRecordFlow(nil, nil)
	defer f.Close()
	<-f.Session().Ready()
	if f.Start() {
		t.Error("recording started without audio")
	}
}

func TestAppCountsPredictions(t *testing.T) {
	a := newTestApp(t, predict.NewFake("B2", "", nil))
	a.SubmissionFinished("upload", submission.OutcomeSuccess, time.Second)
	a.SubmissionFinished("upload", submission.OutcomeTransport, time.Second)
	a.SubmissionFinished("record", submission.OutcomeStale, time.Second)

	if a.Predictions() != 1 {
		t.Errorf("predictions = %d", a.Predictions())
	}
	if got := testutil.ToFloat64(a.metrics.Submissions.WithLabelValues("record", "stale")); got != 1 {
		t.Errorf("stale submissions = %v", got)
	}
}

func TestTestDriver(t *testing.T) {
	a := newTestApp(t, predict.NewFake("B1", "I enjoy hiking", nil))
	png := filepath.Join(t.TempDir(), "photo.png")
	os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644)
	wav := writeWAV(t, t.TempDir())

	var out strings.Builder
	d := newTestDriver(context.Background(), a, &out)
	defer d.close()
	script := strings.Join([]string{
		"PAUSE",
		"START",
		"SLEEP 200",
		"STOP",
		"SUBMIT",
		"WAIT",
		"ATTACH " + png,
		"UPLOAD " + wav,
		"WAIT",
		"DELETE",
		"STATE",
		"QUIT",
		"START",
	}, "\n")
	if code := d.run(strings.NewReader(script)); code != 0 {
		t.Fatalf("exit %d", code)
	}

	got := out.String()
	for _, want := range []string{
		"PAUSE noop\n",
		"START ok\n",
		"STOP ok\nARTIFACT ",
		"SUBMIT ok\n",
		`RESULT record succeeded label="B1" transcription="I enjoy hiking" message="Upload successful!"`,
		`ATTACH rejected "` + upload.MsgInvalidFormat + `"`,
		"UPLOAD ok\n",
		`RESULT upload succeeded label="B1"`,
		"DELETE ok\n",
		"STATE idle 0:00\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "START ok") != 1 {
		t.Errorf("commands after QUIT ran:\n%s", got)
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m tuiModel, keys ...string) tuiModel {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(tuiModel)
	}
	return m
}

func TestTUIRecordFlow(t *testing.T) {
	fake := predict.NewFake("C", "", nil)
	m := newTUIModel(context.Background(), newTestApp(t, fake))
	if !strings.Contains(m.View(), "How do you want to be scored?") {
		t.Fatalf("select screen:\n%s", m.View())
	}

	m = press(m, "enter")
	if m.screen != screenRecord || m.rec == nil {
		t.Fatalf("screen = %v", m.screen)
	}
	<-m.rec.Session().Ready()
	session := m.rec.Session()

	m = press(m, "r")
	if !strings.Contains(m.View(), "REC 0:00") {
		t.Errorf("recording view:\n%s", m.View())
	}
	m = press(m, "p")
	if !strings.Contains(m.View(), "PAUSED") {
		t.Errorf("paused view:\n%s", m.View())
	}
	m = press(m, "c", "s")
	v := m.View()
	if !strings.Contains(v, "STOPPED") || !strings.Contains(v, "recording-") {
		t.Errorf("stopped view:\n%s", v)
	}

	m = press(m, "enter")
	if err := m.rec.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	v = m.View()
	if !strings.Contains(v, submission.MsgSuccess) || !strings.Contains(v, "Possible scores") {
		t.Errorf("result view:\n%s", v)
	}
	if fake.Calls() != 1 {
		t.Errorf("calls = %d", fake.Calls())
	}

	m = press(m, "esc")
	if m.screen != screenSelect || m.rec != nil {
		t.Fatalf("esc left screen %v", m.screen)
	}
	if session.Snapshot().Ready {
		t.Error("microphone still held after leaving the record screen")
	}
}

func TestTUIUploadFlow(t *testing.T) {
	dir := t.TempDir()
	wav := writeWAV(t, dir)
	png := filepath.Join(dir, "photo.png")
	os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644)

	m := newTUIModel(context.Background(), newTestApp(t, predict.NewFake("A2", "short answer", nil)))
	m = press(m, "down", "enter")
	if m.screen != screenUpload {
		t.Fatalf("screen = %v", m.screen)
	}

	m = press(m, "enter")
	if !strings.Contains(m.View(), submission.MsgNoFile) {
		t.Errorf("submit without file:\n%s", m.View())
	}

	m = press(m, "a", png, "enter")
	if !strings.Contains(m.View(), upload.MsgInvalidFormat) {
		t.Errorf("png accepted:\n%s", m.View())
	}

	m = press(m, "a", wav, "enter")
	v := m.View()
	if !strings.Contains(v, upload.MsgReady) || !strings.Contains(v, "answer.wav") {
		t.Errorf("wav not ready:\n%s", v)
	}

	m = press(m, "enter")
	m.up.Wait(context.Background())
	v = m.View()
	for _, want := range []string{submission.MsgSuccess, "Well done!", "short answer"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestPathInputEditing(t *testing.T) {
	m := newTUIModel(context.Background(), newTestApp(t, predict.NewFake("A2", "", nil)))
	m.screen = screenUpload
	m = press(m, "a", "abc")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m = next.(tuiModel)
	if m.input != "ab" || !m.editing {
		t.Errorf("input = %q, editing = %v", m.input, m.editing)
	}
	m = press(m, "esc")
	if m.editing || m.screen != screenUpload {
		t.Errorf("esc should only cancel the prompt")
	}
}

func TestRenderScoresListsLabels(t *testing.T) {
	plain := renderScores("")
	for _, l := range predict.KnownLabels {
		if !strings.Contains(plain, l) {
			t.Errorf("scores missing %s", l)
		}
	}
	if lines := strings.Count(renderScores("B2"), "\n"); lines != strings.Count(plain, "\n") {
		t.Errorf("highlight changed the panel height")
	}
}

func TestLevelMeter(t *testing.T) {
	var m levelMeter
	if m.latest() != 0 || len(m.snapshot()) != 0 {
		t.Fatal("empty meter not empty")
	}
	for i := 0; i < meterSize+5; i++ {
		m.push(float64(i))
	}
	s := m.snapshot()
	if len(s) != meterSize || s[0] != 5 || s[len(s)-1] != meterSize+4 {
		t.Errorf("snapshot = %v", s)
	}
	if m.latest() != meterSize+4 {
		t.Errorf("latest = %v", m.latest())
	}
	m.reset()
	if len(m.snapshot()) != 0 {
		t.Error("reset kept levels")
	}
}

func TestRenderLevels(t *testing.T) {
	got := []rune(renderLevels([]float64{0, 0.125, 1}, 5))
	if len(got) != 5 || got[0] != ' ' || got[2] != '▁' || got[4] != '█' {
		t.Errorf("renderLevels = %q", string(got))
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("the quick brown fox jumps", 10)
	want := []string{"the quick", "brown fox", "jumps"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("wrapText = %q", lines)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := map[string]string{
		`  "/tmp/a b.wav" `: "/tmp/a b.wav",
		"~/x.wav":           filepath.Join(home, "x.wav"),
		"rel.mp3":           "rel.mp3",
	}
	for in, want := range tests {
		if got := expandPath(in); got != want {
			t.Errorf("expandPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	if got := formatSize(1536); got != "1.5 KB" {
		t.Errorf("formatSize(1536) = %q", got)
	}
	if got := formatSize(3 * 1024 * 1024); got != "3.0 MB" {
		t.Errorf("formatSize(3MiB) = %q", got)
	}
}
