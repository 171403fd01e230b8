package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(wd, "logs"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("SPEAKSCORE_LOG_PATH", "/tmp/speakscore-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/speakscore-env-log" {
		t.Errorf("got %q, want /tmp/speakscore-env-log", got)
	}
}

func TestResolveDirFlagBeatsEnv(t *testing.T) {
	t.Setenv("SPEAKSCORE_LOG_PATH", "/tmp/from-env")
	got, err := ResolveDir("/tmp/from-flag")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/from-flag" {
		t.Errorf("got %q, want flag path", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("SPEAKSCORE_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "speakscore") {
		t.Errorf("default dir %q does not name the app", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{diagName, predictionsName} {
		if _, err := os.Stat(filepath.Join(tmp, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestNoopBeforeInit(t *testing.T) {
	tmp := setupLogDir(t)

	Info("ignored")
	PredictionText("B1", "ignored")

	if _, err := os.Stat(filepath.Join(tmp, diagName)); !os.IsNotExist(err) {
		t.Errorf("diagnostics log written before Init: %v", err)
	}
}

func TestPredictionText(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	PredictionText("B2", "hello\nworld")

	line := readLog(t, tmp, predictionsName)
	if !strings.Contains(line, "\tB2\thello world\n") {
		t.Errorf("predictions_log.txt line = %q", line)
	}
}

func TestStructuredEvents(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	SessionStart("tui", "wav", "http://127.0.0.1:8000/predict_audio")
	Recording("pause", 3, 12)
	DeviceUnavailable(errors.New("permission denied"))
	ValidationRejected("size", "audio/mpeg", 11<<20)
	Prediction(PredictionMetrics{Flow: "upload", Label: "C", StatusCode: 200, TotalTimeMs: 12.5})
	PredictionFailed("record", "server", 400, "bad audio")
	SessionEnd(1)

	out := readLog(t, tmp, diagName)
	for _, want := range []string{
		"session_start", "mode=tui",
		"recording_pause", "elapsed_s=3",
		"device_unavailable", "permission denied",
		"validation_rejected", "reason=size",
		"prediction", "label=C", "conn=new",
		"prediction_failed", "status=400",
		"session_end", "predictions=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics log missing %q\n%s", want, out)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close()
	Info("after close")
}

func TestCloseWhileLogging(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				Infof("worker %d event %d", i, j)
				Prediction(PredictionMetrics{Flow: "upload", Label: "B1", StatusCode: 200})
				PredictionText("B1", "text")
			}
		}(i)
	}
	Close()
	wg.Wait()

	before := readLog(t, tmp, diagName)
	Info("after close")
	PredictionText("C", "after close")
	if readLog(t, tmp, diagName) != before {
		t.Error("diagnostics written after Close")
	}
	if strings.Contains(readLog(t, tmp, predictionsName), "after close") {
		t.Error("prediction written after Close")
	}
}
