package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	appName         = "speakscore"
	diagName        = "diagnostics_log.txt"
	predictionsName = "predictions_log.txt"
)

var (
	diagLog         zerolog.Logger
	diagFile        *os.File
	predictionsFile *os.File
	logMu           sync.Mutex
	logReady        bool
	pid             int
	dir             string
)

// PredictionMetrics describes one completed submission.
type PredictionMetrics struct {
	Flow        string
	Label       string
	StatusCode  int
	PayloadKB   float64
	AudioS      float64
	DNSTimeMs   float64
	ConnTimeMs  float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
}

func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv("SPEAKSCORE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	predictionsFile, err = os.OpenFile(filepath.Join(dir, predictionsName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		diagFile = nil
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady = false
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if predictionsFile != nil {
		predictionsFile.Close()
		predictionsFile = nil
	}
}

// emit hands the diagnostics logger to fn while holding logMu, so Close
// cannot swap or close the file under a writer. No-op before Init.
func emit(fn func(l *zerolog.Logger)) {
	logMu.Lock()
	defer logMu.Unlock()
	if logReady {
		fn(&diagLog)
	}
}

func Info(msg string) {
	emit(func(l *zerolog.Logger) { l.Info().Msg(msg) })
}

func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}

func Error(msg string) {
	emit(func(l *zerolog.Logger) { l.Error().Msg(msg) })
}

func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

func Warn(msg string) {
	emit(func(l *zerolog.Logger) { l.Warn().Msg(msg) })
}

func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

func SessionStart(mode, format, endpoint string) {
	emit(func(l *zerolog.Logger) {
		l.Info().
			Str("mode", mode).
			Str("format", format).
			Str("endpoint", endpoint).
			Msg("session_start")
	})
}

func SessionEnd(predictions int) {
	emit(func(l *zerolog.Logger) {
		l.Info().Int("predictions", predictions).Msg("session_end")
	})
}

// Recording logs a recorder transition such as "start" or "pause" as
// recording_<event>.
func Recording(event string, elapsedS int, chunks int) {
	emit(func(l *zerolog.Logger) {
		l.Info().
			Int("elapsed_s", elapsedS).
			Int("chunks", chunks).
			Msg("recording_" + event)
	})
}

func DeviceUnavailable(err error) {
	emit(func(l *zerolog.Logger) { l.Error().Err(err).Msg("device_unavailable") })
}

func ValidationRejected(reason, mimeType string, size int64) {
	emit(func(l *zerolog.Logger) {
		l.Warn().
			Str("reason", reason).
			Str("mime", mimeType).
			Int64("size", size).
			Msg("validation_rejected")
	})
}

func Prediction(m PredictionMetrics) {
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	emit(func(l *zerolog.Logger) {
		l.Info().
			Str("flow", m.Flow).
			Str("label", m.Label).
			Int("status", m.StatusCode).
			Str("conn", connStatus).
			Float64("payload_kb", m.PayloadKB).
			Float64("audio_s", m.AudioS).
			Float64("dns_ms", m.DNSTimeMs).
			Float64("conn_ms", m.ConnTimeMs).
			Float64("tls_ms", m.TLSTimeMs).
			Float64("ttfb_ms", m.TTFBMs).
			Float64("total_ms", m.TotalTimeMs).
			Msg("prediction")
	})
}

func PredictionFailed(flow, kind string, status int, message string) {
	emit(func(l *zerolog.Logger) {
		ev := l.Warn().
			Str("flow", flow).
			Str("kind", kind)
		if status != 0 {
			ev = ev.Int("status", status)
		}
		ev.Str("message", message).Msg("prediction_failed")
	})
}

// PredictionText appends one tab-separated line to predictions_log.txt.
func PredictionText(label, transcription string) {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady || predictionsFile == nil {
		return
	}
	transcription = strings.ReplaceAll(transcription, "\n", " ")
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, label, transcription)
	predictionsFile.WriteString(line)
}
