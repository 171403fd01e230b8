package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"speakscore/audio"
	"speakscore/config"
	"speakscore/doctor"
	"speakscore/log"
	"speakscore/metrics"
	"speakscore/predict"
	"speakscore/shutdown"
	"speakscore/telemetry"

	tea "github.com/charmbracelet/bubbletea"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "", "YAML config file")
	envFlag := flag.String("env", "", ".env file with SPEAKSCORE_* overrides (default: ./.env if present)")
	endpointFlag := flag.String("endpoint", "", "Prediction endpoint URL (default "+config.DefaultEndpoint+")")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	metricsFlag := flag.String("metrics", "", "Serve /metrics and /healthz on this address (e.g. :9464)")
	traceFlag := flag.String("trace", "", "Append request traces as JSON to this file")
	formatFlag := flag.String("format", "", "Recording format: wav or flac")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device interactively")
	doctorFlag := flag.Bool("doctor", false, "Run diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven): speakscore -test <wav-file>")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., localhost:6060)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("speakscore %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configFlag, *envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(&cfg, flagOverrides{
		endpoint: *endpointFlag,
		logPath:  *logPathFlag,
		metrics:  *metricsFlag,
		trace:    *traceFlag,
		format:   *formatFlag,
		device:   *deviceFlag,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	stopTracing, err := telemetry.Setup(ctx, cfg.TraceFile, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: tracing disabled: %v\n", err)
		log.Warnf("tracing disabled: %v", err)
	} else {
		defer flush(stopTracing)
	}

	m := metrics.New()
	if cfg.MetricsBind != "" {
		srv, err := m.Serve(cfg.MetricsBind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer flush(srv.Shutdown)
	}

	predictor := predict.NewClient(cfg.Endpoint, cfg.RequestTimeout())

	if *testFlag {
		if flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Usage: speakscore -test <wav-file>")
			return 1
		}
		return runTestMode(ctx, cfg, predictor, m, flag.Arg(0))
	}

	var actx audio.Context
	actx, err = audio.NewContext()
	if err != nil {
		log.DeviceUnavailable(err)
		actx = noAudio{err: err}
	}
	defer actx.Close()

	device, err := pickDevice(actx, *setupFlag, cfg.Recorder.Device)
	if errors.Is(err, audio.ErrSelectionCancelled) {
		return 0
	}
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: %v\nFalling back to default device\n", err)
	}

	if *doctorFlag {
		return doctor.Run(ctx, doctor.Options{
			Out:         os.Stdout,
			Audio:       actx,
			Device:      device,
			Predictor:   predictor,
			Endpoint:    cfg.Endpoint,
			ArtifactDir: cfg.Recorder.ArtifactDir,
			Clipboard:   true,
		})
	}

	a, err := newApp(cfg, actx, device, predictor, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SessionStart("tui", string(a.format), cfg.Endpoint)

	p := NewTUIProgram(ctx, a)
	_, err = p.Run()
	log.SessionEnd(a.Predictions())
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type flagOverrides struct {
	endpoint, logPath, metrics, trace, format, device string
}

// applyFlags lets non-empty command-line values win over file and env.
func applyFlags(cfg *config.Config, f flagOverrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Endpoint, f.endpoint)
	set(&cfg.LogPath, f.logPath)
	set(&cfg.MetricsBind, f.metrics)
	set(&cfg.TraceFile, f.trace)
	set(&cfg.Recorder.Format, f.format)
	set(&cfg.Recorder.Device, f.device)
}

// pickDevice returns nil for the system default.
func pickDevice(actx audio.Context, setup bool, name string) (*audio.DeviceInfo, error) {
	if setup && name == "" {
		return audio.SelectDevice(actx)
	}
	return audio.FindDevice(actx, name)
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func flush(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
}
