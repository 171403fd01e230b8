package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"speakscore/audio"
	"speakscore/beep"
	"speakscore/config"
	"speakscore/log"
	"speakscore/metrics"
	"speakscore/predict"
	"speakscore/recorder"
	"speakscore/submission"
	"speakscore/upload"
)

// runTestMode drives both flows from stdin with the microphone replaced by
// wavPath played back in real time.
func runTestMode(ctx context.Context, cfg config.Config, p predict.Predictor, m *metrics.Metrics, wavPath string) int {
	beep.Disable()

	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	a, err := newApp(cfg, fakeCtx, nil, p, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SessionStart("test", string(a.format), cfg.Endpoint)
	defer func() { log.SessionEnd(a.Predictions()) }()

	d := newTestDriver(ctx, a, os.Stdout)
	defer d.close()
	return d.run(os.Stdin)
}

type testDriver struct {
	ctx  context.Context
	out  io.Writer
	rec  *recorder.Flow
	up   *upload.Flow
	last string // flow of the most recent submission
}

func newTestDriver(ctx context.Context, a *app, out io.Writer) *testDriver {
	d := &testDriver{
		ctx: ctx,
		out: out,
		rec: a.newRecordFlow(nil, nil),
		up:  a.newUploadFlow(nil),
	}
	<-d.rec.Session().Ready()
	return d
}

func (d *testDriver) close() { d.rec.Close() }

func (d *testDriver) run(in io.Reader) int {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)
		if cmd == "QUIT" {
			return 0
		}
		d.exec(cmd, strings.TrimSpace(arg))
	}
	return 0
}

func (d *testDriver) exec(cmd, arg string) {
	switch cmd {
	case "START":
		d.transition(cmd, d.rec.Start)
	case "PAUSE":
		d.transition(cmd, d.rec.Pause)
	case "RESUME":
		d.transition(cmd, d.rec.Resume)
	case "STOP":
		d.transition(cmd, d.rec.Stop)
		if a := d.rec.View().Session.Artifact; a != nil {
			fmt.Fprintf(d.out, "ARTIFACT %s %d %.2f\n", a.Path, a.Size, a.Duration.Seconds())
		}
	case "DELETE":
		d.transition(cmd, d.rec.Delete)
	case "STATE":
		s := d.rec.View().Session
		fmt.Fprintf(d.out, "STATE %s %s\n", s.State, recorder.FormatElapsed(s.Elapsed))
	case "ATTACH":
		err := d.rec.Attach(arg)
		d.report(cmd, err, d.rec.View().Message)
	case "SUBMIT":
		d.last = "record"
		err := d.rec.Submit(d.ctx)
		d.report(cmd, err, "")
	case "UPLOAD":
		if err := d.up.Select(arg); err != nil {
			d.report(cmd, err, d.up.View().Message)
			return
		}
		d.last = "upload"
		d.report(cmd, d.up.Submit(d.ctx), "")
	case "WAIT":
		d.wait()
	case "SLEEP":
		if ms, err := strconv.Atoi(arg); err == nil {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	default:
		fmt.Fprintf(d.out, "%s unknown\n", cmd)
	}
}

func (d *testDriver) transition(cmd string, fn func() bool) {
	if fn() {
		fmt.Fprintf(d.out, "%s ok\n", cmd)
	} else {
		fmt.Fprintf(d.out, "%s noop\n", cmd)
	}
}

func (d *testDriver) report(cmd string, err error, message string) {
	switch {
	case err == nil:
		fmt.Fprintf(d.out, "%s ok\n", cmd)
	case message != "":
		fmt.Fprintf(d.out, "%s rejected %q\n", cmd, message)
	default:
		fmt.Fprintf(d.out, "%s error %q\n", cmd, err.Error())
	}
}

// wait blocks until the most recent submission finishes and prints it.
func (d *testDriver) wait() {
	var (
		status  submission.Status
		result  *predict.Result
		message string
	)
	switch d.last {
	case "record":
		d.rec.Wait(d.ctx)
		v := d.rec.View()
		status, result, message = v.Status, v.Result, v.Message
	case "upload":
		d.up.Wait(d.ctx)
		v := d.up.View()
		status, result, message = v.Status, v.Result, v.Message
	default:
		fmt.Fprintln(d.out, "RESULT none")
		return
	}
	label, transcription := "", ""
	if result != nil {
		label, transcription = result.Label, result.Transcription
	}
	fmt.Fprintf(d.out, "RESULT %s %s label=%q transcription=%q message=%q\n", d.last, status, label, transcription, message)
}
