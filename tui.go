package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"speakscore/audio"
	"speakscore/beep"
	"speakscore/clipboard"
	"speakscore/predict"
	"speakscore/recorder"
	"speakscore/submission"
	"speakscore/upload"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const tickInterval = 60 * time.Millisecond

type screen int

const (
	screenSelect screen = iota
	screenRecord
	screenUpload
)

var modes = []struct {
	name, hint string
	screen     screen
}{
	{"Record", "speak into the microphone", screenRecord},
	{"Upload", "score a WAV or MP3 file", screenUpload},
}

type tickMsg time.Time
type flowChangedMsg struct{}
type clipboardMsg struct{ err error }

// notifier forwards flow changes into the program. Flow callbacks run on
// submission goroutines, so Send is never called inline.
type notifier struct {
	mu sync.Mutex
	p  *tea.Program
}

func (n *notifier) set(p *tea.Program) {
	n.mu.Lock()
	n.p = p
	n.mu.Unlock()
}

func (n *notifier) changed() {
	n.mu.Lock()
	p := n.p
	n.mu.Unlock()
	if p != nil {
		go p.Send(flowChangedMsg{})
	}
}

type tuiModel struct {
	app    *app
	ctx    context.Context
	notify *notifier

	screen screen
	cursor int

	rec     *recorder.Flow
	up      *upload.Flow
	meter   *levelMeter
	silence *silenceMonitor
	noVoice bool

	editing bool
	input   string
	notice  string

	frame         int
	width, height int
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Padding(0, 2).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Foreground(lipgloss.Color("245"))
	scoreHiStyle = scoreStyle.BorderForeground(lipgloss.Color("212")).Foreground(lipgloss.Color("212")).Bold(true)
	partyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
)

func newTUIModel(ctx context.Context, a *app) tuiModel {
	return tuiModel{
		app:     a,
		ctx:     ctx,
		notify:  &notifier{},
		meter:   &levelMeter{},
		silence: newSilenceMonitor(tickInterval),
	}
}

func NewTUIProgram(ctx context.Context, a *app) *tea.Program {
	m := newTUIModel(ctx, a)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.notify.set(p)
	return p
}

func tuiTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.leave()
			return m, tea.Quit
		}
		if m.editing {
			return m.updateInput(msg), nil
		}
		switch m.screen {
		case screenSelect:
			return m.updateSelect(msg)
		case screenRecord:
			return m.updateRecord(msg)
		case screenUpload:
			return m.updateUpload(msg)
		}

	case tickMsg:
		m.frame++
		m.watchSilence()
		return m, tuiTick()

	case clipboardMsg:
		if msg.err != nil {
			m.notice = "clipboard: " + msg.err.Error()
		} else {
			m.notice = "copied to clipboard"
		}
	}
	return m, nil
}

func (m tuiModel) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, len(modes)-1)
	case "enter", " ":
		return m.enter(modes[m.cursor].screen), nil
	case "r":
		return m.enter(screenRecord), nil
	case "u":
		return m.enter(screenUpload), nil
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m tuiModel) enter(s screen) tuiModel {
	m.screen = s
	m.notice = ""
	switch s {
	case screenRecord:
		m.meter.reset()
		m.silence.Reset()
		m.noVoice = false
		m.rec = m.app.newRecordFlow(m.notify.changed, m.meter.push)
	case screenUpload:
		m.up = m.app.newUploadFlow(m.notify.changed)
	}
	return m
}

// leave releases whatever the current screen holds.
func (m *tuiModel) leave() {
	if m.rec != nil {
		m.rec.Close()
		m.rec = nil
	}
	m.up = nil
	m.screen = screenSelect
	m.editing = false
	m.notice = ""
}

func (m tuiModel) updateRecord(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch msg.String() {
	case "r":
		if m.rec.Start() {
			m.meter.reset()
			m.silence.Reset()
			m.noVoice = false
		}
	case "p":
		m.rec.Pause()
	case "c":
		m.rec.Resume()
	case "s":
		if m.rec.Stop() && m.rec.View().Session.Artifact == nil {
			beep.Play(beep.Error)
		}
	case "d":
		m.rec.Delete()
		m.meter.reset()
	case "a":
		m.editing, m.input = true, ""
	case "enter":
		m.rec.Submit(m.ctx)
	case "y":
		return m, copyResult(m.rec.View().Result)
	case "esc":
		m.leave()
	}
	return m, nil
}

func (m tuiModel) updateUpload(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch msg.String() {
	case "a", "o":
		m.editing, m.input = true, ""
	case "enter":
		m.up.Submit(m.ctx)
	case "y":
		return m, copyResult(m.up.View().Result)
	case "esc":
		m.leave()
	}
	return m, nil
}

// updateInput edits the file path prompt.
func (m tuiModel) updateInput(msg tea.KeyMsg) tuiModel {
	switch msg.Type {
	case tea.KeyEnter:
		m.editing = false
		path := expandPath(m.input)
		switch m.screen {
		case screenRecord:
			m.rec.Attach(path)
		case screenUpload:
			m.up.Select(path)
		}
	case tea.KeyEsc:
		m.editing = false
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeyCtrlU:
		m.input = ""
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m
}

func expandPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), `"'`)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

func (m *tuiModel) watchSilence() {
	if m.screen != screenRecord || m.rec == nil {
		return
	}
	if m.rec.Session().State() != recorder.Recording {
		return
	}
	switch m.silence.Tick(m.meter.latest() > speechLevel) {
	case SilenceWarn:
		m.noVoice = true
		beep.Play(beep.Error)
	case SilenceWarnClear:
		m.noVoice = false
	}
}

func copyResult(r *predict.Result) tea.Cmd {
	if r == nil {
		return nil
	}
	text := clipboard.Format(r.Label, r.Transcription)
	return func() tea.Msg {
		return clipboardMsg{err: clipboard.Copy(text)}
	}
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("speakscore") + " " + dimStyle.Render(version) + "\n")
	b.WriteString(dimStyle.Render("endpoint: "+m.app.cfg.Endpoint) + "\n\n")

	switch m.screen {
	case screenSelect:
		m.viewSelect(&b)
	case screenRecord:
		m.viewRecord(&b)
	case screenUpload:
		m.viewUpload(&b)
	}

	if m.notice != "" {
		b.WriteString("\n" + dimStyle.Render(m.notice) + "\n")
	}
	return b.String()
}

func (m tuiModel) viewSelect(b *strings.Builder) {
	b.WriteString("How do you want to be scored?\n\n")
	for i, mode := range modes {
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("▶ "+mode.name) + "  " + dimStyle.Render(mode.hint) + "\n")
		} else {
			b.WriteString("  " + mode.name + "\n")
		}
	}
	b.WriteString("\n" + help("↑/↓", "move", "enter", "choose", "q", "quit") + "\n")
}

func (m tuiModel) viewRecord(b *strings.Builder) {
	v := m.rec.View()
	s := v.Session

	switch {
	case s.Device != "":
		line := "mic: " + s.Device
		if audio.IsBluetooth(s.Device) {
			line += " (BT!)"
		}
		b.WriteString(dimStyle.Render(line) + "\n")
	case s.Err != nil && errors.Is(s.Err, audio.ErrDeviceUnavailable):
		b.WriteString(errStyle.Render("Microphone unavailable: "+s.Err.Error()) + "\n")
		b.WriteString(dimStyle.Render("You can still attach a file with a.") + "\n")
	default:
		b.WriteString(dimStyle.Render("mic: connecting...") + "\n")
	}
	b.WriteString("\n")

	timer := recorder.FormatElapsed(s.Elapsed)
	switch s.State {
	case recorder.Recording:
		dot := "●"
		if m.frame/8%2 == 1 {
			dot = " "
		}
		b.WriteString(recStyle.Render(dot+" REC "+timer) + "  " + renderLevels(m.meter.snapshot(), meterSize) + "\n")
		if m.noVoice {
			b.WriteString(warnStyle.Render("  ⚠ no voice detected") + "\n")
		}
	case recorder.Paused:
		b.WriteString(pausedStyle.Render("❚❚ PAUSED "+timer) + "  " + dimStyle.Render(renderLevels(m.meter.snapshot(), meterSize)) + "\n")
	case recorder.Stopped:
		b.WriteString("■ STOPPED " + timer + "\n")
		if a := s.Artifact; a != nil {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  %s  %.1fs", a.Path, formatSize(a.Size), a.Duration.Seconds())) + "\n")
		}
	default:
		b.WriteString(dimStyle.Render("○ READY 0:00") + "\n")
	}

	if v.Attached != nil {
		b.WriteString("\n" + fileLine(*v.Attached))
	}
	m.viewOutcome(b, v.Message, v.Status, v.Result, false)

	if m.editing {
		b.WriteString("\n" + m.prompt())
		return
	}
	b.WriteString("\n" + help("r", "record", "p", "pause", "c", "continue", "s", "stop", "d", "delete") + "\n")
	b.WriteString(help("a", "attach file", "enter", "submit", "y", "copy", "esc", "back") + "\n")
}

func (m tuiModel) viewUpload(b *strings.Builder) {
	v := m.up.View()
	if v.File != nil {
		b.WriteString(fileLine(*v.File))
	} else {
		b.WriteString(dimStyle.Render("No file selected.") + "\n")
	}
	m.viewOutcome(b, v.Message, v.Status, v.Result, v.Celebrating)

	if m.editing {
		b.WriteString("\n" + m.prompt())
		return
	}
	b.WriteString("\n" + help("a", "choose file", "enter", "upload", "y", "copy", "esc", "back") + "\n")
}

func (m tuiModel) prompt() string {
	cursor := "█"
	if m.frame/8%2 == 1 {
		cursor = " "
	}
	return "File path: " + m.input + cursor + "\n" + help("enter", "confirm", "esc", "cancel") + "\n"
}

func (m tuiModel) viewOutcome(b *strings.Builder, message string, status submission.Status, result *predict.Result, celebrating bool) {
	b.WriteString("\n")
	switch {
	case status == submission.Submitting:
		b.WriteString(dimStyle.Render("Submitting"+strings.Repeat(".", m.frame/5%4)) + "\n")
	case message == "":
	case status == submission.Failed:
		b.WriteString(errStyle.Render(message) + "\n")
	case status == submission.Succeeded || message == upload.MsgReady:
		b.WriteString(okStyle.Render(message) + "\n")
	default:
		b.WriteString(warnStyle.Render(message) + "\n")
	}

	label := ""
	if result != nil {
		label = result.Label
	}
	b.WriteString("\nPossible scores\n" + renderScores(label) + "\n")
	if result != nil {
		if !predict.IsKnownLabel(label) {
			b.WriteString("Score: " + label + "\n")
		}
		if celebrating {
			b.WriteString(partyStyle.Render("★ ★ ★  Well done!  ★ ★ ★") + "\n")
		}
		if t := strings.TrimSpace(result.Transcription); t != "" {
			width := m.width - 2
			if width < 20 {
				width = 78
			}
			b.WriteString("\n")
			for _, line := range wrapText(t, width) {
				b.WriteString(textStyle.Render(line) + "\n")
			}
		}
	}
}

// renderScores draws the known labels side by side, highlighting label.
func renderScores(label string) string {
	cells := make([]string, len(predict.KnownLabels))
	for i, l := range predict.KnownLabels {
		if l == label {
			cells[i] = scoreHiStyle.Render(l)
		} else {
			cells[i] = scoreStyle.Render(l)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func fileLine(f upload.FileInfo) string {
	line := fmt.Sprintf("%s  %s  %s", f.Name, formatSize(f.Size), f.MIMEType)
	if f.Duration > 0 {
		line += fmt.Sprintf("  %.1fs", f.Duration.Seconds())
	}
	return line + "\n"
}

func formatSize(n int64) string {
	if n >= 1024*1024 {
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

func help(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, keyStyle.Render(pairs[i])+helpStyle.Render(" "+pairs[i+1]))
	}
	return strings.Join(parts, helpStyle.Render("  "))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
