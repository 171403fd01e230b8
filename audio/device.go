package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrSelectionCancelled is returned by SelectDevice when the user presses Ctrl+C.
var ErrSelectionCancelled = errors.New("device selection cancelled")

// FindDevice returns the first capture device whose name contains name,
// ignoring case. An empty name selects nothing and returns nil.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	want := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), want) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no device matching %q", ErrDeviceUnavailable, name)
}

type pickerAction int

const (
	pickerNone pickerAction = iota
	pickerConfirm
	pickerCancel
)

type picker struct {
	devices []DeviceInfo
	cursor  int
}

// key applies one raw terminal read to the cursor.
func (p *picker) key(buf []byte) pickerAction {
	if len(buf) == 1 {
		switch buf[0] {
		case '\r', '\n':
			return pickerConfirm
		case 3: // Ctrl+C
			return pickerCancel
		case 'j':
			p.down()
		case 'k':
			p.up()
		}
	} else if len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' {
		switch buf[2] {
		case 'A':
			p.up()
		case 'B':
			p.down()
		}
	}
	return pickerNone
}

func (p *picker) up() {
	if p.cursor > 0 {
		p.cursor--
	}
}

func (p *picker) down() {
	if p.cursor < len(p.devices)-1 {
		p.cursor++
	}
}

func (p *picker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, btTag)
		}
	}
}

// SelectDevice presents an interactive device picker on the terminal.
// With a single device it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &picker{devices: devices}
	p.render(os.Stdout)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch p.key(buf[:n]) {
		case pickerConfirm:
			fmt.Print("\r\n")
			return &devices[p.cursor], nil
		case pickerCancel:
			fmt.Print("\r\n")
			return nil, ErrSelectionCancelled
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		p.render(os.Stdout)
	}
}
