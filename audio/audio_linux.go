//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const pulseLatency = 0.05 // seconds

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("speakscore"))
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", ErrDeviceUnavailable, err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("listing pulse sources: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

// NewCapture resolves the source up front so a missing microphone is
// reported when the screen opens, not on the first Start.
func (p *pulseContext) NewCapture(device *DeviceInfo, cfg CaptureConfig) (CaptureDevice, error) {
	var source *pulse.Source
	if device != nil {
		s, err := p.client.SourceByID(device.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: source %q: %v", ErrDeviceUnavailable, device.Name, err)
		}
		source = s
	} else if _, err := p.client.DefaultSource(); err != nil {
		return nil, fmt.Errorf("%w: no default source: %v", ErrDeviceUnavailable, err)
	}
	return &pulseCapture{client: p.client, device: device, source: source, cfg: cfg}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

// pulseCapture keeps one record stream for its lifetime. Pause and resume
// map to stopping and restarting that stream.
type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	source   *pulse.Source
	cfg      CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
	closed bool
}

func (c *pulseCapture) write(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	cb := c.callback.Load()
	if cb == nil {
		return len(buf), nil
	}
	pcm := make([]byte, len(buf)*2)
	for i, s := range buf {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	(*cb)(pcm, uint32(len(buf)))
	return len(buf), nil
}

func (c *pulseCapture) open() (*pulse.RecordStream, error) {
	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.cfg.SampleRate)),
		pulse.RecordLatency(pulseLatency),
		pulse.RecordMediaName("speakscore answer"),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	}
	if c.source != nil {
		opts = append(opts, pulse.RecordSource(c.source))
	}
	stream, err := c.client.NewRecord(pulse.Int16Writer(c.write), opts...)
	if err != nil {
		return nil, fmt.Errorf("opening pulse record stream: %w", err)
	}
	return stream, nil
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: capture closed", ErrDeviceUnavailable)
	}
	if c.stream == nil {
		stream, err := c.open()
		if err != nil {
			return err
		}
		c.stream = stream
	}
	if !c.stream.Running() {
		c.stream.Start()
	}
	if err := c.stream.Error(); err != nil {
		return fmt.Errorf("pulse record stream: %w", err)
	}
	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil && c.stream.Running() {
		c.stream.Stop()
	}
}

func (c *pulseCapture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
		c.stream = nil
	}
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}
