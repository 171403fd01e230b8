package audio

import (
	"errors"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

var errFakeClosed = errors.New("fake capture closed")

// FakeContext hands out FakeCaptures. With Err set, NewCapture fails the way
// a denied microphone does.
type FakeContext struct {
	pcm      []byte
	realtime bool
	Err      error

	mu       sync.Mutex
	captures []*FakeCapture
}

// NewFakeContext loads a WAV file whose PCM is fed to captures. With realtime
// set the audio is paced at the sample rate; otherwise fragments are only
// delivered through Emit.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	pcm, _, err := ReadPCM(wavPath)
	if err != nil {
		return nil, err
	}
	return &FakeContext{pcm: pcm, realtime: realtime}, nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewFakeCapture(f.pcm, f.realtime)
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every capture handed out so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu        sync.Mutex
	cb        DataCallback
	running   bool
	closed    bool
	pos       int
	starts    int
	stops     int
	stopCh    chan struct{}
	feedDone  chan struct{}
	audioDone chan struct{}
}

func NewFakeCapture(pcm []byte, realtime bool) *FakeCapture {
	return &FakeCapture{pcm: pcm, realtime: realtime, audioDone: make(chan struct{})}
}

// AudioDone is closed once the realtime feeder has delivered all of its PCM.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Emit delivers data to the callback as if the device produced it. Nothing
// is delivered while the capture is stopped; the return reports delivery.
func (f *FakeCapture) Emit(data []byte) bool {
	f.mu.Lock()
	cb := f.cb
	running := f.running
	f.mu.Unlock()
	if !running || cb == nil {
		return false
	}
	cb(data, uint32(len(data)/fakeBytesPerFrame))
	return true
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	if f.running {
		return nil
	}
	f.running = true
	f.starts++
	if !f.realtime || len(f.pcm) == 0 {
		return nil
	}

	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	go f.feed(f.stopCh, f.feedDone)
	return nil
}

func (f *FakeCapture) feed(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate)
	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		f.mu.Lock()
		cb := f.cb
		var chunk []byte
		if f.pos < len(f.pcm) {
			end := min(f.pos+chunkBytes, len(f.pcm))
			chunk = append([]byte(nil), f.pcm[f.pos:end]...)
			f.pos = end
			if f.pos == len(f.pcm) {
				close(f.audioDone)
			}
		}
		f.mu.Unlock()

		if chunk != nil && cb != nil {
			cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
		}
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.stops++
	stop, done := f.stopCh, f.feedDone
	f.stopCh, f.feedDone = nil, nil
	f.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Rewind restarts realtime feeding from the beginning of the PCM.
func (f *FakeCapture) Rewind() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.pcm) {
		f.audioDone = make(chan struct{})
	}
	f.pos = 0
}

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *FakeCapture) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
