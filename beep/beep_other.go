//go:build !linux

package beep

import (
	"sync"
	"sync/atomic"

	"speakscore/log"

	"github.com/gen2brain/malgo"
)

var (
	initOnce sync.Once
	mctx     *malgo.AllocatedContext
	device   *malgo.Device

	playMu  sync.Mutex
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
)

func initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: fill})
	return err
}

func setup() {
	var err error
	mctx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Warnf("playback context: %v", err)
		return
	}
	if err := initDevice(); err != nil {
		log.Warnf("playback device: %v", err)
		mctx.Uninit()
		mctx = nil
	}
}

func fill(out, _ []byte, frames uint32) {
	want := frames * 2
	buf := current.Load()
	var n uint32
	if buf != nil {
		p := pos.Load()
		if rem := uint32(len(*buf)) - p; rem > 0 {
			n = min(want, rem)
			copy(out[:n], (*buf)[p:p+n])
			pos.Store(p + n)
		} else {
			current.Store(nil)
		}
	}
	clear(out[n:want])
}

func play(c Cue) {
	initOnce.Do(setup)
	s := samples(c)
	if mctx == nil || len(s) == 0 {
		return
	}
	data := toBytes(s)

	playMu.Lock()
	defer playMu.Unlock()

	device.Stop()
	pos.Store(0)
	current.Store(&data)
	if err := device.Start(); err == nil {
		return
	}
	// the device can go stale across sleep/wake
	device.Uninit()
	if err := initDevice(); err != nil {
		current.Store(nil)
		log.Warnf("playback device: %v", err)
		return
	}
	if err := device.Start(); err != nil {
		current.Store(nil)
		log.Warnf("playback: %v", err)
	}
}
