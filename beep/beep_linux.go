//go:build linux

package beep

import (
	"sync"

	"speakscore/log"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulse clients are cheap but concurrent cues would overlap
var playMu sync.Mutex

func play(c Cue) {
	s := samples(c)
	if len(s) == 0 {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()

	client, err := pulse.NewClient(pulse.ClientApplicationName("speakscore"))
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	defer client.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(s) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, s[pos:])
		pos += n
		return n, nil
	})
	stream, err := client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}
