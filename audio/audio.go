package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

const (
	WAVHeaderSize = 44

	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// ErrDeviceUnavailable is returned when the microphone cannot be acquired,
// typically because permission was denied or no capture device exists.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", "(bt)", "[bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives one fragment of little-endian PCM16 audio.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice is an exclusively owned microphone handle. Start and Stop may
// be called repeatedly; Close releases the device for good.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Level returns the RMS level of a PCM16 fragment in the range [0, 1].
func Level(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}
	var sumSquares float64
	n := len(data) / 2
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}

// Samples decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func Samples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
