package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Audio format used by the voice engine: signed 16-bit little endian mono.
const (
	DefaultSampleRate = 16000
	Channels          = 1
	BitDepth          = 16
)

// Format describes a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat returns the engine's default PCM format.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: Channels}
}

// FrameSize is the number of bytes per sample frame.
func (f Format) FrameSize() int {
	return BitDepth / 8 * f.Channels
}

// Duration returns how long n bytes of audio play for.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate == 0 || f.FrameSize() == 0 {
		return 0
	}
	frames := n / f.FrameSize()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// ParseFormat parses engine format names such as "pcm_16000".
func ParseFormat(name string) (Format, error) {
	rate, ok := strings.CutPrefix(name, "pcm_")
	if !ok {
		return Format{}, fmt.Errorf("unsupported audio format %q", name)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return Format{}, fmt.Errorf("invalid sample rate in %q", name)
	}
	return Format{SampleRate: n, Channels: Channels}, nil
}
