package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/naradvoice/narad/internal/loader"
)

// Context is an audio output device. It satisfies loader.Runtime so it can be
// produced by the process-wide engine loader.
type Context interface {
	// NewStream opens a playback stream for PCM in format f.
	NewStream(f Format) (Stream, error)
	// IsReady reports whether the device can play audio.
	IsReady() bool
	// SampleRate of the device.
	SampleRate() int
	// Close releases the device.
	Close() error
}

// Stream plays PCM chunks in the order they are written.
type Stream interface {
	// Write queues a chunk for playback.
	Write(pcm []byte) error
	// Clear drops queued audio that has not been played yet.
	Clear()
	// Buffered returns how much queued audio is left to play.
	Buffered() time.Duration
	// Close stops playback.
	Close() error
}

// Kind selects the output implementation.
type Kind int

const (
	// KindProduction plays through the system audio device.
	KindProduction Kind = iota
	// KindMock discards audio while keeping playback timing.
	KindMock
	// KindAuto uses the device when one is present and falls back to mock.
	KindAuto
)

// Config configures the output runtime.
type Config struct {
	Kind       Kind
	SampleRate int
}

// IsCI detects if we're running in a CI environment.
func IsCI() bool {
	ciVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"BUILDKITE",
	}
	for _, envVar := range ciVars {
		if val := os.Getenv(envVar); val != "" && val != "false" {
			log.Debug("CI environment detected", "variable", envVar)
			return true
		}
	}
	if os.Getenv("NARAD_MOCK_AUDIO") == "true" {
		log.Debug("Mock audio requested via environment variable")
		return true
	}
	return false
}

// NewContext creates an output device.
func NewContext(cfg Config) (Context, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	switch cfg.Kind {
	case KindProduction:
		log.Debug("Creating production audio context", "sample_rate", cfg.SampleRate)
		ctx, err := newDeviceContext(cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		return ctx, nil

	case KindMock:
		log.Debug("Creating mock audio context", "sample_rate", cfg.SampleRate)
		return NewMockContext(cfg.SampleRate), nil

	case KindAuto:
		platform := DetectPlatform()
		if platform.ShouldUseMockAudio() {
			log.Info("Using mock audio context", "reason", platform.mockReason())
			return NewMockContext(cfg.SampleRate), nil
		}
		ctx, err := newDeviceContext(cfg.SampleRate)
		if err != nil {
			log.Warn("Failed to create production audio context, falling back to mock",
				"error", err,
				"platform", platform.OS)
			return NewMockContext(cfg.SampleRate), nil
		}
		return ctx, nil

	default:
		return nil, fmt.Errorf("unknown audio context kind: %v", cfg.Kind)
	}
}

// Load returns a loader.LoadFunc that creates the output device.
func Load(cfg Config) loader.LoadFunc {
	return func(ctx context.Context) (loader.Runtime, error) {
		type result struct {
			c   Context
			err error
		}
		done := make(chan result, 1)
		go func() {
			c, err := NewContext(cfg)
			done <- result{c, err}
		}()
		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			return r.c, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("audio output initialization: %w", ctx.Err())
		}
	}
}

// FromRuntime returns the output device behind a loaded runtime.
func FromRuntime(rt loader.Runtime) (Context, error) {
	c, ok := rt.(Context)
	if !ok {
		return nil, fmt.Errorf("runtime %T is not an audio context", rt)
	}
	return c, nil
}
