// Package mic captures microphone audio by running ffmpeg and reading raw
// PCM from its stdout.
package mic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/naradvoice/narad/internal/bridge"
)

const (
	startupGrace = 250 * time.Millisecond
	stopTimeout  = 1200 * time.Millisecond
)

var (
	// ErrPermissionDenied means the system refused access to the input device.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrUnavailable means no usable input device was found.
	ErrUnavailable = errors.New("microphone unavailable")
)

// Config selects the capture device.
type Config struct {
	Command     string // ffmpeg binary
	InputFormat string // ffmpeg input format, e.g. pulse, alsa, avfoundation
	InputDevice string
	SampleRate  int
}

// DefaultConfig returns capture settings for the current platform.
func DefaultConfig() Config {
	cfg := Config{Command: "ffmpeg", SampleRate: 16000}
	switch runtime.GOOS {
	case "darwin":
		cfg.InputFormat, cfg.InputDevice = "avfoundation", ":0"
	case "windows":
		cfg.InputFormat, cfg.InputDevice = "dshow", "audio=default"
	default:
		cfg.InputFormat, cfg.InputDevice = "pulse", "default"
	}
	return cfg
}

// FFMPEG implements bridge.Microphone.
type FFMPEG struct {
	cfg    Config
	logger *log.Logger
}

// New returns a capture source. Zero fields of cfg take platform defaults.
func New(cfg Config, logger *log.Logger) *FFMPEG {
	def := DefaultConfig()
	if cfg.Command == "" {
		cfg.Command = def.Command
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = def.InputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = def.InputDevice
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FFMPEG{cfg: cfg, logger: logger}
}

func (f *FFMPEG) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", f.cfg.InputFormat,
		"-i", f.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Acquire starts ffmpeg and returns once it has survived its startup. The
// process outlives ctx; it runs until Stop.
func (f *FFMPEG) Acquire(ctx context.Context) (bridge.Capture, error) {
	cmd := exec.Command(f.cfg.Command, f.args()...)
	var stderr syncBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, f.cfg.Command)
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, classify(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	f.logger.Debug("Microphone capture started",
		"format", f.cfg.InputFormat,
		"device", f.cfg.InputDevice,
		"sample_rate", f.cfg.SampleRate)

	return &Capture{
		stdout:     stdout,
		stderr:     &stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		sampleRate: f.cfg.SampleRate,
	}, nil
}

// classify turns an early ffmpeg exit into a capture error.
func classify(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	base := ErrUnavailable
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "not authorized"),
		strings.Contains(lower, "operation not permitted"):
		base = ErrPermissionDenied
	}
	if err == nil {
		return fmt.Errorf("%w: ffmpeg exited before capture started", base)
	}
	if msg == "" {
		return fmt.Errorf("%w: ffmpeg exited before capture started: %v", base, err)
	}
	return fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", base, err, msg)
}

// Capture is a running ffmpeg capture.
type Capture struct {
	stdout     io.ReadCloser
	stderr     *syncBuffer
	process    *os.Process
	waitErr    <-chan error
	sampleRate int

	stopOnce sync.Once
	stopErr  error
}

// Read returns raw 16-bit little endian mono PCM.
func (c *Capture) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// SampleRate of the captured audio.
func (c *Capture) SampleRate() int { return c.sampleRate }

// Stop interrupts ffmpeg, killing it if it does not exit in time. It is safe
// to call more than once.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		if c.process != nil {
			_ = c.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopTimeout):
			if c.process != nil {
				_ = c.process.Kill()
			}
			if err, ok := <-c.waitErr; ok {
				c.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := c.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = closeErr
		}
		if c.stopErr != nil && c.stderr != nil && c.stderr.Len() > 0 {
			c.stopErr = fmt.Errorf("%w: %s", c.stopErr, strings.TrimSpace(c.stderr.String()))
		}
	})
	return c.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of exec and
// reads of Stop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
