//go:build !nocgo
// +build !nocgo

package audio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// deviceContext plays through the system audio device via oto.
type deviceContext struct {
	context    *oto.Context
	sampleRate int

	mu    sync.Mutex
	ready bool
}

func newDeviceContext(sampleRate int) (*deviceContext, error) {
	options := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = 100 * time.Millisecond
	case "windows":
		options.BufferSize = 80 * time.Millisecond
	default:
		options.BufferSize = 50 * time.Millisecond
	}

	log.Debug("Initializing production audio context",
		"sample_rate", options.SampleRate,
		"buffer_size", options.BufferSize)

	octx, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	readyTimeout := 5 * time.Second
	if runtime.GOOS == "darwin" {
		readyTimeout = 10 * time.Second
	}
	select {
	case <-readyChan:
	case <-time.After(readyTimeout):
		return nil, fmt.Errorf("audio context initialization timeout after %v", readyTimeout)
	}

	log.Debug("Production audio context initialized")
	return &deviceContext{context: octx, sampleRate: sampleRate, ready: true}, nil
}

// NewStream starts an oto player reading from a PCM queue.
func (d *deviceContext) NewStream(f Format) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, errors.New("audio context not ready")
	}

	rs, err := NewResampler(f.SampleRate, d.sampleRate)
	if err != nil {
		return nil, err
	}
	q := newQueue(Format{SampleRate: d.sampleRate, Channels: Channels})
	p := d.context.NewPlayer(q)
	p.Play()
	return &deviceStream{player: p, queue: q, resampler: rs}, nil
}

func (d *deviceContext) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *deviceContext) SampleRate() int { return d.sampleRate }

// Close marks the context unusable. oto v3 contexts live for the process.
func (d *deviceContext) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = false
	return nil
}

type deviceStream struct {
	player    *oto.Player
	queue     *queue
	resampler *Resampler

	closeOnce sync.Once
}

func (s *deviceStream) Write(pcm []byte) error {
	data, err := s.resampler.Process(pcm)
	if err != nil {
		return err
	}
	s.queue.push(data)
	return nil
}

func (s *deviceStream) Clear() { s.queue.clear() }

func (s *deviceStream) Buffered() time.Duration { return s.queue.buffered() }

func (s *deviceStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.queue.close()
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}
