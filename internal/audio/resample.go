package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono 16-bit PCM between sample rates. It keeps filter
// state across calls, so each stream needs its own.
type Resampler struct {
	from, to int
	rs       resampling.Resampler // nil when the rates match
}

// NewResampler returns a Resampler from one rate to another.
func NewResampler(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, errors.New("sample rates must be positive")
	}
	r := &Resampler{from: from, to: to}
	if from == to {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// Rates returns the input and output sample rates.
func (r *Resampler) Rates() (from, to int) { return r.from, r.to }

// Process resamples one chunk. The output length follows the filter's delay,
// so a short first chunk may produce little or no output.
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length %d is not aligned to 2-byte samples", len(pcm))
	}
	if r.rs == nil || len(pcm) == 0 {
		return pcm, nil
	}

	in := make([]float64, len(pcm)/2)
	for i := range in {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	out, err := r.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	data := make([]byte, len(out)*2)
	for i, v := range out {
		var sample int16
		switch {
		case v >= 1.0:
			sample = 32767
		case v < -1.0:
			sample = -32768
		default:
			sample = int16(v * 32767.0)
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data, nil
}
