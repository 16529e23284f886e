package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		rate    int
		wantErr bool
	}{
		{"pcm_16000", 16000, false},
		{"pcm_44100", 44100, false},
		{"ulaw_8000", 0, true},
		{"pcm_", 0, true},
		{"pcm_-1", 0, true},
	}
	for _, tt := range tests {
		f, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && f.SampleRate != tt.rate {
			t.Errorf("ParseFormat(%q) rate = %d, want %d", tt.in, f.SampleRate, tt.rate)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	f := DefaultFormat()
	// One second of 16 kHz mono 16-bit audio.
	if d := f.Duration(32000); d != time.Second {
		t.Errorf("Duration = %v, want 1s", d)
	}
	if d := (Format{}).Duration(100); d != 0 {
		t.Errorf("zero format duration = %v", d)
	}
}

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestResampler(t *testing.T) {
	in := pcm(0, 100, 200, 300)

	same, err := NewResampler(16000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	out, err := same.Process(in)
	if err != nil || !bytes.Equal(out, in) {
		t.Fatalf("same-rate resample changed data: %v", err)
	}

	up, err := NewResampler(16000, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if from, to := up.Rates(); from != 16000 || to != 48000 {
		t.Errorf("rates = %d, %d", from, to)
	}
	total := 0
	chunk := pcm(make([]int16, 1600)...)
	for range 10 {
		out, err := up.Process(chunk)
		if err != nil {
			t.Fatal(err)
		}
		if len(out)%2 != 0 {
			t.Fatalf("misaligned output length %d", len(out))
		}
		total += len(out)
	}
	// One second of input; allow for the filter delay.
	if want := 48000 * 2; total < want*9/10 || total > want {
		t.Errorf("upsampled %d bytes, want about %d", total, want)
	}

	if _, err := up.Process([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for misaligned PCM")
	}
	if _, err := NewResampler(0, 16000); err == nil {
		t.Error("expected error for zero rate")
	}
}

func TestQueueReadPadsSilence(t *testing.T) {
	q := newQueue(DefaultFormat())
	q.push([]byte{1, 2, 3, 4})
	q.push([]byte{5, 6})
	if q.buffered() == 0 {
		t.Error("expected buffered audio")
	}

	buf := make([]byte, 8)
	n, err := q.Read(buf)
	if err != nil || n != 8 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4, 5, 6, 0, 0}) {
		t.Errorf("Read = %v", buf)
	}
	if q.buffered() != 0 {
		t.Errorf("buffered after drain = %v", q.buffered())
	}
}

func TestQueuePartialReadAndClear(t *testing.T) {
	q := newQueue(DefaultFormat())
	q.push([]byte{1, 2, 3, 4})

	buf := make([]byte, 2)
	q.Read(buf)
	if !bytes.Equal(buf, []byte{1, 2}) {
		t.Fatalf("first read = %v", buf)
	}
	q.clear()
	q.Read(buf)
	if !bytes.Equal(buf, []byte{0, 0}) {
		t.Errorf("read after clear = %v", buf)
	}

	q.close()
	q.push([]byte{9, 9})
	if q.buffered() != 0 {
		t.Error("closed queue accepted audio")
	}
}

func TestMockStreamTiming(t *testing.T) {
	ctx := NewMockContext(0)
	if !ctx.IsReady() || ctx.SampleRate() != DefaultSampleRate {
		t.Fatalf("unexpected mock context state")
	}
	st, err := ctx.NewStream(DefaultFormat())
	if err != nil {
		t.Fatal(err)
	}
	s := st.(*MockStream)

	now := time.Unix(100, 0)
	s.now = func() time.Time { return now }

	s.Write(make([]byte, 16000)) // 500ms
	s.Write(make([]byte, 16000))
	if d := s.Buffered(); d != time.Second {
		t.Errorf("Buffered = %v, want 1s", d)
	}
	now = now.Add(600 * time.Millisecond)
	if d := s.Buffered(); d != 400*time.Millisecond {
		t.Errorf("Buffered = %v, want 400ms", d)
	}
	s.Clear()
	if d := s.Buffered(); d != 0 {
		t.Errorf("Buffered after clear = %v", d)
	}

	m := s.Metrics()
	if m.Writes != 2 || m.Bytes != 32000 || m.Clears != 1 {
		t.Errorf("metrics = %+v", m)
	}

	s.Close()
	if err := s.Write([]byte{0, 0}); err == nil {
		t.Error("write after close should fail")
	}
	if len(ctx.Streams()) != 1 {
		t.Errorf("streams = %d", len(ctx.Streams()))
	}
}

func TestLoadMockRuntime(t *testing.T) {
	rt, err := Load(Config{Kind: KindMock})(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rt.IsReady() {
		t.Fatal("runtime not ready")
	}
	c, err := FromRuntime(rt)
	if err != nil {
		t.Fatal(err)
	}
	if c.SampleRate() != DefaultSampleRate {
		t.Errorf("sample rate = %d", c.SampleRate())
	}
	c.Close()
	if c.IsReady() {
		t.Error("closed context still ready")
	}
}
