package mic

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func quiet() *log.Logger { return log.New(io.Discard) }

func TestAcquireReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/bin/sh\nprintf 'hello'\nexec sleep 2\n")
	m := New(Config{Command: script, SampleRate: 24000}, quiet())

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if c.SampleRate() != 24000 {
		t.Errorf("sample rate = %d", c.SampleRate())
	}

	buf := make([]byte, 8)
	n, readErr := c.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestAcquireEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/bin/sh\necho 'boom' 1>&2\nexit 1\n")
	_, err := New(Config{Command: script}, quiet()).Acquire(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAcquirePermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh", "#!/bin/sh\necho 'default: Permission denied' 1>&2\nexit 1\n")
	_, err := New(Config{Command: script}, quiet()).Acquire(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestAcquireMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Command: "narad-no-such-ffmpeg"}, quiet()).Acquire(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAcquireCancelled(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "slow.sh", "#!/bin/sh\nexec sleep 5\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{Command: script}, quiet()).Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestArgs(t *testing.T) {
	t.Parallel()

	m := New(Config{Command: "ffmpeg", InputFormat: "alsa", InputDevice: "hw:1", SampleRate: 16000}, quiet())
	got := strings.Join(m.args(), " ")
	want := "-nostdin -hide_banner -loglevel warning -f alsa -i hw:1 -ac 1 -ar 16000 -f s16le -"
	if got != want {
		t.Errorf("args = %q", got)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("sh", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}
