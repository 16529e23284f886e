package audio

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
)

// Platform is the current operating system.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// PlatformInfo describes the audio capabilities of the host.
type PlatformInfo struct {
	OS             Platform
	HasAudioDevice bool
	IsCI           bool
}

// DetectPlatform detects the current platform and whether it has an output
// device.
func DetectPlatform() *PlatformInfo {
	info := &PlatformInfo{
		OS:   getPlatform(),
		IsCI: IsCI(),
	}
	switch info.OS {
	case PlatformLinux:
		info.HasAudioDevice = checkLinuxAudioDevices()
	case PlatformDarwin, PlatformWindows:
		// CoreAudio and WASAPI are present on every desktop install.
		info.HasAudioDevice = true
	}

	log.Debug("Platform detected",
		"os", info.OS,
		"has_device", info.HasAudioDevice,
		"is_ci", info.IsCI)
	return info
}

func getPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	case "windows":
		return PlatformWindows
	default:
		return PlatformUnknown
	}
}

func checkLinuxAudioDevices() bool {
	if entries, err := os.ReadDir("/dev/snd"); err == nil {
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), "pcm") {
				return true
			}
		}
	}
	if content, err := os.ReadFile("/proc/asound/cards"); err == nil && len(content) > 0 &&
		!strings.Contains(string(content), "no soundcards") {
		return true
	}
	if _, err := exec.LookPath("pactl"); err == nil {
		if out, err := exec.Command("pactl", "list", "short", "sinks").Output(); err == nil && len(out) > 0 {
			return true
		}
	}
	return false
}

// ShouldUseMockAudio reports whether real playback should be skipped.
func (p *PlatformInfo) ShouldUseMockAudio() bool {
	return p.IsCI || !p.HasAudioDevice
}

func (p *PlatformInfo) mockReason() string {
	switch {
	case p.IsCI:
		return "CI environment"
	case !p.HasAudioDevice:
		return "no audio devices"
	default:
		return "unknown"
	}
}

// String returns a string representation of the platform info.
func (p *PlatformInfo) String() string {
	return fmt.Sprintf("Platform{OS: %s, HasDevice: %v, IsCI: %v}", p.OS, p.HasAudioDevice, p.IsCI)
}
