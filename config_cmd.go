package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# style name (default "auto")
style: "auto"
# mouse support
mouse: false
# word-wrap at width
width: 80
# write debug output to the log file
debug: false

# Voice engine connection
engine:
  url: "wss://api.elevenlabs.io/v1/convai/conversation"
  # Only needed for private agents.
  # api_key: ""
  handshake_timeout: "15s"
  # How long to wait for the audio runtime to load.
  load_timeout: "30s"

# Microphone capture (ffmpeg) and speaker output
audio:
  ffmpeg: "ffmpeg"
  # Leave empty for the platform default (pulse, avfoundation or dshow).
  input_format: ""
  input_device: ""
  sample_rate: 16000
  # Discard agent audio instead of playing it.
  mock_output: false

# Conversation transcripts
transcripts:
  enabled: true
  # dir: "~/.local/share/narad/transcripts"
  # Transcripts older than this are removed by "narad transcripts --prune".
  keep: "720h"

# Embed snippet
snippet:
  script_url: "https://cdn.narad.ai/sdk/v1/widget.js"

# Agents shown in the showcase. Remove this list to use the built-in agents.
# agents:
#   - key: "sales-agent-001"
#     name: "Eric - Real Estate"
#     description: "Specializes in discovery and personalized Property walkthroughs."
#     agent_id: "agent_2601kdzvekjcfrcbbcd1bt5pv5ws"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the narad config file",
	Long:    paragraph(fmt.Sprintf("\n%s the narad config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("narad config\nnarad config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Narad", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
