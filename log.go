package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLog sends the default logger to a rotated file in the user data
// directory. The terminal belongs to the UI, so nothing is logged to stderr.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	dataDir, err := dataDirectory()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	f := &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, "narad.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.SetLevel(log.InfoLevel)
	return f.Close, nil
}

// setLogLevel applies the configured verbosity once flags and config are read.
func setLogLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		return
	}
	log.SetLevel(log.InfoLevel)
}

func dataDirectory() (string, error) {
	if d := os.Getenv("NARAD_DATA_HOME"); d != "" {
		return d, nil
	}
	dirs, err := gap.NewScope(gap.User, "narad").DataDirs()
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", errors.New("no data directory available")
	}
	return dirs[0], nil
}
