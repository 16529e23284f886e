package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/audio"
	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/embed"
	"github.com/naradvoice/narad/internal/engine/convai"
	"github.com/naradvoice/narad/internal/loader"
	"github.com/naradvoice/narad/internal/mic"
	"github.com/naradvoice/narad/internal/transcript"
)

// services are the long-lived collaborators shared by every bridge the
// process creates.
type services struct {
	logger *log.Logger
	loader *loader.Loader
	engine *convai.Engine
	mic    *mic.FFMPEG
	store  *transcript.Store
}

func newServices(logger *log.Logger) (*services, error) {
	svc := &services{logger: logger}

	kind := audio.KindAuto
	if viper.GetBool("audio.mock_output") {
		kind = audio.KindMock
	}
	svc.loader = loader.New(
		audio.Load(audio.Config{Kind: kind, SampleRate: audio.DefaultSampleRate}),
		loader.WithLogger(logger.WithPrefix("loader")),
		loader.WithTimeout(viper.GetDuration("engine.load_timeout")),
	)
	loader.SetDefault(svc.loader)

	svc.engine = convai.New(convai.Config{
		URL:              viper.GetString("engine.url"),
		APIKey:           viper.GetString("engine.api_key"),
		HandshakeTimeout: viper.GetDuration("engine.handshake_timeout"),
	},
		convai.WithLogger(logger.WithPrefix("convai")),
		convai.WithOutput(svc.openOutput),
	)

	svc.mic = mic.New(mic.Config{
		Command:     expandPath(viper.GetString("audio.ffmpeg")),
		InputFormat: viper.GetString("audio.input_format"),
		InputDevice: viper.GetString("audio.input_device"),
		SampleRate:  viper.GetInt("audio.sample_rate"),
	}, logger.WithPrefix("mic"))

	if viper.GetBool("transcripts.enabled") {
		dir, err := transcriptDir()
		if err != nil {
			return nil, err
		}
		store, err := transcript.Open(dir, logger.WithPrefix("transcript"))
		if err != nil {
			return nil, err
		}
		svc.store = store
	}
	return svc, nil
}

// openOutput plays agent audio through the loaded runtime.
func (s *services) openOutput(ctx context.Context, f audio.Format) (audio.Stream, error) {
	rt, err := s.loader.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	out, err := audio.FromRuntime(rt)
	if err != nil {
		return nil, err
	}
	return out.NewStream(f)
}

// bridgeOptions returns the options every bridge is built with. sink may
// be nil.
func (s *services) bridgeOptions(sink bridge.Sink) []bridge.Option {
	opts := []bridge.Option{bridge.WithMicrophone(s.mic)}
	if s.store != nil {
		opts = append(opts, bridge.WithRecorder(s.store.RecorderFunc()))
	}
	if sink != nil {
		opts = append(opts, bridge.WithSink(sink))
	}
	return opts
}

func (s *services) embedDeps(sink bridge.Sink) embed.Deps {
	return embed.Deps{
		Loader:  s.loader,
		Engine:  s.engine,
		Options: s.bridgeOptions(sink),
		Logger:  s.logger.WithPrefix("bridge"),
	}
}

func (s *services) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Failed to close transcript store", "error", err)
		}
	}
	if s.loader.State() != loader.Loaded {
		return
	}
	rt, err := s.loader.Ensure(context.Background())
	if err != nil {
		return
	}
	if out, err := audio.FromRuntime(rt); err == nil {
		_ = out.Close()
	}
}

// loadCatalog reads the agent list from config, falling back to the
// built-in showcase.
func loadCatalog() (agent.Catalog, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && viper.ConfigFileUsed() != "" {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}
	var c agent.Catalog
	if err := viper.UnmarshalKey("agents", &c); err != nil {
		return nil, fmt.Errorf("invalid agents list: %w", err)
	}
	if len(c) == 0 {
		c = agent.DefaultCatalog()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func transcriptDir() (string, error) {
	if d := viper.GetString("transcripts.dir"); d != "" {
		return expandPath(d), nil
	}
	dataDir, err := dataDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "transcripts"), nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(p string) string {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return expanded
}
