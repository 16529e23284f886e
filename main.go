// Package main provides the entry point for the narad CLI.
package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/naradvoice/narad/internal/engine/convai"
	"github.com/naradvoice/narad/internal/snippet"
	"github.com/naradvoice/narad/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	style      string
	width      uint
	mouse      bool

	rootCmd = &cobra.Command{
		Use:   "narad",
		Short: "Try, test and embed voice agents from the terminal",
		Long: paragraph(
			fmt.Sprintf("\nBrowse the agent showcase, %s, and grab the snippet that embeds it on your site.", keyword("talk to an agent live")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// validateStyle checks that style names a built-in glamour style.
func validateStyle(style string) error {
	if style != styles.AutoStyle && styles.DefaultStyles[style] == nil {
		return fmt.Errorf("specified style does not exist: %s", style)
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	// grab config values from Viper
	debug = viper.GetBool("debug")
	mouse = viper.GetBool("mouse")
	width = viper.GetUint("width")
	setLogLevel(debug)

	if err := validateSettings(viper.GetViper()); err != nil {
		return err
	}

	// validate the glamour style
	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	// We want to use a special no-TTY style, when stdout is not a terminal
	// and there was no specific style passed by arg
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") { //nolint:nestif
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}

			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// validateSettings checks the engine, audio and snippet settings.
func validateSettings(v *viper.Viper) error {
	if u := v.GetString("engine.url"); u != "" {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("invalid engine url: %w", err)
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return fmt.Errorf("engine url must use ws or wss, got %q", parsed.Scheme)
		}
	}
	if v.GetDuration("engine.handshake_timeout") < 0 {
		return errors.New("engine handshake_timeout must not be negative")
	}
	if d := v.GetDuration("engine.load_timeout"); d <= 0 {
		return fmt.Errorf("engine load_timeout must be positive, got %s", d)
	}
	if rate := v.GetInt("audio.sample_rate"); rate < 8000 || rate > 48000 {
		return fmt.Errorf("audio sample_rate must be between 8000 and 48000, got %d", rate)
	}
	if u := v.GetString("snippet.script_url"); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("invalid snippet script_url: %w", err)
		}
	}
	return nil
}

func execute(*cobra.Command, []string) error {
	return runTUI()
}

func runTUI() error {
	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or the configured one if unset or invalid
	if err := validateStyle(cfg.GlamourStyle); err != nil || cfg.GlamourStyle == "" {
		cfg.GlamourStyle = style
	}
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse
	cfg.ScriptURL = viper.GetString("snippet.script_url")
	cfg.CatalogPath = viper.ConfigFileUsed()

	svc, err := newServices(log.Default())
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := ui.NewProgram(cfg, svc.embedDeps(nil), loadCatalog)
	if err != nil {
		return err
	}
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write debug output to the log file")
	rootCmd.PersistentFlags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name")
	rootCmd.PersistentFlags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to disable)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("style", rootCmd.PersistentFlags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.PersistentFlags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)

	viper.SetDefault("engine.url", convai.DefaultURL)
	viper.SetDefault("engine.api_key", "")
	viper.SetDefault("engine.handshake_timeout", "15s")
	viper.SetDefault("engine.load_timeout", "30s")

	viper.SetDefault("audio.ffmpeg", "ffmpeg")
	viper.SetDefault("audio.input_format", "")
	viper.SetDefault("audio.input_device", "")
	viper.SetDefault("audio.sample_rate", 16000)
	viper.SetDefault("audio.mock_output", false)

	viper.SetDefault("transcripts.enabled", true)
	viper.SetDefault("transcripts.dir", "")
	viper.SetDefault("transcripts.keep", "720h")

	viper.SetDefault("snippet.script_url", snippet.DefaultScriptURL)

	rootCmd.AddCommand(configCmd, manCmd, connectCmd, snippetCmd, agentsCmd, transcriptsCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narad")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narad")}, dirs...)
	}

	if c := os.Getenv("NARAD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narad")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narad")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "narad.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Warn("Could not read default configuration", "err", err)
	}
}
