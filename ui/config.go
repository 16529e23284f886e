package ui

// Config contains TUI-specific configuration.
type Config struct {
	GlamourMaxWidth uint
	GlamourStyle    string `env:"GLAMOUR_STYLE"`
	EnableMouse     bool

	// ScriptURL is the SDK script referenced by generated snippets.
	ScriptURL string

	// CatalogPath is the file the agent catalog was read from. When set,
	// the catalog is reloaded whenever the file changes.
	CatalogPath string

	// For debugging the UI
	GlamourEnabled bool `env:"NARAD_ENABLE_GLAMOUR" envDefault:"true"`
	ReduceMotion   bool `env:"NARAD_REDUCE_MOTION"`
}
