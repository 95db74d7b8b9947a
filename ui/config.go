package ui

// Config contains TUI-specific configuration.
type Config struct {
	// Lesson file being read
	Path  string
	Title string

	EnableMouse bool
	// Wrap width for the lesson text; zero follows the terminal.
	MaxWidth uint `env:"READALOUD_MAX_WIDTH"`

	// Start reading the first sentence as soon as the view opens.
	AutoPlay bool
	// Keep reading the next sentence when one finishes.
	AutoAdvance bool `env:"READALOUD_AUTO_ADVANCE" envDefault:"true"`
	// Warm the word cache with the sentence after the current one.
	Prefetch bool `env:"READALOUD_PREFETCH" envDefault:"true"`

	Rate  float64
	Pitch float64
}
