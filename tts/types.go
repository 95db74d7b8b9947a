package tts

// Default prosody used when a caller leaves rate or pitch unset.
const (
	DefaultRate  = 0.85
	DefaultPitch = 1.0

	// MinProsody and MaxProsody bound both rate and pitch multipliers.
	MinProsody = 0.5
	MaxProsody = 2.0

	// MaxTextLength is the synthesize endpoint's limit in characters.
	MaxTextLength = 5000
)

// ProviderKind identifies which synthesizer serves a voice.
type ProviderKind int

const (
	// ProviderLocal is the operating system synthesizer.
	ProviderLocal ProviderKind = iota
	// ProviderCloud is the remote neural voice backend.
	ProviderCloud
)

// String returns the string representation of the provider.
func (p ProviderKind) String() string {
	switch p {
	case ProviderCloud:
		return "cloud"
	case ProviderLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Voice describes a selectable synthetic voice.
type Voice struct {
	Name     string       // Voice identifier (e.g. "en-ZA-LeahNeural")
	Language string       // Language or locale code
	Gender   string       // "female" or "male"
	Provider ProviderKind // Which synthesizer serves it
}

// IsCloud reports whether the voice is served by the cloud backend.
func (v Voice) IsCloud() bool {
	return v.Provider == ProviderCloud
}

// WordBoundary is a word-level timing event delivered during playback.
type WordBoundary struct {
	WordIndex     int     // Index into the whitespace-split words of the text
	Word          string  // Word as reported by the provider
	AudioOffsetMs float64 // Offset of the word in the audio
	TextOffset    int     // Character offset into the text
	DurationMs    float64 // Spoken duration of the word
}

// SpeakOptions configures a single speak call.
type SpeakOptions struct {
	Text     string
	Language string  // Defaults to the session language
	Voice    string  // Defaults to the selected voice
	Rate     float64 // 0.5 to 2.0, defaults to DefaultRate
	Pitch    float64 // 0.5 to 2.0, defaults to DefaultPitch

	OnWordBoundary func(WordBoundary)
	OnComplete     func()
	OnError        func(error)
}

// WithDefaults fills unset prosody and clamps it to the supported range.
func (o SpeakOptions) WithDefaults() SpeakOptions {
	if o.Rate == 0 {
		o.Rate = DefaultRate
	}
	if o.Pitch == 0 {
		o.Pitch = DefaultPitch
	}
	o.Rate = ClampProsody(o.Rate)
	o.Pitch = ClampProsody(o.Pitch)
	return o
}

// ClampProsody bounds a rate or pitch multiplier to [MinProsody, MaxProsody].
func ClampProsody(v float64) float64 {
	switch {
	case v < MinProsody:
		return MinProsody
	case v > MaxProsody:
		return MaxProsody
	default:
		return v
	}
}
