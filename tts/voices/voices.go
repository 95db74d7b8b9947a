// Package voices is the catalog of cloud voices and the rules for picking
// a voice for a language.
package voices

import (
	"slices"
	"strings"

	"golang.org/x/text/language"

	"github.com/learntoreadsa/readaloud/tts"
)

// Info describes a catalog voice.
type Info struct {
	Name         string // e.g. "zu-ZA-ThandoNeural"
	DisplayName  string // e.g. "Thando (Zulu)"
	LanguageName string // e.g. "isiZulu"
	Locale       string // e.g. "zu-ZA"
	Gender       string // "female" or "male"
}

// Voice converts the catalog entry into a selectable cloud voice.
func (i Info) Voice(lang string) tts.Voice {
	return tts.Voice{Name: i.Name, Language: lang, Gender: i.Gender, Provider: tts.ProviderCloud}
}

// Catalog lists the cloud voices per language. Order matters: the first
// voice is the language default.
var catalog = map[string][]Info{
	"en": {
		{"en-ZA-LeahNeural", "Leah (South African)", "English (South Africa)", "en-ZA", "female"},
		{"en-ZA-LukeNeural", "Luke (South African)", "English (South Africa)", "en-ZA", "male"},
		{"en-GB-SoniaNeural", "Sonia (British)", "English (UK)", "en-GB", "female"},
		{"en-US-JennyNeural", "Jenny (American)", "English (US)", "en-US", "female"},
	},
	"zu": {
		{"zu-ZA-ThandoNeural", "Thando (Zulu)", "isiZulu", "zu-ZA", "female"},
		{"zu-ZA-ThembaNeural", "Themba (Zulu)", "isiZulu", "zu-ZA", "male"},
	},
	"xh": {
		{"xh-ZA-ThandoNeural", "Thando (Xhosa)", "isiXhosa", "xh-ZA", "female"},
		{"xh-ZA-ThembaNeural", "Themba (Xhosa)", "isiXhosa", "xh-ZA", "male"},
	},
	"af": {
		{"af-ZA-AdriNeural", "Adri (Afrikaans)", "Afrikaans", "af-ZA", "female"},
		{"af-ZA-WillemNeural", "Willem (Afrikaans)", "Afrikaans", "af-ZA", "male"},
	},
	"st": {
		{"st-ZA-ThandoNeural", "Thando (Sesotho)", "Sesotho", "st-ZA", "female"},
		{"st-ZA-ThembaNeural", "Themba (Sesotho)", "Sesotho", "st-ZA", "male"},
	},
	"tn": {
		{"tn-ZA-ThandoNeural", "Thando (Setswana)", "Setswana", "tn-ZA", "female"},
		{"tn-ZA-ThembaNeural", "Themba (Setswana)", "Setswana", "tn-ZA", "male"},
	},
	"sw": {
		{"sw-KE-ZuriNeural", "Zuri (Swahili)", "Kiswahili", "sw-KE", "female"},
		{"sw-KE-RafikiNeural", "Rafiki (Swahili)", "Kiswahili", "sw-KE", "male"},
	},
	"ha": {}, // no cloud voices; always spoken locally
}

// locales maps supported languages to the locale used for synthesis.
var locales = map[string]string{
	"en": "en-ZA",
	"zu": "zu-ZA",
	"xh": "xh-ZA",
	"af": "af-ZA",
	"st": "st-ZA",
	"tn": "tn-ZA",
	"sw": "sw-KE",
	"ha": "ha-NG",
}

// Normalize reduces a language tag such as "ZU" or "en-ZA" to its base
// language code. Unparseable input is lower-cased and returned as is.
func Normalize(lang string) string {
	lang = strings.TrimSpace(lang)
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}

// Languages returns the supported language codes in sorted order.
func Languages() []string {
	langs := make([]string, 0, len(locales))
	for l := range locales {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Locale returns the synthesis locale for lang, defaulting to en-ZA.
func Locale(lang string) string {
	if l, ok := locales[Normalize(lang)]; ok {
		return l
	}
	return "en-ZA"
}

// Cloud returns the cloud voices for lang.
func Cloud(lang string) []tts.Voice {
	lang = Normalize(lang)
	infos := catalog[lang]
	out := make([]tts.Voice, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Voice(lang))
	}
	return out
}

// HasCloudVoices reports whether lang has at least one cloud voice.
func HasCloudVoices(lang string) bool {
	return len(catalog[Normalize(lang)]) > 0
}

// DefaultVoice returns the default cloud voice name for lang, or "" when
// the language has none.
func DefaultVoice(lang string) string {
	infos := catalog[Normalize(lang)]
	if len(infos) == 0 {
		return ""
	}
	return infos[0].Name
}

// Lookup finds a catalog voice by name.
func Lookup(name string) (Info, bool) {
	for _, infos := range catalog {
		for _, i := range infos {
			if strings.EqualFold(i.Name, name) {
				return i, true
			}
		}
	}
	return Info{}, false
}

// All returns the whole catalog in a stable order.
func All() []Info {
	var out []Info
	for _, lang := range Languages() {
		out = append(out, catalog[lang]...)
	}
	return out
}

// Available lists the voices offered for lang: cloud voices first when the
// cloud is available, then local voices whose language matches.
func Available(lang string, cloudAvailable bool, local []tts.Voice) []tts.Voice {
	lang = Normalize(lang)
	var out []tts.Voice
	if cloudAvailable {
		out = append(out, Cloud(lang)...)
	}
	for _, v := range local {
		if strings.HasPrefix(strings.ToLower(v.Language), lang) {
			v.Provider = tts.ProviderLocal
			out = append(out, v)
		}
	}
	return out
}

// SelectDefault picks the voice to use from available given the current
// selection. A cloud voice always replaces a non-cloud selection; without
// a selection it prefers a cloud voice, then a South African voice, then
// the first one. It returns nil when nothing is available.
func SelectDefault(available []tts.Voice, current *tts.Voice) *tts.Voice {
	if len(available) == 0 {
		return current
	}

	var cloud, za *tts.Voice
	for i := range available {
		v := &available[i]
		if cloud == nil && v.IsCloud() {
			cloud = v
		}
		if za == nil && strings.Contains(v.Language, "ZA") {
			za = v
		}
	}

	switch {
	case cloud != nil && (current == nil || !current.IsCloud()):
		c := *cloud
		return &c
	case current != nil:
		return current
	case za != nil:
		c := *za
		return &c
	default:
		c := available[0]
		return &c
	}
}
