package tts

import (
	"fmt"
	"math"
	"strings"
)

// DefaultXMLLang is used when a voice name carries no locale.
const DefaultXMLLang = "en-ZA"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML escapes the five XML special characters.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// ProsodyPercent renders a signed percentage such as "+0%" or "-50%".
func ProsodyPercent(v int) string {
	if v >= 0 {
		return fmt.Sprintf("+%d%%", v)
	}
	return fmt.Sprintf("%d%%", v)
}

// RatePercent maps a rate multiplier to a percentage: 1.0 is 0, each 0.1 is 10.
func RatePercent(rate float64) int {
	return roundHalfUp((rate - 1) * 100)
}

// PitchPercent maps a pitch multiplier to a percentage at half the
// sensitivity of the rate.
func PitchPercent(pitch float64) int {
	return roundHalfUp((pitch - 1) * 50)
}

// roundHalfUp rounds ties towards positive infinity. The small epsilon
// absorbs binary representation error such as (1.15-1)*100 = 14.999...
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5 + 1e-9))
}

// XMLLang derives the locale from a voice name like "en-ZA-LeahNeural".
func XMLLang(voice string) string {
	parts := strings.Split(voice, "-")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return DefaultXMLLang
	}
	return parts[0] + "-" + parts[1]
}

// BuildSSML produces the markup document for one utterance.
func BuildSSML(text, voice string, rate, pitch float64) string {
	var b strings.Builder
	b.Grow(len(text) + 256)
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s">`, EscapeXML(XMLLang(voice)))
	b.WriteString("\n")
	fmt.Fprintf(&b, `  <voice name="%s">`, EscapeXML(voice))
	b.WriteString("\n")
	fmt.Fprintf(&b, `    <prosody rate="%s" pitch="%s">`, ProsodyPercent(RatePercent(rate)), ProsodyPercent(PitchPercent(pitch)))
	b.WriteString("\n      ")
	b.WriteString(EscapeXML(text))
	b.WriteString("\n    </prosody>\n  </voice>\n</speak>")
	return b.String()
}
