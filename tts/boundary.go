package tts

import "strings"

// TicksPerMillisecond converts provider hundred-nanosecond ticks.
const TicksPerMillisecond = 10000

// TicksToMillis converts hundred-nanosecond ticks to milliseconds.
func TicksToMillis(ticks int64) float64 {
	return float64(ticks) / TicksPerMillisecond
}

// WordMapper converts character offsets reported during synthesis into
// indices of the whitespace-split words of an utterance. Offsets are
// counted in runes.
//
// The cursor only moves forward: an offset that lies before the current
// word resolves to the current word.
type WordMapper struct {
	words  []string
	starts []int
	ends   []int
	cursor int
}

// NewWordMapper pre-splits text and locates each word's span.
func NewWordMapper(text string) *WordMapper {
	runes := []rune(text)
	words := strings.Fields(text)
	m := &WordMapper{
		words:  words,
		starts: make([]int, len(words)),
		ends:   make([]int, len(words)),
	}

	pos := 0
	for i, w := range words {
		start := indexRunes(runes, []rune(w), pos)
		if start < 0 {
			start = pos
		}
		end := start + len([]rune(w))
		m.starts[i] = start
		m.ends[i] = end
		pos = end
	}
	return m
}

// Words returns the pre-split words.
func (m *WordMapper) Words() []string {
	return m.words
}

// Start returns the rune offset at which word i begins.
func (m *WordMapper) Start(i int) int {
	return m.starts[i]
}

// Map returns the index of the word containing textOffset. A span is
// inclusive by one character on the right to tolerate rounding at word
// ends. With no match the last word's index is returned, or -1 when the
// text has no words.
func (m *WordMapper) Map(textOffset int) int {
	if len(m.words) == 0 {
		return -1
	}
	for i := m.cursor; i < len(m.words); i++ {
		if textOffset < m.ends[i]+1 {
			m.cursor = i
			return i
		}
	}
	m.cursor = len(m.words) - 1
	return m.cursor
}

// Event converts a raw provider event into a WordBoundary.
func (m *WordMapper) Event(ev BoundaryEvent) WordBoundary {
	return WordBoundary{
		WordIndex:     m.Map(ev.TextOffset),
		Word:          ev.Text,
		AudioOffsetMs: TicksToMillis(ev.AudioOffsetTicks),
		TextOffset:    ev.TextOffset,
		DurationMs:    TicksToMillis(ev.DurationTicks),
	}
}

// Reset rewinds the cursor for a replay of the same text.
func (m *WordMapper) Reset() {
	m.cursor = 0
}

// indexRunes is strings.Index over runes, starting at from.
func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return from
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
