package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/sentence"
)

var (
	// The sentence being read.
	sentenceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("229"))

	// The word being spoken (yellow background, black text).
	wordStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("226")).
			Foreground(lipgloss.Color("0")).
			Bold(true)

	// Sentences already read.
	readStyle = lipgloss.NewStyle().Faint(true)
)

// lesson is a parsed document ready to be rendered with highlights.
type lesson struct {
	plain     string
	sentences []sentence.Sentence
}

func newLesson(p *sentence.Parser, markdown string) lesson {
	return lesson{
		plain:     p.PlainText(markdown),
		sentences: p.Parse(markdown),
	}
}

// textStart returns the byte offset of sentence i's text in the plain
// text. Sentence spans may carry surrounding whitespace.
func (l lesson) textStart(i int) int {
	s := l.sentences[i]
	if at := strings.Index(l.plain[s.Start:s.End], s.Text); at >= 0 {
		return s.Start + at
	}
	return s.Start
}

// wordSpan returns the byte span of word w of sentence i in the plain
// text.
func (l lesson) wordSpan(i, w int) (start, end int, ok bool) {
	m := tts.NewWordMapper(l.sentences[i].Text)
	words := m.Words()
	if w < 0 || w >= len(words) {
		return 0, 0, false
	}
	runes := []rune(l.sentences[i].Text)
	start = l.textStart(i) + len(string(runes[:m.Start(w)]))
	return start, start + len(words[w]), true
}

// render returns the lesson wrapped at width with sentence cur and its
// word highlighted. A negative cur renders the text without highlights.
func (l lesson) render(cur, word, width int) string {
	var b strings.Builder
	if cur < 0 || cur >= len(l.sentences) {
		b.WriteString(l.plain)
	} else {
		start := l.textStart(cur)
		end := start + len(l.sentences[cur].Text)

		if start > 0 {
			b.WriteString(renderLines(readStyle, l.plain[:start]))
		}
		if ws, we, ok := l.wordSpan(cur, word); ok {
			b.WriteString(sentenceStyle.Render(l.plain[start:ws]))
			b.WriteString(wordStyle.Render(l.plain[ws:we]))
			b.WriteString(sentenceStyle.Render(l.plain[we:end]))
		} else {
			b.WriteString(sentenceStyle.Render(l.plain[start:end]))
		}
		b.WriteString(l.plain[end:])
	}

	if width <= 0 {
		return b.String()
	}
	return wordwrap.String(b.String(), width)
}

// renderLines styles each line separately so that blank lines between
// paragraphs stay blank.
func renderLines(style lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

// lineOf returns the wrapped line on which sentence i starts.
func (l lesson) lineOf(i, width int) int {
	if i < 0 || i >= len(l.sentences) {
		return 0
	}
	prefix := l.plain[:l.textStart(i)]
	if width > 0 {
		prefix = wordwrap.String(prefix, width)
	}
	return strings.Count(prefix, "\n")
}

// remaining estimates the speaking time of the sentences after i.
func (l lesson) remaining(i int) (d time.Duration) {
	from := max(i+1, 0)
	if from >= len(l.sentences) {
		return 0
	}
	for _, s := range l.sentences[from:] {
		d += s.Duration
	}
	return d
}
