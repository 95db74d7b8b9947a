// Package sentence turns markdown lessons into the plain-text sentences the
// read-along view speaks one at a time.
package sentence

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Sentence is one spoken unit of a document.
type Sentence struct {
	Index    int
	Text     string
	Start    int // Byte offset into the plain text
	End      int
	Duration time.Duration // Estimated speaking time at normal rate
}

// Words returns the whitespace-separated words of the sentence.
func (s Sentence) Words() []string {
	return strings.Fields(s.Text)
}

// Parser extracts sentences from markdown content.
type Parser struct {
	md goldmark.Markdown

	// Options
	skipCodeBlocks bool
	skipURLs       bool

	// Common abbreviations that don't end sentences
	abbreviations map[string]bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithCodeBlocks makes the parser read code blocks aloud.
func WithCodeBlocks() Option {
	return func(p *Parser) { p.skipCodeBlocks = false }
}

// NewParser creates a new sentence parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		md:             goldmark.New(),
		skipCodeBlocks: true,
		skipURLs:       true,
		abbreviations:  makeAbbreviationMap(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts sentences from markdown content.
func (p *Parser) Parse(markdown string) []Sentence {
	var (
		sentences []Sentence
		offset    int
	)
	for i, block := range p.blocks(markdown) {
		if i > 0 {
			offset += len(blockSeparator)
		}
		for _, b := range p.findSentenceBoundaries(block) {
			t := strings.TrimSpace(block[b.start:b.end])
			if !speakable(t) {
				continue
			}
			sentences = append(sentences, Sentence{
				Index:    len(sentences),
				Text:     t,
				Start:    offset + b.start,
				End:      offset + b.end,
				Duration: EstimateDuration(t),
			})
		}
		offset += len(block)
	}
	return sentences
}

const blockSeparator = "\n\n"

// PlainText renders markdown as the text Parse splits, one block per
// paragraph. Sentence offsets index into this string.
func (p *Parser) PlainText(markdown string) string {
	return strings.Join(p.blocks(markdown), blockSeparator)
}

// blocks flattens each leaf block of the document into a single line.
func (p *Parser) blocks(markdown string) []string {
	src := []byte(markdown)
	doc := p.md.Parser().Parse(text.NewReader(src))

	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			out = append(out, line)
		}
		cur.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if !entering {
				return ast.WalkContinue, nil
			}
			if !p.skipCodeBlocks {
				flush()
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					cur.Write(seg.Value(src))
					cur.WriteByte(' ')
				}
				flush()
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML, *ast.CodeSpan:
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			if p.skipURLs {
				return ast.WalkSkipChildren, nil
			}
			if entering {
				cur.Write(n.URL(src))
			}
		case *ast.Text:
			if entering {
				cur.Write(n.Segment.Value(src))
				if n.SoftLineBreak() || n.HardLineBreak() {
					cur.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(n.Value)
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *ast.ThematicBreak:
			flush()
		}
		return ast.WalkContinue, nil
	})
	flush()
	return out
}

// speakable reports whether t holds anything besides punctuation.
func speakable(t string) bool {
	return strings.IndexFunc(t, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

var (
	numberRegex      = regexp.MustCompile(`\d+`)
	punctuationRegex = regexp.MustCompile(`[,;:\-()]`)
)

// EstimateDuration estimates the speaking duration for text.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}

	// Base rate: 150 words per minute, slower for complex text
	const baseRate = 150.0
	adjustedRate := baseRate * (1.0 - complexity(text)*0.2)

	seconds := float64(words) * 60.0 / adjustedRate
	return time.Duration(seconds * float64(time.Second))
}

// complexity estimates how much slower text is to read, from 0 to 0.5.
func complexity(text string) float64 {
	c := float64(len(numberRegex.FindAllString(text, -1))) * 0.02
	c += float64(len(punctuationRegex.FindAllString(text, -1))) * 0.01

	words := strings.Fields(text)
	long := 0
	for _, w := range words {
		if len([]rune(w)) > 10 {
			long++
		}
	}
	c += float64(long) / float64(len(words)+1) * 0.1

	return min(c, 0.5)
}

// boundary is a sentence span in bytes.
type boundary struct {
	start int
	end   int
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' }
func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// findSentenceBoundaries splits a single line of text into sentences.
func (p *Parser) findSentenceBoundaries(line string) []boundary {
	runes := []rune(line)
	var spans []boundary
	lastStart := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		// Collect the punctuation run and any closing quotes or brackets.
		runEnd := i + 1
		for runEnd < len(runes) && isTerminal(runes[runEnd]) {
			runEnd++
		}
		end := runEnd
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}

		if p.isSentenceEnd(runes, i, runEnd, end) {
			spans = append(spans, boundary{start: lastStart, end: end})
			for end < len(runes) && unicode.IsSpace(runes[end]) {
				end++
			}
			lastStart = end
		}
		i = end - 1
	}

	if lastStart < len(runes) && strings.TrimSpace(string(runes[lastStart:])) != "" {
		spans = append(spans, boundary{start: lastStart, end: len(runes)})
	}

	// Convert rune positions to byte positions
	for i := range spans {
		spans[i].start = len(string(runes[:spans[i].start]))
		spans[i].end = len(string(runes[:spans[i].end]))
	}
	return spans
}

// isSentenceEnd decides whether the punctuation run runes[start:runEnd],
// followed by closers up to end, terminates a sentence.
func (p *Parser) isSentenceEnd(runes []rune, start, runEnd, end int) bool {
	if end >= len(runes) {
		return true
	}
	// Must have whitespace after punctuation; this keeps decimals,
	// versions and URLs together.
	if !unicode.IsSpace(runes[end]) {
		return false
	}

	run := string(runes[start:runEnd])
	if strings.Count(run, ".") == len(run) {
		// Ellipsis
		if len(run) >= 3 {
			return false
		}
		if p.isAbbreviation(runes, start) {
			return false
		}
	}

	next := end
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}

	// A full stop followed by a lower-case word continues the sentence.
	if runes[start] == '.' && unicode.IsLower(runes[next]) {
		return false
	}
	return true
}

// isAbbreviation reports whether the word ending with the period at pos
// is a known or dotted abbreviation.
func (p *Parser) isAbbreviation(runes []rune, pos int) bool {
	from := pos - 1
	for from >= 0 && !unicode.IsSpace(runes[from]) {
		from--
	}
	word := strings.ToLower(string(runes[from+1 : pos]))
	word = strings.TrimLeft(word, `"'([`)
	if word == "" {
		return false
	}
	if p.abbreviations[word] {
		return true
	}
	// Multi-part abbreviations like "Ph.D." or "U.S."
	if !strings.Contains(word, ".") {
		return false
	}
	for _, r := range word {
		if r != '.' && !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// makeAbbreviationMap creates a map of common abbreviations.
func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"llc", "inc", "ltd", "co", "corp",
		"etc", "vs", "cf", "al",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool, len(abbrevs))
	for _, a := range abbrevs {
		m[a] = true
	}
	return m
}
