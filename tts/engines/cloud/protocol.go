package cloud

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message paths of the streaming protocol.
const (
	pathSpeechConfig = "speech.config"
	pathSSML         = "ssml"
	pathTurnStart    = "turn.start"
	pathTurnEnd      = "turn.end"
	pathMetadata     = "audio.metadata"
	pathAudio        = "audio"
)

var headerSeparator = []byte("\r\n\r\n")

// speechConfig is the synthesis context sent before the markup.
type speechConfig struct {
	Context struct {
		Synthesis struct {
			Audio struct {
				MetadataOptions struct {
					SentenceBoundaryEnabled bool `json:"sentenceBoundaryEnabled"`
					WordBoundaryEnabled     bool `json:"wordBoundaryEnabled"`
				} `json:"metadataOptions"`
				OutputFormat string `json:"outputFormat"`
			} `json:"audio"`
		} `json:"synthesis"`
	} `json:"context"`
}

func newSpeechConfig(outputFormat string) ([]byte, error) {
	var c speechConfig
	c.Context.Synthesis.Audio.MetadataOptions.WordBoundaryEnabled = true
	c.Context.Synthesis.Audio.OutputFormat = outputFormat
	return json.Marshal(c)
}

// encodeTextMessage frames a text message: headers, a blank line, body.
func encodeTextMessage(path, requestID, contentType string, body []byte, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Path: %s\r\n", path)
	fmt.Fprintf(&b, "X-RequestId: %s\r\n", requestID)
	fmt.Fprintf(&b, "X-Timestamp: %s\r\n", now.UTC().Format("2006-01-02T15:04:05.000Z"))
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

// parseHeaders reads "Name: value" lines separated by CRLF.
func parseHeaders(raw []byte) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return headers
}

// decodeTextMessage splits a text frame into headers and body.
func decodeTextMessage(data []byte) (map[string]string, []byte) {
	head, body, ok := bytes.Cut(data, headerSeparator)
	if !ok {
		return parseHeaders(data), nil
	}
	return parseHeaders(head), body
}

// decodeBinaryMessage splits a binary frame. The first two bytes hold the
// big-endian length of the header block; the rest is audio.
func decodeBinaryMessage(data []byte) (map[string]string, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("binary message too short: %d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	if 2+n > len(data) {
		return nil, nil, fmt.Errorf("binary header length %d exceeds message size %d", n, len(data))
	}
	return parseHeaders(data[2 : 2+n]), data[2+n:], nil
}

// encodeBinaryMessage is the inverse of decodeBinaryMessage.
func encodeBinaryMessage(headers string, audio []byte) []byte {
	out := make([]byte, 2, 2+len(headers)+len(audio))
	binary.BigEndian.PutUint16(out, uint16(len(headers)))
	out = append(out, headers...)
	return append(out, audio...)
}

// metadataMessage is the body of an audio.metadata frame.
type metadataMessage struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int64 `json:"Offset"`
			Duration int64 `json:"Duration"`
			Text     struct {
				Text   string `json:"Text"`
				Length int    `json:"Length"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

// wordLocator finds reported words in the plain text, moving forward only.
type wordLocator struct {
	text   []rune
	cursor int
}

func newWordLocator(text string) *wordLocator {
	return &wordLocator{text: []rune(text)}
}

// locate returns the rune offset of word at or after the cursor, or the
// cursor itself when the word cannot be found.
func (l *wordLocator) locate(word string) int {
	w := []rune(word)
	if len(w) == 0 {
		return l.cursor
	}
	for i := l.cursor; i+len(w) <= len(l.text); i++ {
		if equalFoldRunes(l.text[i:i+len(w)], w) {
			l.cursor = i + len(w)
			return i
		}
	}
	return l.cursor
}

func equalFoldRunes(a, b []rune) bool {
	return strings.EqualFold(string(a), string(b))
}
