package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/learntoreadsa/readaloud/tts"
)

// boundaryBuffer is the capacity of the boundary channel.
const boundaryBuffer = 64

// newID returns a dash-free uuid as used for connection and request ids.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SynthesizeStream implements tts.StreamSynthesizer. Word boundaries are
// delivered while audio is produced; the outcome carries the whole audio.
func (d *DirectSynthesizer) SynthesizeStream(ctx context.Context, req tts.StreamRequest) (*tts.SynthesisStream, error) {
	if strings.TrimSpace(req.SSML) == "" {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "stream", "synthesize").WithCause(tts.ErrEmptyText)
	}
	auth, err := d.bearer(ctx)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", auth)
	headers.Set("X-ConnectionId", newID())
	headers.Set("User-Agent", UserAgent)

	conn, resp, err := d.dialer.DialContext(ctx, d.streamURL(d.region), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e := tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "stream", "connect").WithCause(err)
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized {
				d.tokens.Clear()
			}
			e = e.WithStatus(resp.StatusCode)
		}
		return nil, e
	}

	requestID := newID()
	cfg, err := newSpeechConfig(d.outputFormat)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage,
			encodeTextMessage(pathSpeechConfig, requestID, "application/json", cfg, time.Now()))
	}
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage,
			encodeTextMessage(pathSSML, requestID, "application/ssml+xml", []byte(req.SSML), time.Now()))
	}
	if err != nil {
		_ = conn.Close()
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "stream", "send request").WithCause(err)
	}

	boundaries := make(chan tts.BoundaryEvent, boundaryBuffer)
	result := make(chan tts.SynthesisOutcome, 1)
	s := &streamSession{
		conn:       conn,
		locator:    newWordLocator(req.Text),
		boundaries: boundaries,
		logger:     d.logger,
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the reader.
			_ = conn.Close()
		case <-stop:
		}
	}()

	go func() {
		outcome := s.run(ctx)
		close(stop)
		_ = conn.Close()
		close(boundaries)
		result <- outcome
		close(result)
	}()

	return &tts.SynthesisStream{Boundaries: boundaries, Result: result}, nil
}

// streamSession reads one synthesis turn from the connection.
type streamSession struct {
	conn       *websocket.Conn
	locator    *wordLocator
	boundaries chan<- tts.BoundaryEvent
	logger     *log.Logger
	audio      []byte
}

func (s *streamSession) run(ctx context.Context) tts.SynthesisOutcome {
	cancelled := func() tts.SynthesisOutcome {
		return tts.SynthesisOutcome{Reason: tts.ReasonCanceled, CancelReason: tts.CancelUser, ErrorDetails: "cancelled by caller"}
	}
	failed := func(err error) tts.SynthesisOutcome {
		return tts.SynthesisOutcome{Reason: tts.ReasonCanceled, CancelReason: tts.CancelError, ErrorDetails: err.Error()}
	}

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return failed(fmt.Errorf("connection closed: %d %s", ce.Code, ce.Text))
			}
			return failed(err)
		}

		switch kind {
		case websocket.BinaryMessage:
			headers, audio, err := decodeBinaryMessage(data)
			if err != nil {
				return failed(err)
			}
			if headers["path"] == pathAudio {
				s.audio = append(s.audio, audio...)
			}

		case websocket.TextMessage:
			headers, body := decodeTextMessage(data)
			switch headers["path"] {
			case pathTurnStart:
				s.logger.Debug("turn started")
			case pathMetadata:
				if err := s.metadata(ctx, body); err != nil {
					if ctx.Err() != nil {
						return cancelled()
					}
					return failed(err)
				}
			case pathTurnEnd:
				return tts.SynthesisOutcome{Reason: tts.ReasonCompleted, Audio: s.audio}
			}
		}
	}
}

func (s *streamSession) metadata(ctx context.Context, body []byte) error {
	var msg metadataMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	for _, m := range msg.Metadata {
		if m.Type != "WordBoundary" {
			continue
		}
		ev := tts.BoundaryEvent{
			Text:             m.Data.Text.Text,
			TextOffset:       s.locator.locate(m.Data.Text.Text),
			AudioOffsetTicks: m.Data.Offset,
			DurationTicks:    m.Data.Duration,
		}
		select {
		case s.boundaries <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
