package cloud

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/token"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

// UserAgent is sent with direct synthesis requests.
const UserAgent = "LearnToReadSA"

// DefaultOutputFormat is the audio format requested from the backend.
const DefaultOutputFormat = "audio-24khz-96kbitrate-mono-mp3"

// TokenSource hands out bearer tokens. *token.Cache implements it.
type TokenSource interface {
	GetToken(ctx context.Context, creds token.Credentials, region string) (token.Token, error)
	Clear()
}

// RESTURL returns the direct synthesis endpoint for region.
func RESTURL(region string) string {
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
}

// StreamURL returns the streaming synthesis endpoint for region.
func StreamURL(region string) string {
	return fmt.Sprintf("wss://%s.tts.speech.microsoft.com/cognitiveservices/websocket/v1", region)
}

// DirectOption configures a DirectSynthesizer.
type DirectOption func(*DirectSynthesizer)

// WithDirectHTTPClient replaces the HTTP client used for REST synthesis.
func WithDirectHTTPClient(c *http.Client) DirectOption {
	return func(d *DirectSynthesizer) {
		if c != nil {
			d.http = c
		}
	}
}

// WithEndpoints overrides the REST and streaming endpoint builders.
func WithEndpoints(rest, stream func(region string) string) DirectOption {
	return func(d *DirectSynthesizer) {
		if rest != nil {
			d.restURL = rest
		}
		if stream != nil {
			d.streamURL = stream
		}
	}
}

// WithOutputFormat sets the requested audio format.
func WithOutputFormat(format string) DirectOption {
	return func(d *DirectSynthesizer) {
		if format != "" {
			d.outputFormat = format
		}
	}
}

// WithDirectRequestsPerMinute limits how often the backend is called.
func WithDirectRequestsPerMinute(n int) DirectOption {
	return func(d *DirectSynthesizer) {
		if n > 0 {
			d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), max(1, n/10))
		}
	}
}

// WithDirectLogger sets the logger.
func WithDirectLogger(l *log.Logger) DirectOption {
	return func(d *DirectSynthesizer) {
		if l != nil {
			d.logger = l
		}
	}
}

// DirectSynthesizer calls the speech backend directly with a bearer token.
// It synthesizes whole utterances over REST and streams word boundaries
// over a websocket.
type DirectSynthesizer struct {
	tokens TokenSource
	creds  token.Credentials
	region string

	http         *http.Client
	dialer       *websocket.Dialer
	restURL      func(string) string
	streamURL    func(string) string
	outputFormat string
	limiter      *rate.Limiter
	logger       *log.Logger
}

// NewDirectSynthesizer creates a synthesizer for region authenticated by
// tokens.
func NewDirectSynthesizer(tokens TokenSource, creds token.Credentials, region string, opts ...DirectOption) *DirectSynthesizer {
	d := &DirectSynthesizer{
		tokens: tokens,
		creds:  creds,
		region: region,
		http: &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		restURL:      RESTURL,
		streamURL:    StreamURL,
		outputFormat: DefaultOutputFormat,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/120), 12),
		logger:       log.WithPrefix("direct"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Status reports the backend available when a token can be obtained.
func (d *DirectSynthesizer) Status(ctx context.Context) tts.Status {
	if d.tokens == nil || d.region == "" {
		return tts.Status{Message: "Speech service is not configured"}
	}
	if _, err := d.tokens.GetToken(ctx, d.creds, d.region); err != nil {
		return tts.Status{Message: tts.Message(err)}
	}
	return tts.Status{Available: true, Message: "Speech service configured for " + d.region}
}

func (d *DirectSynthesizer) bearer(ctx context.Context) (string, error) {
	if d.tokens == nil {
		return "", tts.NewSpeechError(tts.ErrConfigurationMissing, "direct", "fetch token")
	}
	tok, err := d.tokens.GetToken(ctx, d.creds, d.region)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok.Value, nil
}

// Synthesize implements tts.CloudSynthesizer over the REST endpoint.
func (d *DirectSynthesizer) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	req, err := NormalizeRequest(req)
	if err != nil {
		return nil, err
	}
	auth, err := d.bearer(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	ssml := tts.BuildSSML(req.Text, req.Voice, req.Rate, req.Pitch)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.restURL(d.region), strings.NewReader(ssml))
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "direct", "build request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", auth)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", d.outputFormat)
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := d.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "direct", "synthesize").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			// The token was revoked or expired early.
			d.tokens.Clear()
		}
		return nil, SynthesisStatusError(resp.StatusCode, fmt.Sprintf("Speech synthesis failed: %d", resp.StatusCode))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "direct", "read audio").WithCause(err)
	}
	if len(audio) == 0 {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "direct", "synthesize").
			WithCause(fmt.Errorf("no audio data received"))
	}
	d.logger.Debug("synthesized", "voice", req.Voice, "bytes", len(audio))
	return &tts.SynthesisResult{
		Audio:    audio,
		Format:   AudioFormat,
		Voice:    req.Voice,
		Language: voices.Locale(req.Language),
	}, nil
}
