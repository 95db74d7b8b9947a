// Package cloud talks to the neural voice backend, either through the
// application's speech endpoints or directly with a bearer token.
package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/token"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

// AudioFormat is the only audio format accepted from the backend.
const AudioFormat = "audio/mp3"

// maxResponseSize bounds decoded JSON bodies.
const maxResponseSize = 32 << 20

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// WithRequestsPerMinute limits how often the backend is called.
func WithRequestsPerMinute(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), max(1, n/10))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// Client calls the application's speech endpoints: status, token,
// synthesize and voices.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *log.Logger
}

// NewClient creates a client for the speech endpoints rooted at endpoint
// (e.g. "http://localhost:3000/api/speech").
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/120), 12),
		logger:  log.WithPrefix("cloud"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Message   string `json:"message"`
}

// Status implements tts.StatusChecker. Any failure means unavailable.
func (c *Client) Status(ctx context.Context) tts.Status {
	var body statusResponse
	if _, err := c.getJSON(ctx, "/status", nil, &body); err != nil {
		c.logger.Debug("status check failed", "err", err)
		return tts.Status{Available: false, Message: err.Error()}
	}
	return tts.Status{Available: body.Available, Message: body.Message}
}

// tokenResponse is the body of GET /token.
type tokenResponse struct {
	Token     string `json:"token"`
	Region    string `json:"region"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// FetchToken implements token.Fetcher. The endpoint holds the
// subscription key, so credentials are not sent.
func (c *Client) FetchToken(ctx context.Context, _ token.Credentials, _ string) (token.Issued, error) {
	var body tokenResponse
	code, err := c.getJSON(ctx, "/token", nil, &body)
	if err != nil {
		if code != 0 {
			return token.Issued{}, token.StatusError("cloud", code)
		}
		return token.Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "cloud", "fetch token").WithCause(err)
	}
	if body.Token == "" {
		return token.Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "cloud", "fetch token").
			WithCause(fmt.Errorf("empty token"))
	}
	return token.Issued{
		Token:    body.Token,
		Region:   body.Region,
		Validity: time.Duration(body.ExpiresIn) * time.Second,
	}, nil
}

// synthesizeRequest is the body of POST /synthesize.
type synthesizeRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
}

// synthesizeResponse is the raw body of a synthesize response. It is
// narrowed by result before anything else sees it.
type synthesizeResponse struct {
	Success     bool   `json:"success"`
	AudioBase64 string `json:"audioBase64"`
	Format      string `json:"format"`
	Voice       string `json:"voice"`
	Language    string `json:"language"`
}

func (r synthesizeResponse) result() (*tts.SynthesisResult, error) {
	if !r.Success || r.AudioBase64 == "" || r.Format != AudioFormat {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "synthesize").
			WithCause(fmt.Errorf("no audio data received"))
	}
	audio, err := base64.StdEncoding.DecodeString(r.AudioBase64)
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "synthesize").WithCause(err)
	}
	return &tts.SynthesisResult{Audio: audio, Format: r.Format, Voice: r.Voice, Language: r.Language}, nil
}

// NormalizeRequest trims and truncates the text and clamps prosody the way
// the synthesize endpoint does.
func NormalizeRequest(req tts.SynthesisRequest) (tts.SynthesisRequest, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return req, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "synthesize").
			WithStatus(http.StatusBadRequest).WithCause(tts.ErrEmptyText)
	}
	if utf8.RuneCountInString(req.Text) > tts.MaxTextLength {
		req.Text = string([]rune(req.Text)[:tts.MaxTextLength])
	}
	if req.Rate == 0 {
		req.Rate = 1.0
	}
	if req.Pitch == 0 {
		req.Pitch = 1.0
	}
	req.Rate = tts.ClampProsody(req.Rate)
	req.Pitch = tts.ClampProsody(req.Pitch)
	if req.Language == "" {
		req.Language = "en"
	}
	if req.Voice == "" {
		req.Voice = voices.DefaultVoice(req.Language)
		if req.Voice == "" {
			req.Voice = voices.DefaultVoice("en")
		}
	}
	return req, nil
}

// Synthesize implements tts.CloudSynthesizer.
func (c *Client) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	req, err := NormalizeRequest(req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(synthesizeRequest(req))
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "encode request").WithCause(err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/synthesize", strings.NewReader(string(payload)))
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "build request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "synthesize").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, SynthesisStatusError(resp.StatusCode, readMessage(resp.Body))
	}

	var body synthesizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "decode response").WithCause(err)
	}
	result, err := body.result()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("synthesized", "voice", result.Voice, "bytes", len(result.Audio))
	return result, nil
}

// voicesResponse is the body of GET /voices.
type voicesResponse struct {
	Voices []struct {
		Name         string `json:"name"`
		DisplayName  string `json:"displayName"`
		Language     string `json:"language"`
		LanguageCode string `json:"languageCode"`
		Gender       string `json:"gender"`
	} `json:"voices"`
	Total int `json:"total"`
}

// Voices lists the backend's voices, optionally filtered by language.
func (c *Client) Voices(ctx context.Context, lang string) ([]voices.Info, error) {
	var q url.Values
	if lang != "" {
		q = url.Values{"language": {lang}}
	}
	var body voicesResponse
	if _, err := c.getJSON(ctx, "/voices", q, &body); err != nil {
		return nil, err
	}
	out := make([]voices.Info, 0, len(body.Voices))
	for _, v := range body.Voices {
		out = append(out, voices.Info{
			Name:         v.Name,
			DisplayName:  v.DisplayName,
			LanguageName: v.Language,
			Locale:       v.LanguageCode,
			Gender:       strings.ToLower(v.Gender),
		})
	}
	return out, nil
}

// getJSON performs a GET and decodes the body into out. On a non-success
// status it returns the status code alongside the error.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) (int, error) {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readMessage(resp.Body)
		return resp.StatusCode, fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

// SynthesisStatusError maps a non-success synthesize status onto the error
// taxonomy.
func SynthesisStatusError(code int, message string) error {
	var cause error
	if message != "" {
		cause = fmt.Errorf("%s", message)
	}
	sentinel := tts.ErrSynthesisRequestFailed
	if code == http.StatusServiceUnavailable {
		sentinel = tts.ErrConfigurationMissing
	}
	e := tts.NewSpeechError(sentinel, "cloud", "synthesize").WithStatus(code)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// readMessage extracts the message of an error body, if any.
func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
