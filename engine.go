package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzhttp"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
	"github.com/learntoreadsa/readaloud/tts/engines/cloud"
	"github.com/learntoreadsa/readaloud/tts/engines/local"
	"github.com/learntoreadsa/readaloud/tts/engines/mock"
	"github.com/learntoreadsa/readaloud/tts/metrics"
	"github.com/learntoreadsa/readaloud/tts/speech"
	"github.com/learntoreadsa/readaloud/tts/token"
)

// speechRuntime is a ready speech service plus the pieces commands report
// on.
type speechRuntime struct {
	svc    *speech.Service
	tokens *token.Cache
	local  tts.LocalEngine
}

// buildDependencies wires the synthesizers selected by cfg.
func buildDependencies(cfg tts.Config, m *metrics.Metrics) (speech.Dependencies, *token.Cache, error) {
	deps := speech.Dependencies{
		Config:  cfg,
		Logger:  log.WithPrefix("speech"),
		Metrics: m,
	}

	if cfg.Engine == tts.EngineMock {
		c := mock.NewCloud()
		deps.Cloud, deps.Stream, deps.Status = c, c, c
		deps.Local = mock.NewLocal()
		deps.Player = audio.NewMockPlayer()
		deps.Decode = mock.Decode
		return deps, nil, nil
	}

	deps.Player = audio.NewOtoPlayer()
	if cfg.Engine != tts.EngineCloud {
		deps.Local = local.New(cfg.Local.Binary, cfg.Local.Timeout, log.WithPrefix("local"))
	}
	if !cfg.CloudEnabled() {
		return deps, nil, nil
	}

	directOpts := []cloud.DirectOption{
		cloud.WithOutputFormat(cfg.Cloud.OutputFormat),
		cloud.WithDirectRequestsPerMinute(cfg.Cloud.RequestsPerMinute),
		cloud.WithDirectLogger(log.WithPrefix("direct")),
		cloud.WithDirectHTTPClient(&http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   cfg.Cloud.Timeout,
		}),
	}
	tokenOpts := []token.Option{
		token.WithSafetyBuffer(cfg.Token.SafetyBuffer),
		token.WithLogger(log.WithPrefix("token")),
		token.WithMetrics(m),
	}

	switch cfg.Cloud.Mode {
	case tts.CloudModeProxy:
		// Whole utterances go through the application endpoints; word
		// boundaries need a direct stream authorized by a proxy token.
		client := newProxyClient(cfg)
		tokens := token.NewCache(client, tokenOpts...)
		deps.Cloud = client
		deps.Status = client
		deps.Stream = cloud.NewDirectSynthesizer(tokens, token.Credentials{}, cfg.Cloud.Region, directOpts...)
		deps.Tokens = tokens
		return deps, tokens, nil

	case tts.CloudModeDirect:
		var fetcher token.Fetcher
		switch cfg.Cloud.Auth {
		case tts.AuthEntra:
			f, err := token.NewEntraFetcher(cfg.Cloud.ResourceID)
			if err != nil {
				return deps, nil, fmt.Errorf("unable to create Entra ID credential: %w", err)
			}
			fetcher = f
		default:
			fetcher = token.NewIssueTokenFetcher(&http.Client{Timeout: cfg.Cloud.Timeout}).
				WithValidity(cfg.Token.Validity)
		}
		tokens := token.NewCache(fetcher, tokenOpts...)
		direct := cloud.NewDirectSynthesizer(tokens, token.Credentials{SubscriptionKey: cfg.Cloud.Key}, cfg.Cloud.Region, directOpts...)
		deps.Cloud, deps.Stream, deps.Status = direct, direct, direct
		deps.Tokens = tokens
		return deps, tokens, nil
	}
	return deps, nil, nil
}

func newProxyClient(cfg tts.Config) *cloud.Client {
	return cloud.NewClient(cfg.Cloud.Endpoint,
		cloud.WithTimeout(cfg.Cloud.Timeout),
		cloud.WithRequestsPerMinute(cfg.Cloud.RequestsPerMinute),
		cloud.WithLogger(log.WithPrefix("cloud")),
	)
}

// newSpeechRuntime builds and initializes the speech service.
func newSpeechRuntime(ctx context.Context, cfg tts.Config, m *metrics.Metrics) (*speechRuntime, error) {
	deps, tokens, err := buildDependencies(cfg, m)
	if err != nil {
		return nil, err
	}
	svc := speech.New(deps)
	if err := svc.Initialize(ctx); err != nil {
		_ = svc.Close()
		return nil, err
	}
	log.Debug("Speech initialized",
		"engine", cfg.Engine,
		"cloud", svc.CloudAvailable(),
		"status", svc.StatusMessage(),
	)
	return &speechRuntime{svc: svc, tokens: tokens, local: deps.Local}, nil
}
