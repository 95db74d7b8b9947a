package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/learntoreadsa/readaloud/tts/metrics"
)

// telemetry holds the optional exporters of one command run.
type telemetry struct {
	metrics  *metrics.Metrics
	server   *http.Server
	provider *sdktrace.TracerProvider
}

// setupTelemetry starts a prometheus endpoint on metricsAddr and a span
// exporter writing to traceOut when they are set.
func setupTelemetry(metricsAddr string, traceOut io.Writer) (*telemetry, error) {
	t := &telemetry{}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		t.metrics = metrics.New(reg)

		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server stopped", "error", err)
			}
		}()
		log.Info("Serving metrics", "addr", ln.Addr().String())
	}

	if traceOut != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = t.shutdown(context.Background())
			return nil, err
		}
		t.provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", "readaloud"),
				attribute.String("service.version", Version),
			)),
		)
		otel.SetTracerProvider(t.provider)
	}
	return t, nil
}

func (t *telemetry) shutdown(ctx context.Context) error {
	var errs []error
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
