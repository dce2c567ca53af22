// Package monitor wraps tracing, counters and log emission behind one switch. A disabled Service turns every call
// into a no-op so the protocol code behaves identically with or without observability.
package monitor

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tarancss/satp/lib/log"
)

// Counter names shared by the gateway packages.
const (
	CreatedSessions   = "created_sessions"
	OngoingSessions   = "ongoing_sessions"
	CompletedSessions = "completed_sessions"
	RejectedSessions  = "rejected_sessions"
	RollbacksTotal    = "rollbacks_total"
	FailedRollbacks   = "failed_rollbacks"
	CustodyOperations = "custody_operations"
)

const namespace = "satp"

// Config of a monitoring service.
type Config struct {
	Enabled     bool
	ServiceName string
	// TraceWriter receives spans as JSON when set. Nil keeps spans in process only.
	TraceWriter io.Writer
	// Registry collects the counters. A fresh registry is created when nil.
	Registry *prometheus.Registry
}

// Service is the monitoring collaborator injected into sessions, stages, bridges and rollback strategies.
type Service struct {
	enabled  bool
	log      log.Logger
	tp       *sdktrace.TracerProvider
	tracer   trace.Tracer
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]prometheus.Gauge
}

// New returns a Service. When cfg.Enabled is false the returned Service is a no-op.
func New(cfg Config, l log.Logger) (*Service, error) {
	s := &Service{
		enabled:  cfg.Enabled,
		log:      l.Module("monitor"),
		tracer:   noop.NewTracerProvider().Tracer(""),
		registry: cfg.Registry,
		counters: make(map[string]prometheus.Gauge),
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	if !cfg.Enabled {
		return s, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "satp-gateway"
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	}

	if cfg.TraceWriter != nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.TraceWriter))
		if err != nil {
			return nil, errors.Wrap(err, "creating trace exporter")
		}

		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	s.tp = sdktrace.NewTracerProvider(opts...)
	s.tracer = s.tp.Tracer("github.com/tarancss/satp")

	return s, nil
}

// Disabled returns a no-op Service.
func Disabled() *Service {
	s, _ := New(Config{}, log.Nop())

	return s
}

// Enabled reports whether monitoring is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Registry returns the prometheus registry holding the counters.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// TracerProvider returns the provider behind StartSpan, a no-op one when monitoring is disabled.
func (s *Service) TracerProvider() trace.TracerProvider {
	if !s.Enabled() || s.tp == nil {
		return noop.NewTracerProvider()
	}

	return s.tp
}

// StartSpan starts a span child of ctx. Callers must End the returned span.
func (s *Service) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !s.Enabled() {
		return ctx, trace.SpanFromContext(context.Background())
	}

	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err.
func (s *Service) RecordError(span trace.Span, err error) {
	if !s.Enabled() || err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// UpdateCounter adds delta to the named counter, creating it on first use.
func (s *Service) UpdateCounter(name string, delta float64) {
	if !s.Enabled() {
		return
	}

	s.gauge(name).Add(delta)
}

// CounterValue returns the current value of the named counter, 0 when it does not exist.
func (s *Service) CounterValue(name string) float64 {
	if !s.Enabled() {
		return 0
	}

	s.mu.Lock()
	g, ok := s.counters[name]
	s.mu.Unlock()

	if !ok {
		return 0
	}

	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}

	return m.GetGauge().GetValue()
}

func (s *Service) gauge(name string) prometheus.Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.counters[name]
	if !ok {
		g = promauto.With(s.registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      strings.ReplaceAll(name, "-", "_"),
			Help:      "SATP gateway counter " + name,
		})
		s.counters[name] = g
	}

	return g
}

// CreateLog emits a structured log line with the given fields.
func (s *Service) CreateLog(level zerolog.Level, msg string, fields map[string]interface{}) {
	if !s.Enabled() {
		return
	}

	s.log.WithLevel(level).Fields(fields).Msg(msg)
}

// Shutdown flushes and stops the tracer provider.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.Enabled() || s.tp == nil {
		return nil
	}

	return errors.Wrap(s.tp.Shutdown(ctx), "shutting down tracer provider")
}
