package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter configuration
	ExporterType ExporterType
	Endpoint     string // OTLP endpoint
	Headers      map[string]string
	Insecure     bool // Use insecure connection (for development)

	// Sampling configuration
	SampleRate   float64  // 0.0 to 1.0
	AlwaysSample []string // Method names to always sample
	NeverSample  []string // Method names to never sample

	// SpanProcessors are registered in addition to the exporter's batcher.
	SpanProcessors []sdktrace.SpanProcessor

	// SetGlobal installs the provider as the otel global.
	SetGlobal bool

	// Additional attributes
	ResourceAttributes map[string]string
}

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop disables trace export
	ExporterTypeNoop ExporterType = "noop"
)

const (
	tracerName = "github.com/ajitpratap0/mcp-engine-go"

	// AttrDirection marks which peer originated the traced message.
	AttrDirection = attribute.Key("mcp.direction")
	// AttrSessionID is the id of the session carrying the message.
	AttrSessionID = attribute.Key("mcp.session_id")
	// AttrDropReason says why an inbound message was dropped.
	AttrDropReason = attribute.Key("mcp.drop_reason")
)

// TracingProvider records one span per request and notification. It
// implements session.Observer.
type TracingProvider struct {
	config         TracingConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	mu             sync.Mutex
	shutdown       func(context.Context) error
}

var _ session.Observer = (*TracingProvider)(nil)

// NewTracingProvider creates a new tracing provider
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "mcp-engine"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.ExporterType == "" {
		config.ExporterType = ExporterTypeNoop
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}

	res := createResource(config)

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(config)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, sp := range config.SpanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	if config.SetGlobal {
		otel.SetTracerProvider(tp)
	}

	return &TracingProvider{
		config:         config,
		tracerProvider: tp,
		tracer:         tp.Tracer(tracerName),
		shutdown:       tp.Shutdown,
	}, nil
}

func createResource(config TracingConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for k, v := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// createExporter returns nil for the noop exporter; spans then only reach
// the configured SpanProcessors.
func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(config TracingConfig) sdktrace.Sampler {
	if len(config.AlwaysSample) > 0 || len(config.NeverSample) > 0 {
		return &methodSampler{
			defaultRate:  config.SampleRate,
			alwaysSample: makeStringSet(config.AlwaysSample),
			neverSample:  makeStringSet(config.NeverSample),
		}
	}
	return rateSampler(config.SampleRate)
}

func rateSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the tracer used for engine spans.
func (tp *TracingProvider) Tracer() trace.Tracer { return tp.tracer }

// StartRequest implements session.Observer. Outbound requests get client
// spans, inbound ones server spans.
func (tp *TracingProvider) StartRequest(ctx context.Context, dir session.Direction, method protocol.Method) (context.Context, func(error)) {
	kind := trace.SpanKindClient
	if dir == session.Inbound {
		kind = trace.SpanKindServer
	}
	ctx, span := tp.tracer.Start(ctx, string(method),
		trace.WithSpanKind(kind),
		trace.WithAttributes(tp.attributes(ctx, dir, method)...))
	return ctx, func(err error) {
		if err != nil {
			recordError(span, err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// ObserveNotification implements session.Observer with a span that starts
// and ends at once.
func (tp *TracingProvider) ObserveNotification(ctx context.Context, dir session.Direction, method protocol.Method) {
	kind := trace.SpanKindProducer
	if dir == session.Inbound {
		kind = trace.SpanKindConsumer
	}
	_, span := tp.tracer.Start(ctx, string(method),
		trace.WithSpanKind(kind),
		trace.WithAttributes(tp.attributes(ctx, dir, method)...))
	span.End()
}

// ObserveDropped implements session.Observer.
func (tp *TracingProvider) ObserveDropped(reason string) {
	_, span := tp.tracer.Start(context.Background(), "mcp.dropped",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			semconv.RPCSystemKey.String("jsonrpc"),
			AttrDropReason.String(reason),
		))
	span.End()
}

func (tp *TracingProvider) attributes(ctx context.Context, dir session.Direction, method protocol.Method) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.RPCSystemKey.String("jsonrpc"),
		semconv.RPCJsonrpcVersion(protocol.JSONRPCVersion),
		semconv.RPCService(tp.config.ServiceName),
		semconv.RPCMethod(string(method)),
		AttrDirection.String(string(dir)),
	}
	if id, ok := session.RequestIDFromContext(ctx); ok {
		attrs = append(attrs, semconv.RPCJsonrpcRequestID(id.String()))
	}
	if s, ok := session.FromContext(ctx); ok {
		attrs = append(attrs, AttrSessionID.String(s.ID()))
	}
	return attrs
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var mcpErr mcperrors.MCPError
	if errors.As(err, &mcpErr) {
		span.SetAttributes(
			semconv.RPCJsonrpcErrorCode(mcpErr.Code()),
			semconv.RPCJsonrpcErrorMessage(mcpErr.Message()),
		)
	}
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.shutdown == nil {
		return nil
	}
	err := tp.shutdown(ctx)
	tp.shutdown = nil
	return err
}

// methodSampler samples based on method name
type methodSampler struct {
	defaultRate  float64
	alwaysSample map[string]struct{}
	neverSample  map[string]struct{}
}

func (ms *methodSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	method := params.Name
	for _, attr := range params.Attributes {
		if attr.Key == semconv.RPCMethodKey {
			method = attr.Value.AsString()
			break
		}
	}

	if _, ok := ms.alwaysSample[method]; ok {
		return sdktrace.AlwaysSample().ShouldSample(params)
	}
	if _, ok := ms.neverSample[method]; ok {
		return sdktrace.NeverSample().ShouldSample(params)
	}
	return rateSampler(ms.defaultRate).ShouldSample(params)
}

func (ms *methodSampler) Description() string {
	return fmt.Sprintf("MethodSampler{defaultRate=%.2f}", ms.defaultRate)
}

func makeStringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
