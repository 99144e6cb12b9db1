package telemetry

import (
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracerProviderOptions returns options that export every task span to the
// configured writer. The exporter is flushed and closed when the tracer
// provider using these options shuts down.
func TracerProviderOptions(service string, opts ...Option) ([]trace.TracerProviderOption, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.instanceId == "" {
		options.instanceId = uuid.NewString()
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(options.writer)}
	if options.prettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(options.version),
		semconv.ServiceInstanceID(options.instanceId),
		semconv.ServiceNamespace(options.ns),
	)

	return []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithBatcher(exporter),
	}, nil
}
