// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry tracing initialization and lifecycle
// management for tokenctl.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	ExporterOff    = "off"
	ExporterStderr = "stderr"
	ExporterNone   = "none"
)

// Options configures the OpenTelemetry TracerProvider.
type Options struct {
	// Exporter selects the trace exporter: "off" (default, no-op provider),
	// "stderr" (pretty printed spans on Writer) or "none" (spans are
	// recorded but not exported).
	Exporter string

	// ServiceName is the service.name resource attribute.
	// Default: "tokenctl"
	ServiceName string

	// ServiceVersion is the service.version resource attribute.
	ServiceVersion string

	// Writer receives exported spans; stderr when nil so stdout stays
	// reserved for command output.
	Writer io.Writer

	// Logger is used for internal diagnostics during initialization.
	Logger *zap.SugaredLogger
}

// ShutdownFunc gracefully shuts down the TracerProvider, flushing pending spans.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global OpenTelemetry TracerProvider and propagator and
// returns it with a shutdown function that flushes pending spans.
//
// With the exporter off a no-op provider is installed; the returned
// ShutdownFunc is safe to call and always returns nil.
func Init(opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if opts.Exporter == "" || opts.Exporter == ExporterOff {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "tokenctl"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	// Use NewSchemaless to avoid schema URL conflicts with resource.Default().
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	switch opts.Exporter {
	case ExporterStderr:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	case ExporterNone:
		log.Debugw("OTel tracing enabled with no exporter", "note", "spans are created but not exported")
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q: supported values are off, stderr, none", opts.Exporter)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	// Route OTel internal errors through the structured logger instead of the
	// default stderr handler.
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))
	log.Debugw("OpenTelemetry tracing initialized", "serviceName", opts.ServiceName, "exporter", opts.Exporter)

	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}
	return tp, shutdown, nil
}
