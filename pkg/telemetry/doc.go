// Package telemetry provides observability instrumentation for Remold.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging spec evaluations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "remold"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithEvaluationID("eval-123").WithDocument("report.cue")
//	logger.Info("Starting evaluation")
//	logger.WithError(err).Error("Evaluation failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// The engine's inspect echo accepts a zerolog.Logger directly:
//
//	ev := engine.New(engine.WithLogger(tel.Logger.Zerolog()))
//
// # Distributed Tracing
//
// Tracing provides visibility into evaluation flow and performance:
//
//	ctx, span := tel.Tracer.StartEvaluationSpan(ctx, evaluationID)
//	defer span.End()
//
//	span.SetAttributes(
//	    telemetry.AttrSpecKind.String("pipeline"),
//	    telemetry.AttrTargetPath.String("user->posts->0"),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track evaluation behavior and performance:
//
//	tel.Metrics.RecordEvaluationStarted("cli")
//	tel.Metrics.RecordEvaluationCompleted("ok", duration)
//	tel.Metrics.RecordDocumentLoad("cue", "ok", duration)
//	tel.Metrics.RecordFallbackSkip("error")
//	tel.Metrics.RecordError("access")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishEvaluationStarted(evaluationID, "cli")
//	tel.Events.PublishDocumentLoaded(path, "cue", duration)
//	tel.Events.PublishWatchReload(path, "ok")
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByEvaluationID, FilterByDocument
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "document.compile",
//	    telemetry.AttrDocumentPath.String(path))
//	defer ic.End(err)
//
//	// Evaluation context
//	ctx = telemetry.WithEvaluationContext(ctx, evaluationID, "cli")
//	defer telemetry.EndEvaluationContext(ctx, evaluationID, errKind, err)
//
//	// Document load
//	err := telemetry.RecordDocumentLoad(ctx, path, "cue", func() error {
//	    doc, err = loader.LoadFile(ctx, path)
//	    return err
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - remold_evaluations_started_total{source}
//   - remold_evaluations_completed_total{status}
//   - remold_evaluation_duration_seconds{status}
//   - remold_steps_dispatched_total{spec_kind}
//   - remold_documents_loaded_total{format,status}
//   - remold_fallback_skips_total{cause}
//   - remold_fallbacks_exhausted_total
//   - remold_errors_by_kind_total{kind}
//   - remold_watch_reloads_total{status}
//   - remold_active_evaluations
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
