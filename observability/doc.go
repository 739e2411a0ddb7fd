// Package observability wires OpenTelemetry tracing and metrics for snapshot,
// container and control-plane operations. Export is off unless an OTLP
// endpoint is configured; without it spans and instruments go to the
// global no-op providers.
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability)
//	defer shutdown(ctx)
//
//	ctx, op := observability.StartOperation(ctx, observability.SpanSnapshotRestore,
//	    "snapshot", "restore", suiteID, metrics)
//	return op.End(ctx, restore(ctx))
package observability
