// Package logging builds the service zap logger.
//
// The logger writes JSON or console lines to stdout and, when telemetry is
// enabled, to the OpenTelemetry log bridge. Below-error levels are sampled;
// errors never are. Field names and value patterns that look like
// credentials are redacted by the encoder.
//
// Components take a plain *zap.Logger (Logger.Underlying). Request-scoped
// code can attach correlation IDs to a context and log through the
// context-aware methods:
//
//	ctx = logging.WithTenant(ctx, "acme")
//	ctx = logging.WithRunID(ctx, run.ID)
//	logger.Info(ctx, "crawl finished", zap.Int("pages", n))
//
// which adds trace_id, span_id, tenant_id and run_id to the entry.
package logging
