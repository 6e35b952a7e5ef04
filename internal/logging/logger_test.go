package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/siteindex/internal/config"
)

func bufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)
	return logger, &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())

	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err = NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "invalid config")

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "at least one output")
}

func TestLoggerWritesServiceAndContextFields(t *testing.T) {
	logger, buf := bufferLogger(t, nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithTenant(ctx, "acme")
	ctx = WithRunID(ctx, "run-1")

	logger.Info(ctx, "crawl finished", zap.Int("pages", 3))

	entries := lines(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "crawl finished", e["msg"])
	assert.Equal(t, "siteindex", e["service"])
	assert.Equal(t, "acme", e["tenant_id"])
	assert.Equal(t, "run-1", e["run_id"])
	assert.Equal(t, traceID.String(), e["trace_id"])
	assert.Equal(t, spanID.String(), e["span_id"])
	assert.EqualValues(t, 3, e["pages"])
	assert.Contains(t, e, "caller")
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) { c.Level = zapcore.WarnLevel })
	ctx := context.Background()

	logger.Trace(ctx, "trace")
	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	var msgs []string
	for _, e := range lines(t, buf) {
		msgs = append(msgs, e["msg"].(string))
	}
	assert.Equal(t, []string{"warn", "error"}, msgs)
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))

	traceLogger, traceBuf := bufferLogger(t, func(c *Config) { c.Level = TraceLevel })
	traceLogger.Trace(ctx, "visiting url")
	assert.Contains(t, traceBuf.String(), "visiting url")
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	logger, buf := bufferLogger(t, nil)
	ctx := context.Background()

	logger.Info(ctx, "connecting",
		zap.String("password", "hunter2"),
		zap.String("header", "Bearer abc.def.ghi"),
		zap.String("url", "https://acme.test/"),
	)
	logger.With(zap.String("api_key", "k-123")).Info(ctx, "child")

	entries := lines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "[REDACTED]", entries[0]["password"])
	assert.Equal(t, "[REDACTED:pattern]", entries[0]["header"])
	assert.Equal(t, "https://acme.test/", entries[0]["url"])
	assert.Equal(t, "[REDACTED]", entries[1]["api_key"])
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "k-123")
}

func TestSecretFields(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })
	logger.Info(context.Background(), "redis",
		Secret("redis_password", config.Secret("s3cret")),
		RedactedString("cookie_value", "abcdef"),
	)
	out := buf.String()
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "[REDACTED:6]")
}

func TestSamplingKeepsErrors(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 1000}
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		logger.Info(ctx, "page fetched")
		logger.Error(ctx, "fetch failed")
	}

	var infos, errs int
	for _, e := range lines(t, buf) {
		switch e["msg"] {
		case "page fetched":
			infos++
		case "fetch failed":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}

func TestNamedAndWith(t *testing.T) {
	logger, buf := bufferLogger(t, nil)
	logger.Named("crawler").With(zap.String("base_url", "https://acme.test")).Info(context.Background(), "start")

	e := lines(t, buf)[0]
	assert.Equal(t, "crawler", e["logger"])
	assert.Equal(t, "https://acme.test", e["base_url"])
}
