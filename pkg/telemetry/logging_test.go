package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jllopis/soundscape/pkg/core"
)

func TestSlogHandlerAddsContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, slog.LevelDebug, "json"))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = core.WithCycleID(ctx, "cycle-9")
	ctx = core.WithAgent(ctx, core.AgentAddress("weather"))

	logger.InfoContext(ctx, "soundscape.cycle.start")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("unexpected trace_id %v", rec["trace_id"])
	}
	if rec["cycle_id"] != "cycle-9" {
		t.Errorf("unexpected cycle_id %v", rec["cycle_id"])
	}
	if rec["agent"] != "agent://weather" {
		t.Errorf("unexpected agent %v", rec["agent"])
	}
}

func TestSlogHandlerKeepsExplicitCycleID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, slog.LevelInfo, "json"))
	ctx := core.WithCycleID(context.Background(), "from-context")

	logger.InfoContext(ctx, "msg", slog.String("cycle_id", "explicit"))

	if n := bytes.Count(buf.Bytes(), []byte(`"cycle_id"`)); n != 1 {
		t.Fatalf("expected one cycle_id attribute, got %d: %s", n, buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"cycle_id":"explicit"`)) {
		t.Errorf("explicit cycle_id should win: %s", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLogLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")
	logger.Info("config.hidden")
	SetLogLevel("debug")
	logger.Debug("config.shown")

	if bytes.Contains(buf.Bytes(), []byte("config.hidden")) {
		t.Errorf("info record logged at warn level: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("config.shown")) {
		t.Errorf("debug record missing after SetLogLevel: %s", buf.String())
	}
}
