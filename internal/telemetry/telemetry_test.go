package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		" info": slog.LevelInfo,
		"loud":  slog.LevelInfo,
		"":      slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, false)

	logger.Info("quiet")
	logger.Warn("loud", "task", "blink")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record passed a warn logger: %q", out)
	}
	if !strings.Contains(out, "loud") || !strings.Contains(out, "task=blink") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestSetupExportsLogsAndSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(&buf)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger := NewLogger(&buf, slog.LevelInfo, true)
	logger.Debug("dropped-record")
	logger.Info("kept-record", "task", "blink")
	_, span := StartSpan(context.Background(), "boot-span")
	EndSpan(span, errors.New("init failed"))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"kept-record", "boot-span", "init failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported output lacks %q", want)
		}
	}
	if strings.Contains(out, "dropped-record") {
		t.Errorf("debug record exported by an info logger")
	}
}

func TestOtelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewOtelMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOtelMetrics() error = %v", err)
	}
	m.RecordDispatch("blink", 2, time.Millisecond)
	m.RecordDispatch("blink", 2, time.Millisecond)
	m.RecordRejected("blink", "ready")
	m.RecordLock("shared", 3)
	m.RecordTimerExpired("blink")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"ceilq.task.dispatches": 2,
		"ceilq.task.rejected":   1,
		"ceilq.resource.locks":  1,
		"ceilq.timer.expired":   1,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}

func TestPromMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	m, err := NewPromMetrics("", reg)
	if err != nil {
		t.Fatalf("NewPromMetrics() error = %v", err)
	}
	again, err := NewPromMetrics("", reg)
	if err != nil {
		t.Fatalf("second NewPromMetrics() error = %v", err)
	}

	m.RecordRejected("blink", "timer")
	again.RecordRejected("blink", "timer")
	m.RecordLock("shared", 3)
	m.RecordTimerExpired("blink")
	m.RecordDispatch("blink", 2, time.Millisecond)

	if got := testutil.ToFloat64(m.rejectedTotal.WithLabelValues("blink", "timer")); got != 2 {
		t.Errorf("rejected = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lockTotal.WithLabelValues("shared", "3")); got != 1 {
		t.Errorf("locks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.expiredTotal.WithLabelValues("blink")); got != 1 {
		t.Errorf("expired = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.dispatchSeconds); n != 1 {
		t.Errorf("dispatch series = %d, want 1", n)
	}
}
