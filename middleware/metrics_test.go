package middleware_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
	mw "github.com/canvasshq/canvass/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func statusAttr(set attribute.Set) string {
	v, _ := set.Value("status")
	return v.AsString()
}

func TestMetrics_RecordsSuccess(t *testing.T) {
	reader, provider := setupTestMeter()
	m := mw.MetricsWithMeter(provider.Meter("test"))

	_, err := m(context.Background(), newTestDial(), func(_ context.Context) (*execution.CallResult, error) {
		return &execution.CallResult{Outcome: "booked"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collect(t, reader)

	dials, ok := findMetric(rm, "canvass.call.dials")
	if !ok {
		t.Fatal("canvass.call.dials not recorded")
	}
	sum, ok := dials.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", dials.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("dials datapoints = %+v", sum.DataPoints)
	}
	if got := statusAttr(sum.DataPoints[0].Attributes); got != "ok" {
		t.Errorf("status = %q, want ok", got)
	}

	if _, ok := findMetric(rm, "canvass.call.duration"); !ok {
		t.Error("canvass.call.duration not recorded")
	}
}

func TestMetrics_ClassifiesConnectionFailure(t *testing.T) {
	reader, provider := setupTestMeter()
	m := mw.MetricsWithMeter(provider.Meter("test"))

	_, err := m(context.Background(), newTestDial(), func(_ context.Context) (*execution.CallResult, error) {
		return nil, &collab.ConnectionError{Reason: "no_answer"}
	})
	if err == nil {
		t.Fatal("expected error")
	}

	rm := collect(t, reader)
	dials, ok := findMetric(rm, "canvass.call.dials")
	if !ok {
		t.Fatal("canvass.call.dials not recorded")
	}
	sum := dials.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("datapoints = %+v", sum.DataPoints)
	}
	if got := statusAttr(sum.DataPoints[0].Attributes); got != "connection_error" {
		t.Errorf("status = %q, want connection_error", got)
	}
}
