package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/cuttrack"
	mw "github.com/xraph/cuttrack/middleware"
)

// measured runs one operation returning opErr through the metrics
// middleware and collects what it recorded.
func measured(t *testing.T, opErr error) (metricdata.Histogram[float64], metricdata.Sum[int64]) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := mw.MetricsWithMeter(mp.Meter("test"))

	err := m(context.Background(), newTestOp(), func(context.Context) error { return opErr })
	require.ErrorIs(t, err, opErr)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var (
		hist     metricdata.Histogram[float64]
		sum      metricdata.Sum[int64]
		gotHist  bool
		gotCount bool
	)
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch metric.Name {
			case "cuttrack.op.duration":
				hist, gotHist = metric.Data.(metricdata.Histogram[float64])
			case "cuttrack.op.count":
				sum, gotCount = metric.Data.(metricdata.Sum[int64])
			}
		}
	}
	require.True(t, gotHist, "cuttrack.op.duration histogram missing")
	require.True(t, gotCount, "cuttrack.op.count counter missing")
	require.Len(t, hist.DataPoints, 1)
	require.Len(t, sum.DataPoints, 1)
	return hist, sum
}

func attr(t *testing.T, set attribute.Set, key attribute.Key) string {
	t.Helper()
	v, ok := set.Value(key)
	require.True(t, ok, "attribute %s missing", key)
	return v.AsString()
}

func TestMetrics_RecordsOperation(t *testing.T) {
	hist, sum := measured(t, nil)

	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	assert.Equal(t, "sheet.set", attr(t, hist.DataPoints[0].Attributes, "op"))
	assert.Equal(t, "sheet.set", attr(t, sum.DataPoints[0].Attributes, "op"))
}

func TestMetrics_StatusAttribute(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, "ok"},
		{"rejected transition", cuttrack.ErrInvalidTransition, "rejected"},
		{"rejected validation", cuttrack.ErrValidation, "rejected"},
		{"rejected not found", cuttrack.ErrMaterialNotFound, "rejected"},
		{"error", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist, sum := measured(t, tt.err)
			assert.Equal(t, tt.want, attr(t, sum.DataPoints[0].Attributes, "status"))
			assert.Equal(t, tt.want, attr(t, hist.DataPoints[0].Attributes, "status"))
		})
	}
}

func TestMetrics_GlobalNoopProvider(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestOp(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
