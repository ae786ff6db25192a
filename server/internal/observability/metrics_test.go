package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics(10)
	for i := 1; i <= 20; i++ {
		m.Record("/api/v1/search/text", time.Duration(i)*time.Millisecond, i%5 == 0)
	}
	m.Record("/api/v1/cart", 4*time.Millisecond, false)

	snap := m.Snapshot()
	assert.Equal(t, int64(21), snap.RequestTotal)
	assert.Equal(t, int64(4), snap.RequestFailed)
	require.Contains(t, snap.Routes, "/api/v1/search/text")
	assert.Equal(t, int64(20), snap.Routes["/api/v1/search/text"].Count)
	assert.Equal(t, int64(10), snap.Routes["/api/v1/search/text"].AvgLatencyMs)
	// Only the last ten durations are kept: 12..20ms and 4ms.
	assert.Equal(t, int64(15), snap.P50LatencyMs)
	assert.InDelta(t, 80.95, snap.SuccessRate(), 0.01)
	assert.Equal(t, 100.0, NewMetrics(0).Snapshot().SuccessRate())
}

func TestRequestContext(t *testing.T) {
	reqCtx := NewRequestContext(nil, "", "/api/v1/cart")
	assert.NotEmpty(t, reqCtx.RequestID)

	ctx := WithRequestContext(context.Background(), reqCtx)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, reqCtx.RequestID, got.RequestID)
	assert.Same(t, reqCtx.Logger, LoggerFromContext(ctx))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
