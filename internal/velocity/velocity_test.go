package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/hotstore"
)

func TestMetricsInsufficientBeforeMinObservedMinutes(t *testing.T) {
	m := hotstore.NewMemoryStore(time.Hour)
	defer m.Close()
	a := New(m)

	require.NoError(t, a.Record(context.Background(), "acct", 1000))

	metrics, err := a.Metrics(context.Background(), "acct")
	require.NoError(t, err)
	require.True(t, metrics.Insufficient)
	require.Equal(t, "no data", metrics.Note)
}

func TestRequiredBufferFallsBackToFloorWhenInsufficient(t *testing.T) {
	m := Metrics{Insufficient: true}
	require.Equal(t, int64(500), RequiredBuffer(m, 24, 500))
}

func TestRequiredBufferScalesWithVelocity(t *testing.T) {
	m := Metrics{TxPerHour: 10, AvgCostNative: 1000}
	required := RequiredBuffer(m, 24, 100)
	require.Equal(t, int64(240000), required)
	require.Equal(t, int64(24000000), TargetBuffer(required))
}

func TestRequiredBufferRespectsFloorWhenVelocityLow(t *testing.T) {
	m := Metrics{TxPerHour: 0.01, AvgCostNative: 10}
	required := RequiredBuffer(m, 24, 5000)
	require.Equal(t, int64(5000), required)
}
