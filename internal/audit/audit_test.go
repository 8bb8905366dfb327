package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/hotstore"
)

func newTestRecorder(t *testing.T) *Recorder {
	store := hotstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	return New(Config{Window: time.Minute, MinFloor: 5}, store, nil, nil)
}

func TestRecordAppendsEntryWithoutError(t *testing.T) {
	r := newTestRecorder(t)
	err := r.Record(context.Background(), Event{Type: "quote_issued", Wallet: "walletA"})
	require.NoError(t, err)
}

func TestThresholdDuringWarmupUsesFloor(t *testing.T) {
	r := newTestRecorder(t)
	s := &runningStats{}
	for i := 0; i < WarmupSamples-1; i++ {
		s.observe(float64(i))
	}
	require.Equal(t, float64(5), r.threshold(s))
}

func TestThresholdAfterWarmupUsesLearnedValue(t *testing.T) {
	r := newTestRecorder(t)
	s := &runningStats{}
	for i := 0; i < WarmupSamples+10; i++ {
		s.observe(10) // constant series: stddev settles near 0
	}
	require.InDelta(t, 10, r.threshold(s), 0.5)
}

func TestRecordLearnsStatsPastWarmup(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < WarmupSamples+5; i++ {
		require.NoError(t, r.Record(ctx, Event{Type: "quote_issued", Wallet: "steady"}))
	}

	// Counter increments monotonically with r.cfg.Window TTL, so once past
	// warm-up the learned threshold tracks the counter's own growth and a
	// normal call should not itself look anomalous.
	stats := r.stats["wallet:steady:quote_issued"]
	require.NotNil(t, stats)
	require.GreaterOrEqual(t, stats.count, int64(WarmupSamples))
}
