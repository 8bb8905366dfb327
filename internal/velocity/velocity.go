// Package velocity tracks how fast a fee-payer's balance is being spent
// and derives refill thresholds from it (C9, §4.7). It sits directly on
// top of hotstore's minute-bucketed counters (the same shape the teacher
// keys its billing transaction log by, api/billing/transaction_log.go's
// rolling window, generalized here from a fixed history list to
// minute-granularity sums).
package velocity

import (
	"context"
	"math"

	"github.com/sovrn-protocol/relay/internal/hotstore"
)

// WindowMinutes is the observed sliding window (§4.7 "last 60 buckets").
const WindowMinutes = 60

// MinObservedMinutes is the floor below which metrics are considered
// insufficient and the caller falls back to configured minimums (§4.7
// "< 6 minutes").
const MinObservedMinutes = 6

// Metrics is the aggregated view over the sliding window.
type Metrics struct {
	TxCount      int64
	AvgCostNative float64
	TxPerHour    float64
	HoursObserved float64
	Insufficient bool
	Note         string
}

// Accountant records spend per fee-payer account and derives buffers.
type Accountant struct {
	store hotstore.Store
}

// New wraps a hot store.
func New(store hotstore.Store) *Accountant {
	return &Accountant{store: store}
}

// Record bumps the current-minute bucket for account by costNative (§4.7).
func (a *Accountant) Record(ctx context.Context, account string, costNative int64) error {
	return a.store.VelocityBucketIncr(ctx, account, costNative, 0)
}

// Metrics reads the last WindowMinutes buckets and aggregates them (§4.7).
func (a *Accountant) Metrics(ctx context.Context, account string) (Metrics, error) {
	buckets, err := a.store.VelocityBucketsRead(ctx, account, WindowMinutes)
	if err != nil {
		return Metrics{}, err
	}

	observedMinutes := len(buckets)
	if observedMinutes < MinObservedMinutes {
		return Metrics{Insufficient: true, Note: "no data"}, nil
	}

	var txCount, totalCost int64
	for _, b := range buckets {
		txCount += b.Count
		totalCost += b.CostNative
	}

	hours := float64(observedMinutes) / 60.0
	var avgCost float64
	if txCount > 0 {
		avgCost = float64(totalCost) / float64(txCount)
	}
	txPerHour := float64(txCount) / hours

	return Metrics{
		TxCount:       txCount,
		AvgCostNative: avgCost,
		TxPerHour:     txPerHour,
		HoursObserved: hours,
	}, nil
}

// RequiredBuffer is max(min_floor, ceil(tx_per_hour * avg_cost * hoursRunway)).
func RequiredBuffer(m Metrics, hoursRunway float64, minFloor int64) int64 {
	if m.Insufficient {
		return minFloor
	}
	required := int64(math.Ceil(m.TxPerHour * m.AvgCostNative * hoursRunway))
	if required < minFloor {
		return minFloor
	}
	return required
}

// TargetBuffer is required * 100, i.e. roughly one week of runway at
// steady state (§4.7).
func TargetBuffer(required int64) int64 {
	return required * 100
}

// Buffers is the convenience call C8's pre-check step uses.
func (a *Accountant) Buffers(ctx context.Context, account string, hoursRunway float64, minFloor int64) (required int64, target int64, note string, err error) {
	m, err := a.Metrics(ctx, account)
	if err != nil {
		return 0, 0, "", err
	}
	required = RequiredBuffer(m, hoursRunway, minFloor)
	target = TargetBuffer(required)
	return required, target, m.Note, nil
}
