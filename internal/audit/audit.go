// Package audit is the anomaly & audit plumbing (C12): append an audit
// entry on every quote/submit, maintain rolling-window counters keyed by
// {wallet, kind} and {ip, kind}, and learn an adaptive threshold (mean +
// k*stddev) that emits a WARN anomaly event on crossing (§4.12). Grounded
// on api/fraud's counter-and-threshold pattern, generalized from its fixed
// thresholds to a learned mean/stddev.
package audit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/hotstore"
)

// WarmupSamples is the minimum observation count before the learned
// threshold replaces the configured minimum (§4.12 "warm-up period").
const WarmupSamples = 20

// StddevMultiplier is k in mean + k*stddev (§4.12 "k ≈ 3").
const StddevMultiplier = 3.0

// Event is one audit-worthy occurrence.
type Event struct {
	Type     string
	Wallet   string
	IP       string
	Severity domain.Severity
	Fields   map[string]interface{}
}

// Config parameterizes the counting window and floor.
type Config struct {
	Window      time.Duration
	MinFloor    int64
}

// Recorder is C12.
type Recorder struct {
	cfg    Config
	store  hotstore.Store
	cold   *coldstore.Store
	logger *zap.Logger

	statsMu sync.Mutex
	stats   map[string]*runningStats
}

type runningStats struct {
	count int64
	mean  float64
	m2    float64 // Welford's running sum of squared deviations
}

func (r *runningStats) observe(x float64) {
	r.count++
	delta := x - r.mean
	r.mean += delta / float64(r.count)
	delta2 := x - r.mean
	r.m2 += delta * delta2
}

func (r *runningStats) stddev() float64 {
	if r.count < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.count-1))
}

// New builds a Recorder. When cold is set, each entry is also written to
// the relational tier; when it is nil, entries go to the hot-store audit
// tail only.
func New(cfg Config, store hotstore.Store, cold *coldstore.Store, logger *zap.Logger) *Recorder {
	if cfg.Window <= 0 {
		cfg.Window = 300 * time.Second
	}
	return &Recorder{cfg: cfg, store: store, cold: cold, logger: logger, stats: make(map[string]*runningStats)}
}

// Record appends an audit entry and updates the rolling counters for both
// the wallet and the IP keyed by event type, emitting a WARN anomaly
// event when either counter crosses its learned threshold (§4.12).
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}

	entry := &domain.AuditEntry{
		Timestamp: time.Now(),
		Type:      e.Type,
		Wallet:    e.Wallet,
		IP:        e.IP,
		Severity:  e.Severity,
		Payload:   e.Fields,
	}
	if err := r.append(ctx, entry); err != nil {
		return err
	}

	if e.Wallet != "" {
		r.checkThreshold(ctx, "wallet:"+e.Wallet+":"+e.Type, e)
	}
	if e.IP != "" {
		r.checkThreshold(ctx, "ip:"+e.IP+":"+e.Type, e)
	}
	return nil
}

func (r *Recorder) append(ctx context.Context, entry *domain.AuditEntry) error {
	const auditListKey = "audit:tail"
	if err := r.store.ListPush(ctx, auditListKey, entry.Type+"|"+entry.Wallet+"|"+entry.IP, 10000); err != nil {
		return err
	}
	if r.cold != nil {
		_ = r.cold.InsertAudit(ctx, entry)
	}
	return nil
}

func (r *Recorder) checkThreshold(ctx context.Context, counterKey string, e Event) {
	count, err := r.store.IncrCounter(ctx, counterKey, r.cfg.Window)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("audit: counter increment failed", zap.String("key", counterKey), zap.Error(err))
		}
		return
	}

	r.statsMu.Lock()
	stats, ok := r.stats[counterKey]
	if !ok {
		stats = &runningStats{}
		r.stats[counterKey] = stats
	}
	stats.observe(float64(count))
	threshold := r.threshold(stats)
	r.statsMu.Unlock()

	if float64(count) > threshold {
		warn := &domain.AuditEntry{
			Timestamp: time.Now(),
			Type:      "anomaly_" + e.Type,
			Wallet:    e.Wallet,
			IP:        e.IP,
			Severity:  domain.SeverityWarn,
			Payload: map[string]interface{}{
				"counter_key": counterKey,
				"count":       count,
				"threshold":   threshold,
			},
		}
		_ = r.append(ctx, warn)
	}
}

// threshold implements mean + k*stddev, floored at MinFloor, falling back
// to MinFloor entirely during warm-up (§4.12).
func (r *Recorder) threshold(s *runningStats) float64 {
	floor := float64(r.cfg.MinFloor)
	if s.count < WarmupSamples {
		return floor
	}
	learned := s.mean + StddevMultiplier*s.stddev()
	if learned < floor {
		return floor
	}
	return learned
}
