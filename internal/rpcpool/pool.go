// Package rpcpool is the chain RPC pool (C4): a priority-ordered list of
// JSON-RPC endpoints (primary private provider, optional secondary, always
// a public fallback), each guarded by its own circuit breaker, with
// failover and a sliding-window latency tracker. Modelled on the teacher's
// api/transport package, which keeps a named list of downstream targets
// and walks them in priority order on failure, generalized here to chain
// RPC endpoints with per-endpoint breakers instead of a single pooled
// client (§4.8).
package rpcpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/breaker"
)

// ErrAllCircuitsOpen is returned when no endpoint is configured, or when
// every circuit was open and the last-resort attempt on the primary failed.
var ErrAllCircuitsOpen = errors.New("rpcpool: all endpoints unavailable")

// Endpoint is one configured RPC provider.
type Endpoint struct {
	Name     string
	URL      string
	Priority int // lower runs first

	breaker *breaker.Breaker
	latency *latencyWindow
}

// latencyWindow is a fixed-capacity ring buffer of the last N sample
// durations (§4.8 "sliding window of the last 50 samples").
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	cap     int
	next    int
	filled  bool
}

func newLatencyWindow(capacity int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, capacity), cap: capacity}
}

func (w *latencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % w.cap
	if w.next == 0 {
		w.filled = true
	}
}

// Average returns the mean of recorded samples, or 0 if none yet.
func (w *latencyWindow) Average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.filled {
		n = w.cap
	}
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(n)
}

// ClassifyFunc decides whether an error observed from an RPC call should
// count as a breaker failure (e.g. a 429 or connection error does; a
// decode error on an otherwise-valid response might not).
type ClassifyFunc func(err error) bool

// Pool holds the configured endpoints sorted by ascending priority.
type Pool struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	classify  ClassifyFunc
	logger    *zap.Logger

	blockhashMu     sync.Mutex
	blockhashValue  string
	blockhashAt     time.Time
	blockhashTTL    time.Duration
}

// Config for building a Pool.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenTrials   int
	LatencySamples   int // default 50 (§4.8)
	BlockhashTTL     time.Duration
	Classify         ClassifyFunc
}

// New builds a Pool from a priority-sorted set of endpoint descriptors.
// Endpoints is a simple (name, url, priority) tuple list; the caller is
// expected to already have included the always-present public fallback.
func New(cfg Config, logger *zap.Logger, endpoints ...Endpoint) *Pool {
	if cfg.LatencySamples <= 0 {
		cfg.LatencySamples = 50
	}
	if cfg.Classify == nil {
		cfg.Classify = func(err error) bool { return err != nil }
	}
	p := &Pool{classify: cfg.Classify, logger: logger, blockhashTTL: cfg.BlockhashTTL}
	for _, e := range endpoints {
		e.breaker = breaker.New(breaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			HalfOpenTrials:   cfg.HalfOpenTrials,
			Classify:         cfg.Classify,
		})
		e.latency = newLatencyWindow(cfg.LatencySamples)
		ep := e
		p.endpoints = append(p.endpoints, &ep)
	}
	sortByPriority(p.endpoints)
	return p
}

func sortByPriority(eps []*Endpoint) {
	for i := 1; i < len(eps); i++ {
		for j := i; j > 0 && eps[j].Priority < eps[j-1].Priority; j-- {
			eps[j], eps[j-1] = eps[j-1], eps[j]
		}
	}
}

// Op is a unit of work executed against one endpoint's URL.
type Op func(ctx context.Context, endpoint Endpoint) (interface{}, error)

// ExecuteWithFailover walks endpoints in priority order, skipping any whose
// breaker currently rejects traffic, and returns the first success. If
// every endpoint's circuit is open it tries the primary (lowest Priority
// value) anyway (§4.8 "in which case it tries the primary anyway").
func (p *Pool) ExecuteWithFailover(ctx context.Context, op Op) (interface{}, string, error) {
	p.mu.RLock()
	eps := append([]*Endpoint(nil), p.endpoints...)
	p.mu.RUnlock()

	if len(eps) == 0 {
		return nil, "", ErrAllCircuitsOpen
	}

	var lastErr error
	tried := false
	for _, e := range eps {
		if !e.breaker.Allow() {
			continue
		}
		tried = true
		result, err := p.tryOnce(ctx, e, op)
		if err == nil {
			return result, e.Name, nil
		}
		lastErr = err
	}

	if !tried {
		primary := eps[0]
		result, err := p.tryOnce(ctx, primary, op)
		if err == nil {
			return result, primary.Name, nil
		}
		if p.logger != nil {
			p.logger.Warn("rpcpool: all circuits open, primary also failed", zap.String("endpoint", primary.Name), zap.Error(err))
		}
		return nil, "", ErrAllCircuitsOpen
	}

	if lastErr == nil {
		lastErr = ErrAllCircuitsOpen
	}
	return nil, "", lastErr
}

func (p *Pool) tryOnce(ctx context.Context, e *Endpoint, op Op) (interface{}, error) {
	start := time.Now()
	result, err := op(ctx, *e)
	e.latency.Record(time.Since(start))
	e.breaker.Report(err)
	return result, err
}

// EndpointStatus reports one endpoint's health for diagnostics/admin views.
type EndpointStatus struct {
	Name          string
	URL           string
	Priority      int
	CircuitState  breaker.State
	AverageLatency time.Duration
}

// Status returns a snapshot of every endpoint.
func (p *Pool) Status() []EndpointStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]EndpointStatus, len(p.endpoints))
	for i, e := range p.endpoints {
		out[i] = EndpointStatus{
			Name:           e.Name,
			URL:            e.URL,
			Priority:       e.Priority,
			CircuitState:   e.breaker.State(),
			AverageLatency: e.latency.Average(),
		}
	}
	return out
}

// CachedBlockhash returns the short-cached blockhash if still fresh.
func (p *Pool) CachedBlockhash() (string, bool) {
	p.blockhashMu.Lock()
	defer p.blockhashMu.Unlock()
	if p.blockhashValue == "" || time.Since(p.blockhashAt) >= p.blockhashTTL {
		return "", false
	}
	return p.blockhashValue, true
}

// SetCachedBlockhash stores a freshly fetched blockhash.
func (p *Pool) SetCachedBlockhash(value string) {
	p.blockhashMu.Lock()
	defer p.blockhashMu.Unlock()
	p.blockhashValue = value
	p.blockhashAt = time.Now()
}

// InvalidateBlockhash clears the cache after a submit reports "blockhash
// not found" (§4.8).
func (p *Pool) InvalidateBlockhash() {
	p.blockhashMu.Lock()
	defer p.blockhashMu.Unlock()
	p.blockhashValue = ""
}
