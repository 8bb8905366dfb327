package hotstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sovrn-protocol/relay/internal/domain"
)

// entry is one TTL-bearing value in the in-memory fallback map. Modelled on
// the teacher's TemporalTrustCache (api/cache/trust_cache.go): a mutex-
// guarded map plus a background sweep, generalized here from one value
// shape to an interface{} payload so MemoryStore can back every hotstore
// operation, not just one cache.
type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.expiresAt.IsZero() == false && now.After(e.expiresAt)
}

// MemoryStore is the development-only in-process fallback (§4.2). It must
// never be used in staging/production per §6's ENV rule; internal/config
// enforces that at startup, not here.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*entry

	zsets map[string]map[string]float64
	lists map[string][]string

	sweepInterval time.Duration
	stopSweep     chan struct{}
}

// NewMemoryStore creates a fallback store with a background sweep tick.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	m := &MemoryStore{
		data:          make(map[string]*entry),
		zsets:         make(map[string]map[string]float64),
		lists:         make(map[string][]string),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the background sweep goroutine.
func (m *MemoryStore) Close() {
	close(m.stopSweep)
}

func (m *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *MemoryStore) sweepOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
		}
	}
}

// getLocked returns key's live entry. An entry whose TTL has passed is
// deleted on this read and reported as absent, so an expired key is never
// served between background sweeps.
func (m *MemoryStore) getLocked(key string, now time.Time) (*entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(m.data, key)
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// ---- Quotes ----

func (m *MemoryStore) SetQuote(ctx context.Context, q *domain.Quote, ttl time.Duration) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[quoteKey(q.ID)] = &entry{value: b, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	m.mu.Lock()
	e, ok := m.getLocked(quoteKey(id), time.Now())
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var q domain.Quote
	if err := json.Unmarshal(e.value.([]byte), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (m *MemoryStore) DeleteQuote(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, quoteKey(id))
	return nil
}

func quoteKey(id string) string { return "quote:" + id }

// ---- Anti-replay ----

func (m *MemoryStore) ClaimAntiReplay(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	key := "replay:" + fingerprint
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key, now); ok {
		return false, nil
	}
	m.data[key] = &entry{value: true, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) ReleaseAntiReplay(ctx context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, "replay:"+fingerprint)
	return nil
}

// ---- Rolling counters ----

func (m *MemoryStore) IncrCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked("counter:"+key, now)
	var count int64
	if ok {
		count = e.value.(int64)
	}
	count++
	m.data["counter:"+key] = &entry{value: count, expiresAt: now.Add(window)}
	return count, nil
}

// ---- Sorted sets ----

func (m *MemoryStore) ZIncrBy(ctx context.Context, setKey, member string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[setKey]
	if !ok {
		z = make(map[string]float64)
		m.zsets[setKey] = z
	}
	z[member] += delta
	return nil
}

func (m *MemoryStore) ZRevRank(ctx context.Context, setKey, member string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[setKey]
	if !ok {
		return 0, false, nil
	}
	score, ok := z[member]
	if !ok {
		return 0, false, nil
	}
	var rank int64
	for mem, s := range z {
		if mem == member {
			continue
		}
		if s > score {
			rank++
		}
	}
	return rank, true, nil
}

func (m *MemoryStore) ZRangeWithScores(ctx context.Context, setKey string, start, stop int64) ([]ZEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[setKey]
	if !ok {
		return nil, nil
	}
	entries := make([]ZEntry, 0, len(z))
	for member, score := range z {
		entries = append(entries, ZEntry{Member: member, Score: score})
	}
	sortZEntriesDesc(entries)
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= int64(len(entries)) {
		stop = int64(len(entries)) - 1
	}
	if start > stop || start >= int64(len(entries)) {
		return nil, nil
	}
	return entries[start : stop+1], nil
}

func sortZEntriesDesc(entries []ZEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score > entries[j-1].Score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// ---- Lists ----

func (m *MemoryStore) ListPush(ctx context.Context, listKey string, value string, cap int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := append([]string{value}, m.lists[listKey]...)
	if cap > 0 && int64(len(l)) > cap {
		l = l[:cap]
	}
	m.lists[listKey] = l
	return nil
}

func (m *MemoryStore) ListRange(ctx context.Context, listKey string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[listKey]
	if stop < 0 || stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop || start >= int64(len(l)) || len(l) == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

// ---- Statistics hash ----

func (m *MemoryStore) HIncrByMap(ctx context.Context, hashKey string, deltas map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked("hash:"+hashKey, time.Now())
	var h map[string]int64
	if ok {
		h = e.value.(map[string]int64)
	} else {
		h = make(map[string]int64)
	}
	for k, v := range deltas {
		h[k] += v
	}
	m.data["hash:"+hashKey] = &entry{value: h}
	return nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, hashKey string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked("hash:"+hashKey, time.Now())
	if !ok {
		return map[string]int64{}, nil
	}
	src := e.value.(map[string]int64)
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) HSetAll(ctx context.Context, hashKey string, values map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := make(map[string]int64, len(values))
	for k, v := range values {
		h[k] = v
	}
	m.data["hash:"+hashKey] = &entry{value: h}
	return nil
}

// ---- Distributed lock ----

func (m *MemoryStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	key := "lock:" + name
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key, now); ok {
		return "", false, nil
	}
	token := newToken()
	m.data[key] = &entry{value: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (m *MemoryStore) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	key := "lock:" + name
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key, time.Now())
	if !ok {
		return false, nil
	}
	if e.value.(string) != token {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *MemoryStore) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) (interface{}, error)) (LockOutcome, interface{}, error) {
	token, held, err := m.AcquireLock(ctx, name, ttl)
	if err != nil {
		return LockExecutionError, nil, err
	}
	if !held {
		return LockHeldElsewhere, nil, nil
	}
	defer m.ReleaseLock(ctx, name, token)
	result, err := fn(ctx)
	if err != nil {
		return LockExecutionError, nil, err
	}
	return LockOK, result, nil
}

// ---- Velocity buckets ----

func (m *MemoryStore) VelocityBucketIncr(ctx context.Context, account string, cost int64, ttlMargin time.Duration) error {
	minute := time.Now().UTC().Format("200601021504")
	key := "velocity:" + account + ":" + minute
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key, now)
	var b VelocityBucket
	if ok {
		b = e.value.(VelocityBucket)
	} else {
		b = VelocityBucket{MinuteKey: minute}
	}
	b.Count++
	b.CostNative += cost
	m.data[key] = &entry{value: b, expiresAt: now.Add(61*time.Minute + ttlMargin)}
	return nil
}

func (m *MemoryStore) VelocityBucketsRead(ctx context.Context, account string, minutes int) ([]VelocityBucket, error) {
	now := time.Now().UTC()
	buckets := make([]VelocityBucket, 0, minutes)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < minutes; i++ {
		minute := now.Add(-time.Duration(i) * time.Minute).Format("200601021504")
		key := "velocity:" + account + ":" + minute
		if e, ok := m.getLocked(key, time.Now()); ok {
			buckets = append(buckets, e.value.(VelocityBucket))
		}
	}
	return buckets, nil
}

// ---- Jupiter cache ----

func (m *MemoryStore) JupiterCacheGet(ctx context.Context, input, output, bucket string) (*JupiterQuote, bool, error) {
	key := jupiterKey(input, output, bucket)
	m.mu.Lock()
	e, ok := m.getLocked(key, time.Now())
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	q := e.value.(JupiterQuote)
	return &q, true, nil
}

func (m *MemoryStore) JupiterCacheSet(ctx context.Context, input, output, bucket string, q *JupiterQuote, ttl time.Duration) error {
	key := jupiterKey(input, output, bucket)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &entry{value: *q, expiresAt: time.Now().Add(ttl)}
	return nil
}

func jupiterKey(input, output, bucket string) string {
	return "jupiter:" + input + ":" + output + ":" + bucket
}

// DrainForMerge returns a shallow copy of the accumulated statistics hashes
// and sorted sets, for C10's additive merge after a reconnect (§4.10). Only
// durable, long-lived keys are returned — quotes, rate limits and
// anti-replay slots are intentionally excluded since they are short-lived
// by design and must never be synced (§4.10).
func (m *MemoryStore) DrainForMerge() (hashes map[string]map[string]int64, zsets map[string]map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes = make(map[string]map[string]int64)
	for k, e := range m.data {
		if len(k) > 5 && k[:5] == "hash:" {
			src := e.value.(map[string]int64)
			cp := make(map[string]int64, len(src))
			for kk, vv := range src {
				cp[kk] = vv
			}
			hashes[k[5:]] = cp
		}
	}
	zsets = make(map[string]map[string]float64)
	for k, z := range m.zsets {
		cp := make(map[string]float64, len(z))
		for kk, vv := range z {
			cp[kk] = vv
		}
		zsets[k] = cp
	}
	return hashes, zsets
}
