package cache

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/crypto/blake2b"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/fbas"
	"github.com/fbas-tools/analyzer/internal/logger"
	abmetrics "github.com/fbas-tools/analyzer/internal/metrics"
	"github.com/fbas-tools/analyzer/keyvaluedb"
)

var log = logger.CreateForPackage()

type (
	// Store persists snapshots beyond the lifetime of the process.
	Store interface {
		keyvaluedb.Reader
		keyvaluedb.Writer
		keyvaluedb.Iterable
	}

	/*
	ResultCache memoizes analysis snapshots by canonical FBAS key. Entries are
	never evicted.

	The lock is held only while the map is accessed, never while a snapshot is
	computed or the store is accessed, so two goroutines missing the same key at
	the same time both compute and insert equal snapshots.
	*/
	ResultCache struct {
		mu      sync.Mutex
		entries map[fbas.Key]*analysis.Snapshot
		store   Store

		hits, misses atomic.Uint64

		hitCounter  metrics.Counter
		missCounter metrics.Counter
		sizeGauge   metrics.Gauge
	}

	Stats struct {
		Entries   int    `json:"entries"`
		Persisted int    `json:"persisted"`
		Hits      uint64 `json:"hits"`
		Misses    uint64 `json:"misses"`
	}

	Option func(*ResultCache)
)

// WithStore makes the cache fall back to db on a miss and write inserted
// snapshots through to it. Store failures are logged, never returned.
func WithStore(db Store) Option {
	return func(c *ResultCache) {
		c.store = db
	}
}

func New(opts ...Option) *ResultCache {
	c := &ResultCache{
		entries:     make(map[fbas.Key]*analysis.Snapshot),
		hitCounter:  abmetrics.GetOrRegisterCounter("fbas_cache_hits"),
		missCounter: abmetrics.GetOrRegisterCounter("fbas_cache_misses"),
		sizeGauge:   abmetrics.GetOrRegisterGauge("fbas_cache_entries"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns a copy of the snapshot of f, false when f has not been analysed.
func (c *ResultCache) Lookup(f *fbas.Fbas) (*analysis.Snapshot, bool) {
	key := f.Key()
	c.mu.Lock()
	s, ok := c.entries[key]
	c.mu.Unlock()

	if !ok && c.store != nil {
		if s, ok = c.load(key); ok {
			c.put(key, s)
		}
	}
	if !ok {
		c.misses.Add(1)
		c.missCounter.Inc(1)
		return nil, false
	}
	c.hits.Add(1)
	c.hitCounter.Inc(1)
	return s.Clone(), true
}

// Insert records the snapshot of f. The cache keeps its own copy of s.
func (c *ResultCache) Insert(f *fbas.Fbas, s *analysis.Snapshot) {
	key := f.Key()
	c.put(key, s.Clone())
	if c.store != nil {
		c.save(key, s)
	}
}

func (c *ResultCache) put(key fbas.Key, s *analysis.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = s
	c.sizeGauge.Update(int64(len(c.entries)))
}

// Len returns the number of snapshots held in memory.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) Stats() (Stats, error) {
	st := Stats{Entries: c.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
	if c.store == nil {
		return st, nil
	}
	n, err := keyvaluedb.Count(c.store)
	if err != nil {
		return st, err
	}
	st.Persisted = n
	return st, nil
}

func (c *ResultCache) load(key fbas.Key) (*analysis.Snapshot, bool) {
	r := &record{}
	found, err := c.store.Read(storeKey(key), r)
	if err != nil {
		log.Warning("reading snapshot from store: %v", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	if string(r.Key) != string(key) {
		log.Warning("store key collision, ignoring stored snapshot")
		return nil, false
	}
	return r.snapshot(), true
}

func (c *ResultCache) save(key fbas.Key, s *analysis.Snapshot) {
	if err := c.store.Write(storeKey(key), newRecord(key, s)); err != nil {
		log.Warning("writing snapshot to store: %v", err)
	}
}

// canonical keys grow with the FBAS, the store is keyed by their digest
func storeKey(key fbas.Key) []byte {
	h := blake2b.Sum256([]byte(key))
	return h[:]
}
