// Package dataset holds the enriched person dataset behind a single TTL entry.
package dataset

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/personas-nlq/backend/internal/metrics"
	"github.com/personas-nlq/backend/internal/persons"
	"github.com/personas-nlq/backend/pkg/logger"
)

// SnapshotKey names the dataset in the shared snapshot store.
const SnapshotKey = "dataset"

const (
	DefaultTTL = 10 * time.Minute

	refreshKey   = "refresh"
	cacheType    = "dataset"
	loadDeadline = 30 * time.Second
)

// Loader produces a freshly enriched set of records.
type Loader interface {
	Load(ctx context.Context) ([]persons.Person, error)
}

// SnapshotStore is an optional second level shared between instances.
type SnapshotStore interface {
	SetSnapshot(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetSnapshot(ctx context.Context, key string, out interface{}) (bool, error)
}

// Dataset is an immutable view of the cached records. Stale is set when
// the last refresh failed and an older (or empty) dataset is served instead.
type Dataset struct {
	Records   []persons.Person `json:"records"`
	FetchedAt time.Time        `json:"fetched_at"`
	Stale     bool             `json:"-"`
}

func (d Dataset) Size() int {
	return len(d.Records)
}

type Stats struct {
	Size      int           `json:"size"`
	TTL       time.Duration `json:"-"`
	TTLSecs   float64       `json:"ttl_seconds"`
	FetchedAt *time.Time    `json:"fetched_at,omitempty"`
	AgeSecs   float64       `json:"age_seconds"`
	Valid     bool          `json:"valid"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Refreshes int64         `json:"refreshes"`
	Failures  int64         `json:"failures"`
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithSnapshotStore(store SnapshotStore) Option {
	return func(c *Cache) { c.snapshot = store }
}

// Cache keeps one dataset entry valid while now - fetchedAt < ttl.
// Concurrent misses share a single refresh.
type Cache struct {
	loader   Loader
	snapshot SnapshotStore
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	entry *Dataset

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	refreshes atomic.Int64
	failures  atomic.Int64
}

func New(loader Loader, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached dataset, refreshing it first when the entry has
// expired or forceRefresh is set. A failed refresh never replaces the entry;
// the previous dataset (or an empty one) is returned marked Stale. The only
// error returned is the caller's context error.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (Dataset, error) {
	if !forceRefresh {
		if d, ok := c.current(); ok {
			c.hits.Add(1)
			metrics.CacheHits.WithLabelValues(cacheType).Inc()
			return d, nil
		}
	}
	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues(cacheType).Inc()

	key := refreshKey
	if forceRefresh {
		// A forced refresh must not join a normal one that may serve the snapshot.
		key = refreshKey + ":force"
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.refresh(forceRefresh), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Dataset), nil
	case <-ctx.Done():
		return Dataset{}, ctx.Err()
	}
}

// Invalidate drops the entry so the next Get refreshes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

type snapshotDeleter interface {
	DeleteSnapshot(ctx context.Context, key string) error
}

// Purge drops the entry and the shared snapshot, if the snapshot store
// supports deletion, so every instance reloads from the record store.
func (c *Cache) Purge(ctx context.Context) error {
	c.Invalidate()
	if d, ok := c.snapshot.(snapshotDeleter); ok {
		if err := d.DeleteSnapshot(ctx, SnapshotKey); err != nil {
			return fmt.Errorf("failed to delete dataset snapshot: %w", err)
		}
	}
	return nil
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entry := c.entry
	c.mu.RUnlock()

	s := Stats{
		TTL:       c.ttl,
		TTLSecs:   c.ttl.Seconds(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Refreshes: c.refreshes.Load(),
		Failures:  c.failures.Load(),
	}
	if entry != nil {
		fetchedAt := entry.FetchedAt
		s.Size = entry.Size()
		s.FetchedAt = &fetchedAt
		s.AgeSecs = c.now().Sub(fetchedAt).Seconds()
		s.Valid = c.isValid(entry)
	}
	return s
}

func (c *Cache) current() (Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry != nil && c.isValid(c.entry) {
		return *c.entry, true
	}
	return Dataset{}, false
}

func (c *Cache) isValid(d *Dataset) bool {
	return c.now().Sub(d.FetchedAt) < c.ttl
}

// refresh runs detached from any single caller so one cancelled request
// cannot fail the refresh for every caller sharing it.
func (c *Cache) refresh(force bool) Dataset {
	if !force {
		// A refresh that completed while this caller waited for the flight.
		if d, ok := c.current(); ok {
			return d
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadDeadline)
	defer cancel()

	if !force {
		if d, ok := c.loadSnapshot(ctx); ok {
			c.commit(d)
			return d
		}
	}

	start := c.now()
	records, err := c.loader.Load(ctx)
	if err != nil {
		c.failures.Add(1)
		metrics.DatasetRefreshes.WithLabelValues("failure").Inc()
		stale := c.stale()
		logger.Warn("Dataset refresh failed, serving previous dataset",
			zap.Error(err),
			zap.Int("stale_size", stale.Size()),
		)
		return stale
	}

	d := Dataset{Records: records, FetchedAt: c.now()}
	c.commit(d)
	c.refreshes.Add(1)
	metrics.DatasetRefreshes.WithLabelValues("success").Inc()

	logger.Info("Dataset refreshed",
		zap.Int("records", d.Size()),
		zap.Duration("took", c.now().Sub(start)),
		zap.Bool("forced", force),
	)

	if c.snapshot != nil {
		if err := c.snapshot.SetSnapshot(ctx, SnapshotKey, d, c.ttl); err != nil {
			logger.Warn("Failed to store dataset snapshot", zap.Error(err))
		}
	}

	return d
}

func (c *Cache) loadSnapshot(ctx context.Context) (Dataset, bool) {
	if c.snapshot == nil {
		return Dataset{}, false
	}

	var d Dataset
	found, err := c.snapshot.GetSnapshot(ctx, SnapshotKey, &d)
	if err != nil {
		logger.Warn("Failed to read dataset snapshot", zap.Error(err))
		return Dataset{}, false
	}
	if !found || !c.isValid(&d) {
		return Dataset{}, false
	}

	logger.Debug("Dataset restored from snapshot", zap.Int("records", d.Size()))
	return d, true
}

func (c *Cache) commit(d Dataset) {
	c.mu.Lock()
	c.entry = &d
	c.mu.Unlock()
	metrics.DatasetSize.Set(float64(d.Size()))
}

func (c *Cache) stale() Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return Dataset{Stale: true}
	}
	d := *c.entry
	d.Stale = true
	return d
}
