package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/personas-nlq/backend/internal/persons"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingLoader struct {
	calls   atomic.Int32
	release chan struct{}

	mu      sync.Mutex
	records []persons.Person
	err     error
}

func (l *countingLoader) Load(ctx context.Context) ([]persons.Person, error) {
	l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records, l.err
}

func (l *countingLoader) set(records []persons.Person, err error) {
	l.mu.Lock()
	l.records, l.err = records, err
	l.mu.Unlock()
}

type memorySnapshots struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (m *memorySnapshots) SetSnapshot(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = b
	m.sets++
	return nil
}

func (m *memorySnapshots) GetSnapshot(_ context.Context, key string, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (m *memorySnapshots) DeleteSnapshot(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func people(names ...string) []persons.Person {
	out := make([]persons.Person, len(names))
	for i, n := range names {
		out[i] = persons.Person{ID: n, FirstName: n}
	}
	return out
}

func TestCache_WithinTTLDoesNotTouchStore(t *testing.T) {
	clock := newFakeClock()
	loader := &countingLoader{records: people("ana", "luis")}
	cache := New(loader, 10*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	d, err := cache.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Size())
	assert.EqualValues(t, 1, loader.calls.Load())

	clock.Advance(10*time.Minute - time.Second)
	for i := 0; i < 5; i++ {
		d, err = cache.Get(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 2, d.Size())
	}

	assert.EqualValues(t, 1, loader.calls.Load())
	stats := cache.Stats()
	assert.EqualValues(t, 5, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.True(t, stats.Valid)
}

func TestCache_AtTTLRefreshesExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	loader := &countingLoader{records: people("ana")}
	cache := New(loader, 10*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	_, err := cache.Get(ctx, false)
	require.NoError(t, err)

	loader.set(people("ana", "luis", "eva"), nil)
	clock.Advance(10 * time.Minute)

	d, err := cache.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())
	assert.EqualValues(t, 2, loader.calls.Load())

	_, err = cache.Get(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())
	assert.EqualValues(t, 2, cache.Stats().Refreshes)
}

func TestCache_ForceRefreshBypassesValidEntry(t *testing.T) {
	loader := &countingLoader{records: people("ana")}
	cache := New(loader, time.Hour, WithClock(newFakeClock().Now))
	ctx := context.Background()

	_, err := cache.Get(ctx, false)
	require.NoError(t, err)
	_, err = cache.Get(ctx, true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestCache_ForceRefreshDoesNotJoinNormalRefresh(t *testing.T) {
	loader := &countingLoader{records: people("ana"), release: make(chan struct{})}
	cache := New(loader, time.Hour, WithClock(newFakeClock().Now))

	var wg sync.WaitGroup
	get := func(force bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), force)
			assert.NoError(t, err)
		}()
	}

	get(false)
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	get(true)
	require.Eventually(t, func() bool { return loader.calls.Load() == 2 }, time.Second, time.Millisecond)

	close(loader.release)
	wg.Wait()
}

func TestCache_ConcurrentMissesShareOneRefresh(t *testing.T) {
	loader := &countingLoader{records: people("ana"), release: make(chan struct{})}
	cache := New(loader, time.Hour, WithClock(newFakeClock().Now))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Dataset, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := cache.Get(context.Background(), false)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}

	require.Eventually(t, func() bool {
		return cache.Stats().Misses == callers
	}, time.Second, time.Millisecond)
	close(loader.release)
	wg.Wait()

	assert.EqualValues(t, 1, loader.calls.Load())
	for _, d := range results {
		assert.Equal(t, 1, d.Size())
	}
}

func TestCache_FailedRefreshServesStaleDataset(t *testing.T) {
	clock := newFakeClock()
	loader := &countingLoader{records: people("ana", "luis")}
	cache := New(loader, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	first, err := cache.Get(ctx, false)
	require.NoError(t, err)

	loader.set(nil, errors.New("store unreachable"))
	clock.Advance(2 * time.Minute)

	d, err := cache.Get(ctx, false)
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, first.Records, d.Records)

	stats := cache.Stats()
	assert.False(t, stats.Valid)
	assert.EqualValues(t, 1, stats.Failures)
	require.NotNil(t, stats.FetchedAt)
	assert.Equal(t, first.FetchedAt, *stats.FetchedAt)

	// The failed refresh did not commit, so the next read tries again.
	loader.set(people("eva"), nil)
	d, err = cache.Get(ctx, false)
	require.NoError(t, err)
	assert.False(t, d.Stale)
	assert.Equal(t, 1, d.Size())
}

func TestCache_FailedFirstRefreshServesEmptyDataset(t *testing.T) {
	loader := &countingLoader{err: errors.New("store unreachable")}
	cache := New(loader, time.Minute)

	d, err := cache.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Zero(t, d.Size())
	assert.Zero(t, cache.Stats().Size)
}

func TestCache_SnapshotStore(t *testing.T) {
	clock := newFakeClock()
	snapshots := &memorySnapshots{}
	ctx := context.Background()

	writer := New(&countingLoader{records: people("ana", "luis")}, 10*time.Minute,
		WithClock(clock.Now), WithSnapshotStore(snapshots))
	_, err := writer.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshots.sets)

	readerLoader := &countingLoader{records: people("eva")}
	reader := New(readerLoader, 10*time.Minute, WithClock(clock.Now), WithSnapshotStore(snapshots))

	d, err := reader.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Size())
	assert.Zero(t, readerLoader.calls.Load())

	d, err = reader.Get(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Size())
	assert.EqualValues(t, 1, readerLoader.calls.Load())
}

func TestCache_ExpiredSnapshotIsIgnored(t *testing.T) {
	clock := newFakeClock()
	snapshots := &memorySnapshots{}
	ctx := context.Background()

	_, err := New(&countingLoader{records: people("ana")}, time.Minute,
		WithClock(clock.Now), WithSnapshotStore(snapshots)).Get(ctx, false)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	loader := &countingLoader{records: people("eva", "luis")}
	d, err := New(loader, time.Minute, WithClock(clock.Now), WithSnapshotStore(snapshots)).Get(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, d.Size())
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestCache_CancelledCallerReturnsContextError(t *testing.T) {
	loader := &countingLoader{records: people("ana"), release: make(chan struct{})}
	cache := New(loader, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.Get(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)

	close(loader.release)
	require.Eventually(t, func() bool {
		return cache.Stats().Refreshes == 1
	}, time.Second, time.Millisecond)
}

func TestCache_Invalidate(t *testing.T) {
	loader := &countingLoader{records: people("ana")}
	cache := New(loader, time.Hour)
	ctx := context.Background()

	_, _ = cache.Get(ctx, false)
	cache.Invalidate()
	_, _ = cache.Get(ctx, false)

	assert.EqualValues(t, 2, loader.calls.Load())
	assert.Equal(t, time.Hour, cache.TTL())
}

func TestCache_PurgeDropsEntryAndSnapshot(t *testing.T) {
	snapshots := &memorySnapshots{}
	loader := &countingLoader{records: people("ana")}
	cache := New(loader, time.Hour, WithClock(newFakeClock().Now), WithSnapshotStore(snapshots))
	ctx := context.Background()

	_, err := cache.Get(ctx, false)
	require.NoError(t, err)
	require.Contains(t, snapshots.data, SnapshotKey)

	loader.set(people("ana", "luis"), nil)
	require.NoError(t, cache.Purge(ctx))
	assert.NotContains(t, snapshots.data, SnapshotKey)

	d, err := cache.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Size())
	assert.EqualValues(t, 2, loader.calls.Load())
}
