package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/domain"
)

type countingGeocoder struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (c *countingGeocoder) Reverse(ctx context.Context, at domain.LatLon) (domain.Place, error) {
	c.calls.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return domain.Place{}, ctx.Err()
		}
	}
	if c.err != nil {
		return domain.Place{}, c.err
	}
	return domain.Place{Name: "Oxford Road, Hulme", DisplayName: at.String()}, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memStore) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var hulme = domain.LatLon{Lat: 53.4668, Lon: -2.2474}

func TestGeocoderCachesInProcess(t *testing.T) {
	next := &countingGeocoder{}
	g := NewGeocoder(next, 16, time.Hour, nil, testLogger())

	first, err := g.Reverse(context.Background(), hulme)
	require.NoError(t, err)
	second, err := g.Reverse(context.Background(), hulme)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 1, g.Len())
}

func TestGeocoderDoesNotCacheFailures(t *testing.T) {
	next := &countingGeocoder{err: domain.ErrTransientIO}
	g := NewGeocoder(next, 16, time.Hour, nil, testLogger())

	_, err := g.Reverse(context.Background(), hulme)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
	_, err = g.Reverse(context.Background(), hulme)
	assert.ErrorIs(t, err, domain.ErrTransientIO)

	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 0, g.Len())
}

func TestGeocoderSharesStoreAcrossInstances(t *testing.T) {
	store := newMemStore()
	next := &countingGeocoder{}

	a := NewGeocoder(next, 16, time.Hour, store, testLogger())
	_, err := a.Reverse(context.Background(), hulme)
	require.NoError(t, err)
	require.Contains(t, store.data, KeyReverse(hulme))

	b := NewGeocoder(&countingGeocoder{err: errors.New("must not be called")}, 16, time.Hour, store, testLogger())
	place, err := b.Reverse(context.Background(), hulme)
	require.NoError(t, err)
	assert.Equal(t, "Oxford Road, Hulme", place.Name)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestGeocoderCollapsesConcurrentLookups(t *testing.T) {
	next := &countingGeocoder{gate: make(chan struct{})}
	g := NewGeocoder(next, 16, time.Hour, nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Reverse(context.Background(), hulme)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
}

func TestGeocoderLookupOutlivesCancelledCaller(t *testing.T) {
	next := &countingGeocoder{gate: make(chan struct{})}
	g := NewGeocoder(next, 16, time.Hour, nil, testLogger())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := g.Reverse(ctxA, hulme)
		errA <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		place domain.Place
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		place, err := g.Reverse(context.Background(), hulme)
		resB <- result{place, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(next.gate)
	select {
	case got := <-resB:
		require.NoError(t, got.err)
		assert.Equal(t, "Oxford Road, Hulme", got.place.Name)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 1, g.Len())
}

func TestGeocoderLookupTimesOut(t *testing.T) {
	next := &countingGeocoder{gate: make(chan struct{})}
	g := NewGeocoder(next, 16, time.Hour, nil, testLogger())
	g.timeout = 20 * time.Millisecond

	_, err := g.Reverse(context.Background(), hulme)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, g.Len())
}

func TestKeyReverseRounds(t *testing.T) {
	a := KeyReverse(domain.LatLon{Lat: 53.466801, Lon: -2.247401})
	b := KeyReverse(domain.LatLon{Lat: 53.466799, Lon: -2.247399})
	assert.Equal(t, a, b)
	assert.Equal(t, "geocode:reverse:53.46680,-2.24740", a)
}
