package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]string{}}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memCache) SetEX(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *memCache) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *memCache, *int) {
	t.Helper()

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cache := newMemCache()
	client := New(Config{
		Endpoint:    server.URL,
		Timeout:     time.Second,
		PriceTTL:    time.Minute,
		MinInterval: time.Millisecond,
	}, cache, zerolog.Nop())
	t.Cleanup(client.Close)

	// Backoff sleeps are irrelevant to these tests.
	client.retry.InitialDelay = 0
	client.retry.MaxDelay = 0

	return client, cache, &requests
}

func pricesHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestGetPricesFetchesAndCaches(t *testing.T) {
	client, _, requests := newTestClient(t, pricesHandler(`{"mintA":{"usdPrice":1.5},"mintB":{"usdPrice":0.25}}`))

	prices, err := client.GetPrices(context.Background(), []string{"mintA", "mintB"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(prices["mintA"]))
	assert.True(t, decimal.NewFromFloat(0.25).Equal(prices["mintB"]))
	assert.Equal(t, 1, *requests)

	// Second lookup inside the TTL is served entirely from cache.
	prices, err = client.GetPrices(context.Background(), []string{"mintA", "mintB"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, 1, *requests)
}

func TestGetPricesDeduplicatesAndSkipsEmpty(t *testing.T) {
	client, _, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("ids")
		assert.Equal(t, "mintA", ids)
		pricesHandler(`{"mintA":{"usdPrice":2}}`)(w, r)
	})

	prices, err := client.GetPrices(context.Background(), []string{"mintA", "", "mintA"})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 1, *requests)
}

func TestGetPricesMissingMintNotCached(t *testing.T) {
	client, cache, _ := newTestClient(t, pricesHandler(`{"mintA":{"usdPrice":3}}`))

	prices, err := client.GetPrices(context.Background(), []string{"mintA", "mintUnknown"})
	require.NoError(t, err)
	require.Len(t, prices, 1)

	_, ok, err := cache.Get(context.Background(), "price:mintUnknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetPricesUpstreamFailureReturnsCachedPortion(t *testing.T) {
	client, cache, requests := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.NoError(t, cache.SetEX(context.Background(), "price:mintA", "1.25", time.Minute))

	prices, err := client.GetPrices(context.Background(), []string{"mintA", "mintB"})
	require.Error(t, err)
	require.Len(t, prices, 1)
	assert.True(t, decimal.NewFromFloat(1.25).Equal(prices["mintA"]))
	// 5xx is retried to exhaustion.
	assert.Equal(t, 3, *requests)
}

func TestGetPricesClientErrorNotRetried(t *testing.T) {
	client, _, requests := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.GetPrices(context.Background(), []string{"mintA"})
	require.Error(t, err)
	assert.Equal(t, 1, *requests)
}

func TestGetPricesMalformedBodyNotRetried(t *testing.T) {
	client, _, requests := newTestClient(t, pricesHandler(`not json`))

	_, err := client.GetPrices(context.Background(), []string{"mintA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")
	assert.Equal(t, 1, *requests)
}

func TestGetPrice(t *testing.T) {
	client, _, _ := newTestClient(t, pricesHandler(`{"mintA":{"usdPrice":4}}`))

	price, ok, err := client.GetPrice(context.Background(), "mintA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(4).Equal(price))

	_, ok, err = client.GetPrice(context.Background(), "mintMissing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearAndClearAll(t *testing.T) {
	client, cache, _ := newTestClient(t, pricesHandler(`{}`))
	ctx := context.Background()

	require.NoError(t, cache.SetEX(ctx, "price:mintA", "1", time.Minute))
	require.NoError(t, cache.SetEX(ctx, "price:mintB", "2", time.Minute))

	require.NoError(t, client.Clear(ctx, "mintA"))
	_, ok, _ := cache.Get(ctx, "price:mintA")
	assert.False(t, ok)

	require.NoError(t, client.ClearAll(ctx))
	_, ok, _ = cache.Get(ctx, "price:mintB")
	assert.False(t, ok)
}

func TestGateSpacesRequests(t *testing.T) {
	var stamps []time.Time
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		pricesHandler(`{}`)(w, r)
	})
	client.gate.Close()
	client.gate = newGate(50*time.Millisecond, 8)

	for i := 0; i < 3; i++ {
		err := client.gate.Do(context.Background(), func() {
			stamps = append(stamps, time.Now())
		})
		require.NoError(t, err)
	}

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 45*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 45*time.Millisecond)
}
