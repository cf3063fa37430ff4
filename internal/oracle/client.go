// Package oracle looks up USD token prices from an external HTTP price
// API, batched by mint, behind a shared cache and a rate-limited
// single-flight queue.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dlnlabs/dln-indexer/internal/metrics"
	"github.com/dlnlabs/dln-indexer/internal/resilience"
	"github.com/dlnlabs/dln-indexer/internal/store"
)

// Cache is the slice of the idempotency store the oracle client uses.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Config holds the oracle client settings.
type Config struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration
	PriceTTL    time.Duration
	MinInterval time.Duration
}

// Client fetches and caches USD prices by mint.
type Client struct {
	cfg   Config
	http  *http.Client
	cache Cache
	gate  *gate
	retry resilience.Policy
	log   zerolog.Logger
}

// New builds an oracle client. Upstream access is serialized through a
// single-flight queue with MinInterval spacing and wrapped in bounded
// exponential-backoff retry.
func New(cfg Config, cache Cache, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 1 * time.Second
	}
	if cfg.PriceTTL == 0 {
		cfg.PriceTTL = 5 * time.Minute
	}

	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
		gate:  newGate(cfg.MinInterval, 1024),
		retry: resilience.Policy{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			ShouldRetry:  isRetryable,
			OnRetry:      resilience.LogRetries(log, "oracle batch"),
		},
		log: log,
	}
}

// GetPrice returns the USD price for a single mint. The boolean is
// false when the price is unknown.
func (c *Client) GetPrice(ctx context.Context, mint string) (decimal.Decimal, bool, error) {
	prices, err := c.GetPrices(ctx, []string{mint})
	if err != nil {
		return decimal.Zero, false, err
	}
	price, ok := prices[mint]
	return price, ok, nil
}

// GetPrices resolves prices for a batch of mints: cached entries are
// served from the store, the remainder goes upstream in one request.
// Missing mints are absent from the result and never cached. When the
// upstream batch fails, the cached portion is still returned alongside
// the error; downstream treats unknown prices as zero USD.
func (c *Client) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(mints))
	seen := make(map[string]struct{}, len(mints))
	var uncached []string

	for _, mint := range mints {
		if mint == "" {
			continue
		}
		if _, dup := seen[mint]; dup {
			continue
		}
		seen[mint] = struct{}{}
		cached, ok, err := c.cache.Get(ctx, store.PriceKey(mint))
		if err != nil {
			c.log.Warn().Err(err).Str("mint", mint).Msg("price cache read failed")
		}
		if ok {
			price, perr := decimal.NewFromString(cached)
			if perr == nil {
				prices[mint] = price
				continue
			}
		}
		uncached = append(uncached, mint)
	}

	if len(uncached) == 0 {
		return prices, nil
	}

	fetched, err := c.fetchBatch(ctx, uncached)
	if err != nil {
		metrics.OracleRequests.WithLabelValues("failed").Inc()
		return prices, fmt.Errorf("oracle batch for %d mints: %w", len(uncached), err)
	}
	metrics.OracleRequests.WithLabelValues("success").Inc()

	for mint, price := range fetched {
		prices[mint] = price
		if err := c.cache.SetEX(ctx, store.PriceKey(mint), price.String(), c.cfg.PriceTTL); err != nil {
			c.log.Warn().Err(err).Str("mint", mint).Msg("price cache write failed")
		}
	}

	return prices, nil
}

// Clear drops one mint's cached price.
func (c *Client) Clear(ctx context.Context, mint string) error {
	return c.cache.Del(ctx, store.PriceKey(mint))
}

// ClearAll drops the entire price cache.
func (c *Client) ClearAll(ctx context.Context) error {
	keys, err := c.cache.Keys(ctx, store.PriceKey("*"))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cache.Del(ctx, keys...)
}

// Close stops the dispatcher goroutine.
func (c *Client) Close() {
	c.gate.Close()
}

type priceEntry struct {
	UsdPrice float64 `json:"usdPrice"`
}

// fetchBatch performs one upstream request through the single-flight
// gate, with bounded retry inside the slot so the inter-request spacing
// covers the retries too.
func (c *Client) fetchBatch(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	var (
		result map[string]decimal.Decimal
		reqErr error
	)

	gateErr := c.gate.Do(ctx, func() {
		reqErr = resilience.Do(ctx, c.retry, func() error {
			var err error
			result, err = c.request(ctx, mints)
			return err
		})
	})
	if gateErr != nil {
		return nil, gateErr
	}
	return result, reqErr
}

func (c *Client) request(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s?ids=%s", c.cfg.Endpoint, url.QueryEscape(strings.Join(mints, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("validation error: build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle read body: %w", err)
	}

	var payload map[string]priceEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse error: oracle response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(payload))
	for mint, entry := range payload {
		prices[mint] = decimal.NewFromFloat(entry.UsdPrice)
	}
	return prices, nil
}

// isRetryable keeps validation and parse failures out of the retry
// loop; everything network-shaped or 5xx/429 is retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "validation error") || strings.Contains(msg, "parse error") {
		return false
	}
	if strings.Contains(msg, "status 429") {
		return true
	}
	if strings.Contains(msg, "status 5") {
		return true
	}
	if strings.Contains(msg, "status ") {
		// Remaining non-OK statuses (4xx) are permanent.
		return false
	}
	return true
}
