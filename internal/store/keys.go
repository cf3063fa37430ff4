package store

import "fmt"

// Key namespaces shared across processes. Each key class has a single
// writer: dedup markers and the watermark belong to the realtime
// indexer, the processed counter to the worker, price entries to the
// oracle client.

// LastSlotKey is the per-program realtime watermark.
func LastSlotKey(programID string) string {
	return fmt.Sprintf("indexer:last_slot:%s", programID)
}

// SeenKey marks a signature as already enqueued (7-day TTL).
func SeenKey(signature string) string {
	return fmt.Sprintf("tx:indexed:%s", signature)
}

// ProcessedCountKey is the per-program durable row counter.
func ProcessedCountKey(programID string) string {
	return fmt.Sprintf("worker:stats:%s:processed_count", programID)
}

// PriceKey caches a mint's USD price.
func PriceKey(mint string) string {
	return fmt.Sprintf("price:%s", mint)
}
