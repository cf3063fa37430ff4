// Package metrics registers the pipeline's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished counts ingest messages accepted by the broker,
	// labeled by producer source.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dln_messages_published_total",
		Help: "Ingest messages confirmed by the broker",
	}, []string{"source"})

	// MessagesConsumed counts deliveries handled by the worker, labeled
	// by outcome (ack, retry, dropped, skipped).
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dln_messages_consumed_total",
		Help: "Bus deliveries processed by the worker",
	}, []string{"outcome"})

	// RowsInserted counts analytics rows acknowledged by ClickHouse.
	RowsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dln_rows_inserted_total",
		Help: "Analytics rows inserted",
	})

	// OracleRequests counts upstream price batches, labeled by result.
	OracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dln_oracle_requests_total",
		Help: "Upstream price oracle batch requests",
	}, []string{"result"})

	// ProcessingErrors counts worker failures, labeled by classification.
	ProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dln_processing_errors_total",
		Help: "Worker processing errors",
	}, []string{"kind"})
)
