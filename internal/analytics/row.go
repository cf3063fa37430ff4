// Package analytics appends enriched transaction rows to the ClickHouse
// transactions table using server-side async inserts.
package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Row statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// Instruction types.
const (
	InstructionReceive = "receive"
	InstructionSend    = "send"
	InstructionUnknown = "unknown"
)

// Row is one persisted token transfer (or the placeholder when a
// recognized event carried no transfers). The table's ReplacingMergeTree
// engine collapses duplicate (signature, account, program_id) tuples,
// keeping the greatest updated_at.
type Row struct {
	Signature       string
	Slot            uint64
	BlockTime       time.Time
	ProgramID       string
	Account         string
	TokenMint       string
	Amount          string // absolute base units
	AmountUSD       decimal.Decimal
	Status          string
	InstructionType string
	EventType       string
	OrderID         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
