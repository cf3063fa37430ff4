// Package chain wraps the Solana JSON-RPC and websocket surface behind
// interfaces the producers and the worker consume.
package chain

import "time"

// WrappedNativeMint is the SPL mint native SOL transfers are modeled as.
const WrappedNativeMint = "So11111111111111111111111111111111111111112"

// NativeDecimals is the lamports-per-SOL exponent.
const NativeDecimals = 9

// SignatureInfo is one entry from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
}

// Instruction is a top-level instruction with its accounts resolved to
// canonical base58 text.
type Instruction struct {
	ProgramID string
	Data      []byte
	Accounts  []string
}

// TokenBalance is a pre or post SPL token balance entry.
type TokenBalance struct {
	AccountIndex uint16
	Mint         string
	Owner        string
	Amount       string // base units, decimal string
	Decimals     uint8
}

// Transaction is the fully parsed transaction the event parser and the
// worker operate on: instruction list, balances, and log messages.
type Transaction struct {
	Signature         string
	Slot              uint64
	BlockTime         time.Time
	Failed            bool
	LogMessages       []string
	Instructions      []Instruction
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// LogNotification is one realtime program-log event.
type LogNotification struct {
	Signature string
	Slot      uint64
	Failed    bool
}
