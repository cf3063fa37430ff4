// Package dln classifies DLN order-protocol events out of parsed
// transactions: it extracts the orderId from structured logs and maps
// protocol instructions to typed OrderCreated / OrderFulfilled events.
package dln

import "time"

// EventType is the protocol event class.
type EventType string

const (
	OrderCreated   EventType = "OrderCreated"
	OrderFulfilled EventType = "OrderFulfilled"
)

// CreatedData is the OrderCreated payload. Optional accounts stay empty
// when the instruction omits them.
type CreatedData struct {
	Maker                    string `json:"maker,omitempty"`
	GiveToken                string `json:"giveToken,omitempty"`
	TakeToken                string `json:"takeToken,omitempty"`
	Receiver                 string `json:"receiver,omitempty"`
	AllowedTaker             string `json:"allowedTaker,omitempty"`
	AllowedCancelBeneficiary string `json:"allowedCancelBeneficiary,omitempty"`
	GiveChainID              uint64 `json:"giveChainId,omitempty"`
	TakeChainID              uint64 `json:"takeChainId,omitempty"`
	GiveAmount               uint64 `json:"giveAmount,omitempty"`
	TakeAmount               uint64 `json:"takeAmount,omitempty"`
	ExpirySlot               uint64 `json:"expirySlot,omitempty"`
	AffiliateFee             uint64 `json:"affiliateFee,omitempty"`
}

// FulfilledData is the OrderFulfilled payload.
type FulfilledData struct {
	Fulfiller         string `json:"fulfiller,omitempty"`
	OrderBeneficiary  string `json:"orderBeneficiary,omitempty"`
	UnlockBeneficiary string `json:"unlockBeneficiary,omitempty"`
	FulfillAmount     uint64 `json:"fulfillAmount,omitempty"`
}

// Event is a classified protocol event. An Event is only produced when
// both the orderId and the event type could be determined.
type Event struct {
	Type      EventType
	OrderID   string
	Signature string
	Slot      uint64
	BlockTime time.Time

	// Exactly one of the two payloads is set; in the log-fallback
	// classification path the payload is present but empty.
	Created   *CreatedData
	Fulfilled *FulfilledData
}
