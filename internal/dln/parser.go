package dln

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dlnlabs/dln-indexer/internal/chain"
)

// Anchor-style instruction discriminators: the first eight bytes of
// sha256("global:<snake_case_name>").
func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	discCreateOrder          = anchorDiscriminator("create_order")
	discCreateOrderWithNonce = anchorDiscriminator("create_order_with_nonce")
	discFulfillOrder         = anchorDiscriminator("fulfill_order")
)

// Named account positions within the protocol instructions.
var (
	createOrderAccounts  = []string{"maker", "giveToken", "takeToken", "receiver", "allowedTaker", "allowedCancelBeneficiary"}
	fulfillOrderAccounts = []string{"fulfiller", "orderBeneficiary", "unlockBeneficiary"}
)

// Parser classifies DLN events for a configured set of program ids.
type Parser struct {
	programIDs map[string]struct{}
	log        zerolog.Logger
}

// NewParser builds a parser restricted to the given program ids.
func NewParser(programIDs []string, log zerolog.Logger) *Parser {
	set := make(map[string]struct{}, len(programIDs))
	for _, id := range programIDs {
		set[id] = struct{}{}
	}
	return &Parser{programIDs: set, log: log}
}

// Parse returns the protocol events carried by a transaction: zero when
// no orderId can be derived or no instruction/log classifies, and in
// practice at most one otherwise.
func (p *Parser) Parse(tx *chain.Transaction) []*Event {
	orderID := ExtractOrderID(tx.LogMessages)
	if orderID == "" {
		return nil
	}

	event := p.parseInstructions(tx, orderID)
	if event == nil {
		event = p.classifyFromLogs(tx, orderID)
	}
	if event == nil {
		return nil
	}
	return []*Event{event}
}

// parseInstructions decodes instructions belonging to the configured
// programs by discriminator. The first decodable order instruction
// determines the event.
func (p *Parser) parseInstructions(tx *chain.Transaction, orderID string) *Event {
	for _, ins := range tx.Instructions {
		if _, ok := p.programIDs[ins.ProgramID]; !ok {
			continue
		}
		if len(ins.Data) < 8 {
			continue
		}

		var disc [8]byte
		copy(disc[:], ins.Data[:8])
		args := ins.Data[8:]

		switch disc {
		case discCreateOrder, discCreateOrderWithNonce:
			return &Event{
				Type:      OrderCreated,
				OrderID:   orderID,
				Signature: tx.Signature,
				Slot:      tx.Slot,
				BlockTime: tx.BlockTime,
				Created:   decodeCreated(args, ins.Accounts),
			}
		case discFulfillOrder:
			return &Event{
				Type:      OrderFulfilled,
				OrderID:   orderID,
				Signature: tx.Signature,
				Slot:      tx.Slot,
				BlockTime: tx.BlockTime,
				Fulfilled: decodeFulfilled(args, ins.Accounts),
			}
		}
	}
	return nil
}

// classifyFromLogs is the fallback when no instruction decodes (opaque
// data, inner CPI, old layout): the event type is derived from the log
// lines and a minimal payload is emitted so transfers still persist.
func (p *Parser) classifyFromLogs(tx *chain.Transaction, orderID string) *Event {
	for _, line := range tx.LogMessages {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "order created"),
			strings.Contains(lower, "ordercreated"),
			strings.Contains(lower, "instruction: createorder"),
			strings.Contains(lower, "instruction: createorderwithnonce"):
			return &Event{
				Type:      OrderCreated,
				OrderID:   orderID,
				Signature: tx.Signature,
				Slot:      tx.Slot,
				BlockTime: tx.BlockTime,
				Created:   &CreatedData{},
			}
		case strings.Contains(lower, "order fulfilled"),
			strings.Contains(lower, "orderfulfilled"),
			strings.Contains(lower, "instruction: fulfillorder"):
			return &Event{
				Type:      OrderFulfilled,
				OrderID:   orderID,
				Signature: tx.Signature,
				Slot:      tx.Slot,
				BlockTime: tx.BlockTime,
				Fulfilled: &FulfilledData{},
			}
		}
	}
	return nil
}

// decodeCreated reads the little-endian u64 argument block
// (giveChainId, takeChainId, giveAmount, takeAmount, expirySlot,
// affiliateFee) and resolves the named accounts. Short data leaves the
// remaining fields unset.
func decodeCreated(args []byte, accounts []string) *CreatedData {
	d := &CreatedData{}
	fields := []*uint64{&d.GiveChainID, &d.TakeChainID, &d.GiveAmount, &d.TakeAmount, &d.ExpirySlot, &d.AffiliateFee}
	readU64s(args, fields)

	names := []*string{&d.Maker, &d.GiveToken, &d.TakeToken, &d.Receiver, &d.AllowedTaker, &d.AllowedCancelBeneficiary}
	for i, target := range names {
		if i < len(accounts) && i < len(createOrderAccounts) {
			*target = accounts[i]
		}
	}
	return d
}

func decodeFulfilled(args []byte, accounts []string) *FulfilledData {
	d := &FulfilledData{}
	readU64s(args, []*uint64{&d.FulfillAmount})

	names := []*string{&d.Fulfiller, &d.OrderBeneficiary, &d.UnlockBeneficiary}
	for i, target := range names {
		if i < len(accounts) && i < len(fulfillOrderAccounts) {
			*target = accounts[i]
		}
	}
	return d
}

func readU64s(data []byte, targets []*uint64) {
	for i, target := range targets {
		offset := i * 8
		if offset+8 > len(data) {
			return
		}
		*target = binary.LittleEndian.Uint64(data[offset : offset+8])
	}
}
