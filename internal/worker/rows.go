package worker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlnlabs/dln-indexer/internal/analytics"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/dln"
)

// BuildRows composes the analytics rows for one event: one row per
// detailed transfer, each priced in USD, or a single placeholder row
// when the transaction moved no tokens. Every row of the group shares
// the event type and orderId.
func BuildRows(tx *chain.Transaction, event *dln.Event, programID, status string, transfers []Transfer, prices map[string]decimal.Decimal) []analytics.Row {
	now := time.Now().UTC()
	base := analytics.Row{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime.Truncate(time.Second),
		ProgramID: programID,
		Status:    status,
		EventType: string(event.Type),
		OrderID:   event.OrderID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(transfers) == 0 {
		placeholder := base
		placeholder.Amount = "0"
		placeholder.AmountUSD = decimal.Zero
		placeholder.InstructionType = analytics.InstructionUnknown
		return []analytics.Row{placeholder}
	}

	rows := make([]analytics.Row, 0, len(transfers))
	for _, t := range transfers {
		row := base
		row.Account = t.Account
		row.TokenMint = t.Mint
		row.Amount = t.Amount.String()
		row.AmountUSD = usdAmount(t, prices)
		row.InstructionType = t.InstructionType
		rows = append(rows, row)
	}
	return rows
}

// usdAmount converts base units to USD: |amount| × price / 10^decimals,
// decimals sourced from the transfer's post-balance metadata.
func usdAmount(t Transfer, prices map[string]decimal.Decimal) decimal.Decimal {
	price, ok := prices[t.Mint]
	if !ok {
		return decimal.Zero
	}
	amount := decimal.NewFromBigInt(t.Amount, -int32(t.Decimals))
	return amount.Mul(price)
}
