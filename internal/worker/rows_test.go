package worker

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlnlabs/dln-indexer/internal/analytics"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/dln"
)

func testEvent() *dln.Event {
	return &dln.Event{
		Type:    dln.OrderCreated,
		OrderID: "deadbeef",
	}
}

func TestBuildRowsPlaceholder(t *testing.T) {
	tx := &chain.Transaction{
		Signature: "sig1",
		Slot:      42,
		BlockTime: time.Unix(1700000000, 0).UTC(),
	}

	rows := BuildRows(tx, testEvent(), "prog1", analytics.StatusSuccess, nil, nil)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "sig1", row.Signature)
	assert.Equal(t, "prog1", row.ProgramID)
	assert.Equal(t, "0", row.Amount)
	assert.True(t, row.AmountUSD.IsZero())
	assert.Equal(t, analytics.InstructionUnknown, row.InstructionType)
	assert.Equal(t, string(dln.OrderCreated), row.EventType)
	assert.Equal(t, "deadbeef", row.OrderID)
	assert.Equal(t, analytics.StatusSuccess, row.Status)
}

func TestBuildRowsOnePerTransfer(t *testing.T) {
	tx := &chain.Transaction{
		Signature: "sig2",
		Slot:      43,
		BlockTime: time.Unix(1700000000, 0).UTC(),
	}
	transfers := []Transfer{
		{Account: "alice", Mint: "mintA", Amount: big.NewInt(1_000_000), InstructionType: analytics.InstructionSend, Decimals: 6},
		{Account: "bob", Mint: "mintB", Amount: big.NewInt(2_000_000_000), InstructionType: analytics.InstructionReceive, Decimals: 9},
	}
	prices := map[string]decimal.Decimal{
		"mintA": decimal.NewFromFloat(1.5),
	}

	rows := BuildRows(tx, testEvent(), "prog1", analytics.StatusFailed, transfers, prices)
	require.Len(t, rows, 2)

	// mintA: 1_000_000 base units at 6 decimals = 1.0 tokens × $1.50.
	assert.Equal(t, "alice", rows[0].Account)
	assert.Equal(t, "1000000", rows[0].Amount)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(rows[0].AmountUSD), "got %s", rows[0].AmountUSD)

	// mintB has no price: zero USD, amount still persisted.
	assert.Equal(t, "bob", rows[1].Account)
	assert.Equal(t, "2000000000", rows[1].Amount)
	assert.True(t, rows[1].AmountUSD.IsZero())

	for _, row := range rows {
		assert.Equal(t, analytics.StatusFailed, row.Status)
		assert.Equal(t, "deadbeef", row.OrderID)
		assert.Equal(t, string(dln.OrderCreated), row.EventType)
		assert.False(t, row.CreatedAt.IsZero())
		assert.Equal(t, row.CreatedAt, row.UpdatedAt)
	}
}

func TestUsdAmount(t *testing.T) {
	transfer := Transfer{Mint: "mintA", Amount: big.NewInt(2_500_000), Decimals: 6}
	prices := map[string]decimal.Decimal{"mintA": decimal.NewFromInt(2)}

	got := usdAmount(transfer, prices)
	assert.True(t, decimal.NewFromFloat(5.0).Equal(got), "got %s", got)

	assert.True(t, usdAmount(Transfer{Mint: "unknown", Amount: big.NewInt(1)}, prices).IsZero())
}
