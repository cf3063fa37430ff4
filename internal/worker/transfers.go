package worker

import (
	"math/big"
	"sort"

	"github.com/dlnlabs/dln-indexer/internal/analytics"
	"github.com/dlnlabs/dln-indexer/internal/chain"
)

// Transfer is one per-owner balance movement derived from pre/post
// token balances.
type Transfer struct {
	Account string
	Mint    string
	Amount  *big.Int // absolute base units
	// InstructionType is "receive" when the balance grew, "send" when
	// it shrank.
	InstructionType string
	Decimals        uint8
}

// collectMints returns the set of mints touched by a transaction: SPL
// mints with a positive aggregate post-pre delta, plus the wrapped
// native mint when any account gained lamports.
func collectMints(tx *chain.Transaction) []string {
	deltas := make(map[string]*big.Int)

	pre := make(map[uint16]*big.Int)
	for _, b := range tx.PreTokenBalances {
		pre[b.AccountIndex] = parseAmount(b.Amount)
	}
	for _, b := range tx.PostTokenBalances {
		post := parseAmount(b.Amount)
		delta := new(big.Int).Set(post)
		if p, ok := pre[b.AccountIndex]; ok {
			delta.Sub(post, p)
		}
		if delta.Sign() > 0 {
			total, ok := deltas[b.Mint]
			if !ok {
				total = new(big.Int)
				deltas[b.Mint] = total
			}
			total.Add(total, delta)
		}
	}

	var mints []string
	for mint := range deltas {
		mints = append(mints, mint)
	}
	sort.Strings(mints)

	if maxNativeDelta(tx) > 0 {
		mints = append(mints, chain.WrappedNativeMint)
	}
	return mints
}

// maxNativeDelta is the largest positive lamport gain across account
// indexes; the native asset is modeled as a transfer of the wrapped
// mint.
func maxNativeDelta(tx *chain.Transaction) int64 {
	var max int64
	for i := range tx.PostBalances {
		if i >= len(tx.PreBalances) {
			break
		}
		delta := int64(tx.PostBalances[i]) - int64(tx.PreBalances[i])
		if delta > max {
			max = delta
		}
	}
	return max
}

// detailedTransfers scans post token balances and yields one transfer
// per account whose amount changed versus its matched pre balance.
func detailedTransfers(tx *chain.Transaction) []Transfer {
	pre := make(map[uint16]chain.TokenBalance)
	for _, b := range tx.PreTokenBalances {
		pre[b.AccountIndex] = b
	}

	var transfers []Transfer
	for _, post := range tx.PostTokenBalances {
		postAmount := parseAmount(post.Amount)
		preAmount := new(big.Int)
		if p, ok := pre[post.AccountIndex]; ok {
			preAmount = parseAmount(p.Amount)
		}

		delta := new(big.Int).Sub(postAmount, preAmount)
		if delta.Sign() == 0 {
			continue
		}

		instructionType := analytics.InstructionReceive
		if delta.Sign() < 0 {
			instructionType = analytics.InstructionSend
		}
		transfers = append(transfers, Transfer{
			Account:         post.Owner,
			Mint:            post.Mint,
			Amount:          delta.Abs(delta),
			InstructionType: instructionType,
			Decimals:        tokenDecimals(post.Mint, post.Decimals),
		})
	}
	return transfers
}

// tokenDecimals trusts the balance metadata; zero is a legitimate SPL
// decimal count. Only the wrapped native mint, whose entries can lack
// metadata, falls back to the lamport exponent.
func tokenDecimals(mint string, d uint8) uint8 {
	if d == 0 && mint == chain.WrappedNativeMint {
		return chain.NativeDecimals
	}
	return d
}

func parseAmount(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}
