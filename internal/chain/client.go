package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrNotFound is surfaced when the node has no record of a signature.
// Its text participates in the worker's permanent-error classification.
var ErrNotFound = fmt.Errorf("transaction not found")

// Client is the RPC surface the indexers and the worker depend on.
type Client interface {
	SignaturesForAddress(ctx context.Context, address, before, until string, limit int) ([]SignatureInfo, error)
	Transaction(ctx context.Context, signature string) (*Transaction, error)
	BlockTime(ctx context.Context, slot uint64) (time.Time, error)
}

type rpcClient struct {
	rpc *rpc.Client
}

// NewClient builds a Client over the given JSON-RPC endpoint.
func NewClient(endpoint string) Client {
	return &rpcClient{rpc: rpc.New(endpoint)}
}

func (c *rpcClient) SignaturesForAddress(ctx context.Context, address, before, until string, limit int) ([]SignatureInfo, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}
	if before != "" {
		sig, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid signature %s: %w", before, err)
		}
		opts.Before = sig
	}
	if until != "" {
		sig, err := solana.SignatureFromBase58(until)
		if err != nil {
			return nil, fmt.Errorf("invalid signature %s: %w", until, err)
		}
		opts.Until = sig
	}

	results, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, pubkey, opts)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	infos := make([]SignatureInfo, 0, len(results))
	for _, r := range results {
		info := SignatureInfo{
			Signature: r.Signature.String(),
			Slot:      r.Slot,
		}
		if r.BlockTime != nil {
			t := r.BlockTime.Time()
			info.BlockTime = &t
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *rpcClient) Transaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %s: %w", signature, err)
	}

	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if res == nil || res.Transaction == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, signature)
	}

	decoded, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("parse error: decode transaction %s: %w", signature, err)
	}

	tx := &Transaction{
		Signature: signature,
		Slot:      res.Slot,
	}
	if res.BlockTime != nil {
		tx.BlockTime = res.BlockTime.Time()
	}

	if meta := res.Meta; meta != nil {
		tx.Failed = meta.Err != nil
		tx.LogMessages = meta.LogMessages
		tx.PreBalances = meta.PreBalances
		tx.PostBalances = meta.PostBalances
		tx.PreTokenBalances = convertTokenBalances(meta.PreTokenBalances)
		tx.PostTokenBalances = convertTokenBalances(meta.PostTokenBalances)
	}

	msg := decoded.Message
	for _, ins := range msg.Instructions {
		programID, err := msg.Program(ins.ProgramIDIndex)
		if err != nil {
			continue
		}
		accounts := make([]string, 0, len(ins.Accounts))
		for _, idx := range ins.Accounts {
			if int(idx) < len(msg.AccountKeys) {
				accounts = append(accounts, msg.AccountKeys[idx].String())
			}
		}
		tx.Instructions = append(tx.Instructions, Instruction{
			ProgramID: programID.String(),
			Data:      ins.Data,
			Accounts:  accounts,
		})
	}

	return tx, nil
}

func (c *rpcClient) BlockTime(ctx context.Context, slot uint64) (time.Time, error) {
	out, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		return time.Time{}, fmt.Errorf("getBlockTime %d: %w", slot, err)
	}
	if out == nil {
		return time.Time{}, fmt.Errorf("getBlockTime %d: no timestamp", slot)
	}
	return out.Time(), nil
}

func convertTokenBalances(balances []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Amount = b.UiTokenAmount.Amount
			tb.Decimals = b.UiTokenAmount.Decimals
		}
		out = append(out, tb)
	}
	return out
}
