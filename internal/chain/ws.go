package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// Subscription is a live program-log feed.
type Subscription interface {
	// Recv blocks until the next notification, a subscription error, or
	// context cancellation.
	Recv(ctx context.Context) (*LogNotification, error)
	Close()
}

// Subscriber opens log subscriptions; the realtime indexer depends on
// this interface so tests can feed synthetic notifications.
type Subscriber interface {
	SubscribeLogs(ctx context.Context, programID string) (Subscription, error)
}

// IsSubscriptionUnsupported reports whether an error indicates the RPC
// provider does not offer logsSubscribe; the realtime indexer degrades
// cleanly in that case.
func IsSubscriptionUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "logsSubscribe") ||
		strings.Contains(msg, "Method") ||
		strings.Contains(msg, "not found")
}

type wsSubscriber struct {
	endpoint string
}

// NewSubscriber returns a Subscriber over the given websocket endpoint.
func NewSubscriber(endpoint string) Subscriber {
	return &wsSubscriber{endpoint: endpoint}
}

type wsSubscription struct {
	client *ws.Client
	sub    *ws.LogSubscription
}

func (s *wsSubscriber) SubscribeLogs(ctx context.Context, programID string) (Subscription, error) {
	pubkey, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %s: %w", programID, err)
	}

	client, err := ws.Connect(ctx, s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sub, err := client.LogsSubscribeMentions(pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("logsSubscribe: %w", err)
	}

	return &wsSubscription{client: client, sub: sub}, nil
}

func (s *wsSubscription) Recv(ctx context.Context) (*LogNotification, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("log subscription recv: %w", err)
	}
	return &LogNotification{
		Signature: res.Value.Signature.String(),
		Slot:      res.Context.Slot,
		Failed:    res.Value.Err != nil,
	}, nil
}

func (s *wsSubscription) Close() {
	s.sub.Unsubscribe()
	s.client.Close()
}
