// Package events defines the records the ledger publishes for relayers.
package events

import (
	"context"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// Type names a ledger state change.
type Type string

const (
	OrderCreated        Type = "OrderCreated"
	OrderFilled         Type = "OrderFilled"
	OrderReverted       Type = "OrderReverted"
	OrderSettled        Type = "OrderSettled"
	StakeDeposited      Type = "StakeDeposited"
	StakeWithdrawn      Type = "StakeWithdrawn"
	LiquidityRemoved    Type = "LiquidityRemoved"
	LiquidityRebalanced Type = "LiquidityRebalanced"
	FeesConfigured      Type = "FeesConfigured"
	FeesCollected       Type = "FeesCollected"
	ConfigUpdated       Type = "ConfigUpdated"
	RoleGranted         Type = "RoleGranted"
	RoleRevoked         Type = "RoleRevoked"
	Paused              Type = "Paused"
	Unpaused            Type = "Unpaused"
)

// Event is one committed state change. Order carries every field needed to
// recompute the digest on another chain.
type Event struct {
	Type           Type          `json:"type"`
	ChainID        uint64        `json:"chainId"`
	Timestamp      uint64        `json:"timestamp"`
	Digest         types.Digest  `json:"digest"`
	Order          *types.Order  `json:"order,omitempty"`
	Actor          types.Account `json:"actor"`
	Account        types.Account `json:"account"`
	Amount         *uint256.Int  `json:"amount,omitempty"`
	Fee            *uint256.Int  `json:"fee,omitempty"`
	OutputToken    types.Account `json:"outputToken"`
	OutputAmount   *uint256.Int  `json:"outputAmount,omitempty"`
	RouteSucceeded bool          `json:"routeSucceeded,omitempty"`
	DestChainID    uint64        `json:"destChainId,omitempty"`
	Detail         string        `json:"detail,omitempty"`
}

// Sink receives events after the entry point that produced them has committed.
type Sink interface {
	Publish(ctx context.Context, batch []Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, []Event) error { return nil }

// Multi fans a batch out to several sinks and returns the first error.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, batch []Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, batch); err != nil && first == nil {
			first = err
		}
	}
	return first
}
