package ledger

import (
	"context"
	"fmt"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// RouteKind selects how a fill is disbursed.
type RouteKind uint8

const (
	// RouteDirect pays the stablecoin to the receiver.
	RouteDirect RouteKind = iota
	// RouteSwap hands the payout to the executor to swap into TokenOut.
	RouteSwap
	// RouteCall hands the payout to the executor for a call bound by the order seed.
	RouteCall
)

func (k RouteKind) String() string {
	switch k {
	case RouteDirect:
		return "direct"
	case RouteSwap:
		return "swap"
	case RouteCall:
		return "call"
	default:
		return fmt.Sprintf("route(%d)", uint8(k))
	}
}

// Route is the disbursement instruction supplied with a fill.
type Route struct {
	Kind   RouteKind
	Target types.Account
	Data   []byte
}

// Direct is the zero-value route.
var Direct = Route{Kind: RouteDirect}

// validate checks the payload against the order.
func (r Route) validate(order *types.Order) error {
	switch r.Kind {
	case RouteDirect:
		return nil
	case RouteSwap:
		if r.Target.IsZero() {
			return fmt.Errorf("%w: swap target", types.ErrZeroAddress)
		}
		return nil
	case RouteCall:
		if r.Target.IsZero() {
			return fmt.Errorf("%w: call target", types.ErrZeroAddress)
		}
		if !types.SeedBinds(order.Seed, r.Target, r.Data) {
			return fmt.Errorf("%w: target %s", types.ErrCallCommitment, r.Target)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown route %s", types.ErrTargetNotAllowed, r.Kind)
	}
}

// ExecRequest is handed to the Executor for swap and call routes.
type ExecRequest struct {
	Digest       types.Digest
	Kind         RouteKind
	Target       types.Account
	Data         []byte
	Custody      types.Account
	Token        types.Account
	Amount       *uint256.Int
	Receiver     types.Account
	TokenOut     types.Account
	MinAmountOut *uint256.Int
}

// ExecResult reports what the executor delivered to the receiver.
type ExecResult struct {
	OutputToken  types.Account
	OutputAmount *uint256.Int
	Success      bool
}

// Executor performs swaps and calls. On success it must have pulled exactly
// req.Amount from req.Custody; when it fails it must not have moved custody
// funds. Slippage against MinAmountOut is the executor's responsibility.
// Calls back into the ledger must use ctx.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}
