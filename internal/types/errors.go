package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Validation errors
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrZeroAddress       = errors.New("zero address")
	ErrInvalidFeeTier    = errors.New("invalid fee tier")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrCallCommitment    = errors.New("call does not match order seed commitment")
	ErrUnknownChain      = errors.New("chain decimals not registered")
	ErrUnsupportedSchema = errors.New("unsupported snapshot schema")
)

// State errors
var (
	ErrInvalidOrderState  = errors.New("invalid order state")
	ErrChainMismatch      = errors.New("chain mismatch")
	ErrInvalidSourceChain = errors.New("invalid source chain")
	ErrDeadlineInvalid    = errors.New("fill deadline must be in the future")
	ErrDeadlineNotReached = errors.New("fill deadline not reached")
	ErrDeadlineExpired    = errors.New("fill deadline expired")
	ErrPaused             = errors.New("ledger is paused")
	ErrReentrantCall      = errors.New("reentrant call")
)

// Authorization errors
var (
	ErrMissingRole      = errors.New("missing role")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTargetNotAllowed = errors.New("target not allowed")
)

// Solvency errors
var (
	ErrInsufficientLiquidity = errors.New("insufficient available liquidity")
	ErrThresholdBreach       = errors.New("rebalance threshold breached")
	ErrTransferMismatch      = errors.New("transfer amount mismatch")
	ErrInsufficientShares    = errors.New("insufficient shares")
)

// Oracle errors
var (
	ErrStalePrice           = errors.New("stale price")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrPriceOutOfBounds     = errors.New("price out of bounds")
	ErrPriceFeedUnavailable = errors.New("price feed unavailable")
)

// ErrorClass groups errors so relayers can decide whether to retry.
type ErrorClass string

const (
	ClassUnknown       ErrorClass = "unknown"
	ClassValidation    ErrorClass = "validation"
	ClassState         ErrorClass = "state"
	ClassAuthorization ErrorClass = "authorization"
	ClassSolvency      ErrorClass = "solvency"
	ClassOracle        ErrorClass = "oracle"
)

var errorClasses = map[ErrorClass][]error{
	ClassValidation: {
		ErrInvalidAmount, ErrZeroAddress, ErrInvalidFeeTier, ErrInvalidToken,
		ErrInvalidThreshold, ErrCallCommitment, ErrUnknownChain, ErrUnsupportedSchema,
	},
	ClassState: {
		ErrInvalidOrderState, ErrChainMismatch, ErrInvalidSourceChain, ErrDeadlineInvalid,
		ErrDeadlineNotReached, ErrDeadlineExpired, ErrPaused, ErrReentrantCall,
	},
	ClassAuthorization: {ErrMissingRole, ErrInvalidSignature, ErrTargetNotAllowed},
	ClassSolvency: {
		ErrInsufficientLiquidity, ErrThresholdBreach, ErrTransferMismatch, ErrInsufficientShares,
	},
	ClassOracle: {ErrStalePrice, ErrInvalidPrice, ErrPriceOutOfBounds, ErrPriceFeedUnavailable},
}

// Classify returns the taxonomy class of err.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	for class, sentinels := range errorClasses {
		for _, sentinel := range sentinels {
			if errors.Is(err, sentinel) {
				return class
			}
		}
	}
	return ClassUnknown
}

// StatusError reports an order that is not in the status an action requires.
type StatusError struct {
	Digest Digest
	Status OrderStatus
	Want   OrderStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: order %s is %s, want %s", ErrInvalidOrderState, e.Digest.Hex(), e.Status, e.Want)
}

func (e *StatusError) Unwrap() error { return ErrInvalidOrderState }

// LiquidityError reports a request that exceeds the available liquidity.
type LiquidityError struct {
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *LiquidityError) Error() string {
	return fmt.Sprintf("%s: requested %s, available %s", ErrInsufficientLiquidity, e.Requested.Dec(), e.Available.Dec())
}

func (e *LiquidityError) Unwrap() error { return ErrInsufficientLiquidity }

// MismatchError reports a balance delta that differs from the instructed amount.
type MismatchError struct {
	Expected *uint256.Int
	Actual   *uint256.Int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %s, observed %s", ErrTransferMismatch, e.Expected.Dec(), e.Actual.Dec())
}

func (e *MismatchError) Unwrap() error { return ErrTransferMismatch }
