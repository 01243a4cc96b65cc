// Package errs collects the engine's named error kinds, grouped the same
// way spec.md §7 groups them. Handlers wrap these sentinels with
// fmt.Errorf("%w: ...") so callers can still errors.Is/errors.As against the
// kind while getting a human-readable message, the pattern the teacher uses
// throughout core/txpool/txpool.go (ErrOverdraft, ErrAlreadyReserved) and
// consensus/dummy/consensus.go (ErrInsufficientBlockGas).
package errs

import "errors"

// Authorization errors.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAgentNotRegistered   = errors.New("agent not registered")
	ErrAgentNotActive       = errors.New("agent not active")
	ErrUnapprovedAgent      = errors.New("agent not in approved set")
	ErrDecentralizationOn   = errors.New("public registration already enabled, cannot re-gate")
)

// State errors.
var (
	ErrContractPaused  = errors.New("contract paused")
	ErrNoTaskFound     = errors.New("no task found")
	ErrTaskAlreadyExists = errors.New("task already exists")
	ErrNoActiveAgents  = errors.New("no active agents")
)

// Validation errors.
var (
	ErrInvalidInterval    = errors.New("invalid interval")
	ErrInvalidBoundary    = errors.New("invalid boundary")
	ErrInvalidAction      = errors.New("invalid action")
	ErrNoGasLimit         = errors.New("contract-call action missing gas limit")
	ErrInvalidGas         = errors.New("invalid gas value")
	ErrInvalidGasPrice    = errors.New("invalid gas price")
	ErrInvalidPauseAdmin  = errors.New("pause admin may not equal config admin")
)

// ErrInvalidConfigurationValue reports a rejected config field.
type ErrInvalidConfigurationValue struct {
	Field string
}

func (e *ErrInvalidConfigurationValue) Error() string {
	return "invalid configuration value: " + e.Field
}

// Resource errors.
var (
	ErrEmptyBalance          = errors.New("escrow balance is empty")
	ErrNoFundsShouldBeAttached = errors.New("no funds should be attached")
)

// ErrInsufficientFunds reports the shortfall needed to satisfy an escrow
// invariant.
type ErrInsufficientFunds struct {
	Needed string
}

func (e *ErrInsufficientFunds) Error() string {
	return "insufficient funds, needed: " + e.Needed
}

// ErrNotEnoughCw20 reports a shortfall in a fungible-token escrow balance.
type ErrNotEnoughCw20 struct {
	Lack string
}

func (e *ErrNotEnoughCw20) Error() string {
	return "not enough cw20 balance, lacking: " + e.Lack
}

// Scheduling errors.
var (
	ErrTryLaterForNomination = errors.New("try later: nomination window not yet admissible")
	ErrTryLater              = errors.New("try later: fair-share already claimed this slot")
	ErrNotAcceptingNewAgents = errors.New("not accepting new agents")
	ErrTaskEnded             = errors.New("task interval has ended")
)

// Runtime errors.
var (
	ErrInvalidTransform     = errors.New("invalid transform")
	ErrUnknownReplyID       = errors.New("unknown reply id")
	ErrTaskInvalidQueryResult = errors.New("invalid query result")
	ErrQueryUnavailable     = errors.New("query target unavailable")
)
