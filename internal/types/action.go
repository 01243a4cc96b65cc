package types

import "encoding/json"

// MessageKind is the closed set of action message kinds the dispatcher is
// willing to emit (spec.md §4.6 "Disallowed actions"). Burn, delegate,
// undelegate, governance-vote, and cross-chain-transfer are rejected at
// task-creation validation time and never reach this type.
type MessageKind uint8

const (
	MessageBankSend MessageKind = iota
	MessageContractCall
)

func (k MessageKind) String() string {
	if k == MessageContractCall {
		return "contract_call"
	}
	return "bank_send"
}

// TokenMove describes the one fungible-token Transfer/Send a task may embed
// in a contract-call action payload (spec.md §3 "at most one fungible-token
// transfer or send per task").
type TokenMove struct {
	TokenAddress Address
	Amount       *Uint256
}

// Action is one entry of a task's ordered action list (spec.md §3).
type Action struct {
	Kind MessageKind

	// Target is the recipient (bank send) or contract (contract call).
	Target Address

	// Payload is the opaque message body. For MessageBankSend it encodes
	// coin amounts; for MessageContractCall it is the wasm-style execute
	// message, addressable by dotted path for transforms (spec.md §4.6
	// step 7).
	Payload json.RawMessage

	// GasLimit is required for MessageContractCall (spec.md §3) and
	// optional (ignored) for MessageBankSend.
	GasLimit *uint64

	// NativeAmount is the native-denom coin amount moved by a
	// MessageBankSend action, kept as a structured field (rather than
	// parsed back out of Payload) so C3's amount_for_one_task computation
	// (spec.md §4.3 step 4, "Σnative_coin_sends") doesn't need to
	// interpret opaque JSON.
	NativeAmount *Uint256

	// Token is set when this action moves a fungible token balance.
	Token *TokenMove
}

// Query is one predicate entry of a task's optional query list (spec.md
// §3). A task with at least one Query is "evented".
type Query struct {
	Target      Address
	Request     json.RawMessage
	CheckResult bool
}

// Transform rewrites one action-payload value from a query-response value
// before dispatch (spec.md §3, §4.6 step 7).
type Transform struct {
	ActionIndex int
	QueryIndex  int
	ActionPath  string // dotted path into Actions[ActionIndex].Payload
	QueryPath   string // dotted path into the query-index'th response
}
