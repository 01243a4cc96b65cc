package types

// Task is an immutable scheduled action record (spec.md §3). Once created
// it is never edited; removal and recreation is the only path to change
// one (spec.md §1 Non-goals).
type Task struct {
	Hash TaskHash

	Owner Address

	Interval Interval
	Bounds   Bounds

	// StopOnFail, if true, terminates the task (with escrow refund) the
	// first time one of its actions fails to execute.
	StopOnFail bool

	// Actions is the ordered, non-empty action list (spec.md §3).
	Actions []Action

	// Queries is optional; a non-empty Queries makes the task "evented"
	// (spec.md glossary).
	Queries []Query

	// Transforms rewrites action payloads from query responses before
	// dispatch.
	Transforms []Transform

	// AmountForOneTask is the precomputed worst-case cost of one
	// invocation: gas fee + coins moved + tokens moved (spec.md §3, §4.3
	// step 4).
	AmountForOneTask *Uint256

	// Version is the creation-time contract/engine version string.
	Version string

	// ChainLabel is the deployment-chain prefix baked into Hash (spec.md
	// §6 hash formula).
	ChainLabel string
}

// IsEvented reports whether the task has at least one predicate query and
// is therefore indexed in evented_by_trigger rather than block/time slots
// (spec.md §4.2).
func (t *Task) IsEvented() bool {
	return len(t.Queries) > 0
}

// IsRecurring reports whether the task's interval may fire more than once,
// which doubles the minimum required escrow at creation (spec.md §3).
func (t *Task) IsRecurring() bool {
	switch t.Interval.Kind {
	case IntervalOnce:
		return false
	default:
		return true
	}
}

// TaskBalance is the mutable per-task escrow record (spec.md §3).
type TaskBalance struct {
	TaskHash TaskHash

	// Native is the escrowed balance in the configured native denom.
	Native *Uint256

	// Token is the escrowed fungible-token balance, if the task moves one.
	Token *Uint256
	// TokenAddress identifies which fungible-token contract Token refers
	// to; zero-value when Token is nil.
	TokenAddress Address

	// Secondary is an optional second-denom balance (spec.md §3).
	Secondary *Uint256
}

// Covers reports whether the balance satisfies the amount-for-one-task
// invariant (spec.md §3, §8 "amount_for_one_task <= task_balance").
func (b *TaskBalance) Covers(amount *Uint256) bool {
	return b.Native.Cmp(amount) >= 0
}
