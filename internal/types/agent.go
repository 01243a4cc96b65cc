package types

import "time"

// Agent is a registered executor identity (spec.md §3).
type Agent struct {
	Owner            Address
	PayoutAddr       Address
	AccruedBalance   *Uint256
	RegisterTimestamp time.Time
}

// AgentStats tracks per-agent execution history (spec.md §3), including the
// per-slot claim counter the legacy code tracks implicitly (SPEC_FULL.md
// "Supplemented features" #3): an agent may claim more than one task in the
// same slot up to its fair share, so the engine must remember how many it
// has already claimed in the *current* slot, not just whether it has
// claimed at all.
type AgentStats struct {
	CompletedBlockTasks uint64
	CompletedTimeTasks  uint64
	MissedSlots         uint64

	// LastExecutedSlot is the most recent slot id this agent successfully
	// dispatched a task in, used by tick() eviction (spec.md §4.4).
	LastExecutedSlot uint64

	// ClaimSlot/ClaimCount track the per-slot claim counter: ClaimCount
	// resets to zero whenever the dispatcher observes a ClaimSlot that
	// differs from the slot currently being served. ClaimTotal freezes the
	// ready-task count observed the first time this agent touched the
	// slot, so later claims in the same slot are measured against the
	// slot's starting size rather than its shrinking live bucket.
	ClaimSlot  uint64
	ClaimKind  SlotKind
	ClaimCount uint64
	ClaimTotal uint64
}

// AgentStatus is the query-only projection of where an agent sits (spec.md
// §4.4).
type AgentStatus uint8

const (
	AgentUnregistered AgentStatus = iota
	AgentActive
	AgentNominated
	AgentPending
)

func (s AgentStatus) String() string {
	switch s {
	case AgentActive:
		return "active"
	case AgentNominated:
		return "nominated"
	case AgentPending:
		return "pending"
	default:
		return "unregistered"
	}
}
