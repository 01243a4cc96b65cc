// fairshare.go implements C5 (spec.md §4.5): given the active-queue size,
// an agent's position in it, and the number of ready tasks of one kind,
// compute how many of that kind the agent may claim this slot.
package agentpool

import (
	"sort"

	"github.com/croncatd/croncatd/internal/types"
)

// Share computes the fair allocation for position i of N active agents
// when total tasks of one kind are ready, per spec.md §4.5:
//
//	total <= N:  share = 1 if i < total else 0
//	total >  N:  share = total/N + (1 if i < total mod N else 0)
func Share(i, n, total uint64) uint64 {
	if n == 0 {
		return 0
	}
	if total <= n {
		if i < total {
			return 1
		}
		return 0
	}
	share := total / n
	if i < total%n {
		share++
	}
	return share
}

// NominationMath is the C5 math C4 calls to decide whether to (re)arm the
// nomination window (spec.md §4.4).
type NominationMath struct {
	TasksCovered        uint64
	TasksNeedingAgents  uint64
	NumToAdmit          uint64
}

// Nomination computes tasks_covered, tasks_needing_agents, and
// num_to_admit from the active count, the per-agent ratio, and the total
// ready task count (spec.md §4.4 "Nomination math").
func Nomination(activeCount, minTasksPerAgent, totalReadyTasks uint64) NominationMath {
	covered := activeCount * minTasksPerAgent
	needing := uint64(0)
	if totalReadyTasks > covered {
		needing = totalReadyTasks - covered
	}
	numToAdmit := uint64(0)
	if needing > 0 && minTasksPerAgent > 0 {
		numToAdmit = (needing + minTasksPerAgent - 1) / minTasksPerAgent // ceil div
	}
	return NominationMath{TasksCovered: covered, TasksNeedingAgents: needing, NumToAdmit: numToAdmit}
}

// leftoverOrder returns the active-queue positions in the order leftover
// shares should be handed out, per the configured BalancerMode (spec.md
// §4.5: earliest-position bias, or an equalizer mode re-biasing toward
// agents with fewer completed tasks).
func leftoverOrder(mode types.BalancerMode, stats []types.AgentStats) []int {
	order := make([]int, len(stats))
	for i := range order {
		order[i] = i
	}
	if mode == types.BalancerEarliestFirst {
		return order // already earliest-position first
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca := stats[order[a]].CompletedBlockTasks + stats[order[a]].CompletedTimeTasks
		cb := stats[order[b]].CompletedBlockTasks + stats[order[b]].CompletedTimeTasks
		return ca < cb
	})
	return order
}

// Shares computes the full per-agent share vector for `total` ready tasks
// of one kind across len(stats) active agents, honoring mode for leftover
// bias. Index i of the returned slice is the share for active-queue
// position i.
func Shares(mode types.BalancerMode, stats []types.AgentStats, total uint64) []uint64 {
	n := uint64(len(stats))
	out := make([]uint64, n)
	if n == 0 {
		return out
	}
	base := total / n
	if total <= n {
		base = 0
	}
	for i := range out {
		out[i] = base
	}
	remainder := total % n
	if total <= n {
		remainder = total
	}
	order := leftoverOrder(mode, stats)
	for k := uint64(0); k < remainder && k < n; k++ {
		out[order[k]]++
	}
	return out
}
