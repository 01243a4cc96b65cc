// Package metrics is the engine's instrumentation surface: a
// github.com/luxfi/geth/metrics registry (the same counter/gauge/histogram
// primitives the teacher exercises in core/txpool/txpool.go's reservation
// gauges) exported to Prometheus via a Gatherer, adapted from the teacher's
// own metrics/prometheus package.
package metrics

import (
	"fmt"

	gethmetrics "github.com/luxfi/geth/metrics"
)

// Registry is the process-wide metrics registry. All dispatcher, agent
// pool, and registry components register their counters/gauges here at
// construction time rather than reaching for package-level globals.
var Registry = gethmetrics.NewRegistry()

// Names of the gauges/counters the scheduler maintains. Kept centralized so
// the RPC status queries and the Prometheus export agree on spelling.
const (
	// GaugeActiveAgents is the current size of the active agent queue.
	GaugeActiveAgents = "agentpool/active"
	// GaugePendingAgents is the current size of the pending agent queue.
	GaugePendingAgents = "agentpool/pending"
	// GaugeBlockSlotDepth is the number of distinct block-slot buckets
	// currently populated.
	GaugeBlockSlotDepth = "slotindex/block_slots"
	// GaugeTimeSlotDepth is the number of distinct time-slot buckets
	// currently populated.
	GaugeTimeSlotDepth = "slotindex/time_slots"
	// GaugeEventedTasks is the number of evented tasks currently indexed.
	GaugeEventedTasks = "slotindex/evented"
	// CounterDispatched counts successful proxy_call executions.
	CounterDispatched = "dispatcher/dispatched"
	// CounterKeeperReward counts empty-slot keeper reward payouts.
	CounterKeeperReward = "dispatcher/keeper_reward"
	// CounterTasksRemoved counts task removals (owner, escrow-exhausted, or
	// stop_on_fail terminations), broken down further by the "reason" label
	// folded into the metric name by callers.
	CounterTasksRemoved = "registry/tasks_removed"
	// reservationGaugePrefix mirrors core/txpool/txpool.go's
	// "txpool/reservations" per-subpool gauge family: one gauge per agent
	// position tracking how many task slots that position currently holds.
	reservationGaugePrefix = "agentpool/claims"
)

// ClaimGauge returns the per-agent-position claim gauge, grounded directly
// on the teacher's reservationsGaugeName pattern in core/txpool/txpool.go.
func ClaimGauge(position int) gethmetrics.Gauge {
	name := fmt.Sprintf("%s/%d", reservationGaugePrefix, position)
	return gethmetrics.GetOrRegisterGauge(name, Registry)
}

func init() {
	gethmetrics.GetOrRegisterGauge(GaugeActiveAgents, Registry)
	gethmetrics.GetOrRegisterGauge(GaugePendingAgents, Registry)
	gethmetrics.GetOrRegisterGauge(GaugeBlockSlotDepth, Registry)
	gethmetrics.GetOrRegisterGauge(GaugeTimeSlotDepth, Registry)
	gethmetrics.GetOrRegisterGauge(GaugeEventedTasks, Registry)
	gethmetrics.GetOrRegisterCounter(CounterDispatched, Registry)
	gethmetrics.GetOrRegisterCounter(CounterKeeperReward, Registry)
	gethmetrics.GetOrRegisterCounter(CounterTasksRemoved, Registry)
}
