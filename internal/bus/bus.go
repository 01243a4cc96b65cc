// Package bus is the engine's event feed, grounded on the teacher's
// TxPool.reorgFeed (core/txpool/txpool.go): each event kind gets its own
// event.Feed, subscribers get a typed channel and an event.Subscription,
// and internal/rpcserver's websocket push stream fans all of them out to
// connected clients (spec.md §6 "Events").
package bus

import (
	"github.com/luxfi/geth/event"

	"github.com/croncatd/croncatd/internal/types"
)

// TaskCreated is emitted by C3 at the end of a successful create_task.
type TaskCreated struct {
	TaskHash   types.TaskHash
	Owner      types.Address
	TotalTasks uint64
}

// TaskRemoved is emitted by C3 whenever a task leaves the registry, whether
// by owner removal, ended interval, or escrow exhaustion.
type TaskRemoved struct {
	TaskHash types.TaskHash
	Reason   string
}

// AgentNominationOpened is emitted by C4/C5 when the nomination window is
// (re)armed because tasks_needing_agents > 0.
type AgentNominationOpened struct {
	NumToAdmit uint64
}

// Dispatched is emitted by C6 at the end of a successful proxy_call.
type Dispatched struct {
	TaskHash types.TaskHash
	Agent    types.Address
	SlotID   uint64
	SlotKind types.SlotKind
}

// AgentsKicked is emitted by C7's tick() for every agent it evicts.
type AgentsKicked struct {
	Agents []types.Address
}

// Bus is the process-wide collection of event feeds. The zero value is
// ready to use.
type Bus struct {
	TaskCreatedFeed          event.Feed
	TaskRemovedFeed          event.Feed
	AgentNominationOpenedFeed event.Feed
	DispatchedFeed           event.Feed
	AgentsKickedFeed         event.Feed

	scope event.SubscriptionScope
}

func (b *Bus) SubscribeTaskCreated(ch chan<- TaskCreated) event.Subscription {
	return b.scope.Track(b.TaskCreatedFeed.Subscribe(ch))
}

func (b *Bus) SubscribeTaskRemoved(ch chan<- TaskRemoved) event.Subscription {
	return b.scope.Track(b.TaskRemovedFeed.Subscribe(ch))
}

func (b *Bus) SubscribeAgentNominationOpened(ch chan<- AgentNominationOpened) event.Subscription {
	return b.scope.Track(b.AgentNominationOpenedFeed.Subscribe(ch))
}

func (b *Bus) SubscribeDispatched(ch chan<- Dispatched) event.Subscription {
	return b.scope.Track(b.DispatchedFeed.Subscribe(ch))
}

func (b *Bus) SubscribeAgentsKicked(ch chan<- AgentsKicked) event.Subscription {
	return b.scope.Track(b.AgentsKickedFeed.Subscribe(ch))
}

// Close unsubscribes every subscriber registered through this bus, for
// clean shutdown.
func (b *Bus) Close() {
	b.scope.Close()
}
