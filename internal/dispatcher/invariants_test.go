package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/types"
)

// Property-style checks for spec.md §8's "must hold after every handler"
// invariants and the laws that follow it. Each test targets one bullet
// from that list rather than a single handler's happy path.

// "For every plain task, its hash appears in exactly one of block_slots
// or time_slots."
func TestInvariantPlainTaskFiledInExactlyOneSlotFamily(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	h.clk.SetHeight(100)

	task := h.createTask(t, cfg, registry.CreateParams{
		Owner:          addr(1),
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})

	blocks, times, err := h.idx.SlotIDs()
	require.NoError(t, err)

	hits := 0
	for _, b := range blocks {
		hashes, err := h.idx.Hashes(types.SlotBlock, b)
		require.NoError(t, err)
		for _, hh := range hashes {
			if hh == task.Hash {
				hits++
			}
		}
	}
	for _, tm := range times {
		hashes, err := h.idx.Hashes(types.SlotTime, tm)
		require.NoError(t, err)
		for _, hh := range hashes {
			if hh == task.Hash {
				hits++
			}
		}
	}
	require.Equal(t, 1, hits)
}

// "amount_for_one_task <= task_balance at all times (else the task is
// removed during dispatch before next execution)."
func TestInvariantEscrowCoversNextExecutionOrTaskIsRemoved(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	h.registerAgent(t, addr(1))

	task := h.createTask(t, cfg, registry.CreateParams{
		Owner:    addr(2),
		Interval: types.Interval{Kind: types.IntervalEveryNBlocks, N: 1},
		Bounds:   types.Bounds{Kind: types.BoundaryHeight},
		Actions: []types.Action{{
			Kind:   types.MessageBankSend,
			Target: addr(3),
		}},
		AttachedNative: types.NewUint256(1_000_000_000),
	})

	h.clk.SetHeight(h.clk.Height() + 1)
	res, err := h.d.ProxyCall(context.Background(), h.clk, cfg, addr(1))
	require.NoError(t, err)

	bal, balErr := h.reg.GetBalance(task.Hash)
	if res.TaskRemoved {
		require.ErrorIs(t, balErr, errs.ErrNoTaskFound)
		return
	}
	require.NoError(t, balErr)
	require.True(t, bal.Covers(task.AmountForOneTask), "escrow must still cover one more execution once the task survives dispatch")
}

// "|agents_active| + |agents_pending| = |agents|; the two queues are
// disjoint."
func TestInvariantActiveAndPendingQueuesPartitionAgents(t *testing.T) {
	p := agentpool.New(nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := byte(1); i <= 5; i++ {
		require.NoError(t, p.Register(addr(i), addr(i), true, now))
	}

	ids := p.AgentIDs(0, 100)
	require.Equal(t, p.ActiveCount()+p.PendingCount(), len(ids))

	seen := map[types.Address]bool{}
	activeSeen, pendingSeen := 0, 0
	for _, id := range ids {
		require.False(t, seen[id], "agent %v listed twice", id)
		seen[id] = true
		if p.IsActive(id) {
			activeSeen++
		} else {
			pendingSeen++
		}
	}
	require.Equal(t, p.ActiveCount(), activeSeen)
	require.Equal(t, p.PendingCount(), pendingSeen)
}

// "Idempotent removal: removing a nonexistent task yields NoTaskFound."
func TestLawRemovingNonexistentTaskYieldsNoTaskFound(t *testing.T) {
	h := newHarness(t)
	var hash types.TaskHash
	hash[0] = 0xFF
	_, err := h.reg.RemoveTask(hash, types.SlotBlock, 0, "test")
	require.ErrorIs(t, err, errs.ErrNoTaskFound)
}

// "Hash determinism: creating semantically identical tasks twice yields
// TaskAlreadyExists on the second attempt."
func TestLawDuplicateCreationRejected(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	params := registry.CreateParams{
		Owner:          addr(1),
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	}

	_, _, err := h.reg.CreateTask(h.clk, cfg, "croncat-1", params)
	require.NoError(t, err)

	_, _, err = h.reg.CreateTask(h.clk, cfg, "croncat-1", params)
	require.ErrorIs(t, err, errs.ErrTaskAlreadyExists)
}

// "Fair-share conservation: sum over active agents of get_agent_tasks(i)
// equals total ready tasks of that kind."
func TestLawFairShareConservation(t *testing.T) {
	stats := make([]types.AgentStats, 4)
	for _, total := range []uint64{0, 1, 3, 4, 7, 100} {
		shares := agentpool.Shares(types.BalancerEarliestFirst, stats, total)
		var sum uint64
		for _, s := range shares {
			sum += s
		}
		require.Equal(t, total, sum, "shares must conserve total=%d", total)
	}
}

func simpleAction() types.Action {
	return types.Action{Kind: types.MessageBankSend, Target: types.Address{7}}
}
