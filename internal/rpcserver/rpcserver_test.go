package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/clock"
	"github.com/croncatd/croncatd/internal/dispatcher"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/lifecycle"
	"github.com/croncatd/croncatd/internal/query"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/slotindex"
	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

type noopResponder struct{}

func (noopResponder) Query(ctx context.Context, target types.Address, request json.RawMessage) (json.RawMessage, error) {
	return nil, errs.ErrQueryUnavailable
}

type noopExecutor struct{ calls int }

func (e *noopExecutor) Execute(ctx context.Context, a types.Action) error {
	e.calls++
	return nil
}

func addr(b byte) types.Address {
	var a types.Address
	a[len(a)-1] = b
	return a
}

func testConfig() types.Config {
	return types.Config{
		Owner:            addr(1),
		PauseAdmin:       addr(2),
		ChainLabel:       "croncat-1",
		GasBaseFee:       1000,
		GasPerQuery:      50,
		GasPrice:         types.NewUint256(1),
		PerTaskGasCap:    1_000_000,
		BlockGranularity: 1,
		TimeGranularity:  1,
		MinTasksPerAgent: 3,
		EvictionThreshold: 1000,
		MinActiveAgentCount: 1,
	}
}

func newService(t *testing.T) (*Service, *clock.Clock, *noopExecutor) {
	t.Helper()
	kv := store.NewMemStore()
	idx := slotindex.New(kv)
	var b bus.Bus
	reg, err := registry.New(kv, idx, &b, 16)
	require.NoError(t, err)
	pool := agentpool.New(&b)
	life := lifecycle.New(kv, pool)
	exec := &noopExecutor{}
	disp := dispatcher.New(kv, idx, reg, pool, &b, noopResponder{}, exec)
	clk := clock.NewAt(12345, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	svc, err := New(kv, idx, reg, pool, life, disp, &b, clk, testConfig())
	require.NoError(t, err)
	return svc, clk, exec
}

func simpleAction() types.Action {
	return types.Action{Kind: types.MessageBankSend, Target: types.Address{7}}
}

func TestCreateTaskRPCHappyPath(t *testing.T) {
	svc, _, _ := newService(t)

	var reply CreateTaskReply
	err := svc.CreateTask(&http.Request{}, &CreateTaskArgs{
		Owner:          addr(9),
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	}, &reply)
	require.NoError(t, err)
	require.NotZero(t, reply.TaskHash)

	var totals TasksTotalReply
	require.NoError(t, svc.TasksTotal(&http.Request{}, &Empty{}, &totals))
	require.Equal(t, uint64(1), totals.Plain)
}

func TestRemoveTaskRequiresOwner(t *testing.T) {
	svc, _, _ := newService(t)

	var created CreateTaskReply
	require.NoError(t, svc.CreateTask(&http.Request{}, &CreateTaskArgs{
		Owner:          addr(9),
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	}, &created))

	var reply RemoveTaskReply
	err := svc.RemoveTask(&http.Request{}, &RemoveTaskArgs{Caller: addr(99), TaskHash: created.TaskHash}, &reply)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	err = svc.RemoveTask(&http.Request{}, &RemoveTaskArgs{Caller: addr(9), TaskHash: created.TaskHash}, &reply)
	require.NoError(t, err)
}

func TestPauseBlocksRegisterAgentRPC(t *testing.T) {
	svc, _, _ := newService(t)

	var ar ApproveAgentReply
	require.NoError(t, svc.ApproveAgent(&http.Request{}, &ApproveAgentArgs{Caller: addr(1), Addr: addr(3)}, &ar))

	var pr PauseReply
	require.NoError(t, svc.Pause(&http.Request{}, &PauseArgs{Caller: addr(2)}, &pr))

	var rr RegisterAgentReply
	err := svc.RegisterAgent(&http.Request{}, &RegisterAgentArgs{Caller: addr(3)}, &rr)
	require.ErrorIs(t, err, errs.ErrContractPaused)

	var ur UnpauseReply
	require.NoError(t, svc.Unpause(&http.Request{}, &UnpauseArgs{Caller: addr(1)}, &ur))
	require.NoError(t, svc.RegisterAgent(&http.Request{}, &RegisterAgentArgs{Caller: addr(3)}, &rr))
}

func TestUpdateConfigRejectsNonOwnerAndEnforcesOneWayDecentralization(t *testing.T) {
	svc, _, _ := newService(t)

	on := true
	var reply UpdateConfigReply
	err := svc.UpdateConfig(&http.Request{}, &UpdateConfigArgs{Caller: addr(99), Patch: ConfigPatch{PublicRegistration: &on}}, &reply)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	err = svc.UpdateConfig(&http.Request{}, &UpdateConfigArgs{Caller: addr(1), Patch: ConfigPatch{PublicRegistration: &on}}, &reply)
	require.NoError(t, err)
	require.True(t, reply.Config.PublicRegistration)

	off := false
	err = svc.UpdateConfig(&http.Request{}, &UpdateConfigArgs{Caller: addr(1), Patch: ConfigPatch{PublicRegistration: &off}}, &reply)
	require.ErrorIs(t, err, errs.ErrDecentralizationOn)
}

// TestSingleAgentImmediateTaskScenario exercises spec.md §8 scenario S1's
// literal numbers end to end through the RPC surface.
func TestSingleAgentImmediateTaskScenario(t *testing.T) {
	svc, clk, exec := newService(t)

	var ar ApproveAgentReply
	require.NoError(t, svc.ApproveAgent(&http.Request{}, &ApproveAgentArgs{Caller: addr(1), Addr: addr(0xA)}, &ar))

	var rr RegisterAgentReply
	require.NoError(t, svc.RegisterAgent(&http.Request{}, &RegisterAgentArgs{Caller: addr(0xA)}, &rr))

	var created CreateTaskReply
	require.NoError(t, svc.CreateTask(&http.Request{}, &CreateTaskArgs{
		Owner:    addr(9),
		Interval: types.Interval{Kind: types.IntervalImmediate},
		Bounds:   types.Bounds{Kind: types.BoundaryHeight},
		Actions: []types.Action{{
			Kind:         types.MessageBankSend,
			Target:       types.Address{7},
			NativeAmount: types.NewUint256(5),
		}},
		AttachedNative: types.NewUint256(30_000),
	}, &created))

	var totals SlotTasksTotalReply
	require.NoError(t, svc.SlotTasksTotal(&http.Request{}, &SlotTasksTotalArgs{Offset: 1}, &totals))
	require.Equal(t, uint64(1), totals.Block)
	require.Equal(t, uint64(0), totals.Time)
	require.Equal(t, uint64(0), totals.Evented)

	blockOff, timeOff := uint64(1), uint64(0)
	var agentTasks GetAgentTasksReply
	require.NoError(t, svc.GetAgentTasks(&http.Request{}, &GetAgentTasksArgs{
		Addr:       addr(0xA),
		BlockSlots: &blockOff,
		TimeSlots:  &timeOff,
	}, &agentTasks))
	require.Equal(t, uint64(1), agentTasks.Block)
	require.Equal(t, uint64(0), agentTasks.Time)

	before, err := svc.reg.GetBalance(created.TaskHash)
	require.NoError(t, err)
	beforeNative := before.Native.Clone()

	// Advance one block so the task's slot (creation height + 1) is ready.
	clk.SetHeight(clk.Height() + 1)

	var proxyReply ProxyCallReply
	require.NoError(t, svc.ProxyCall(&http.Request{}, &ProxyCallArgs{Caller: addr(0xA)}, &proxyReply))
	require.False(t, proxyReply.Empty)
	require.Equal(t, created.TaskHash, proxyReply.TaskHash)
	require.Equal(t, 1, exec.calls)

	after, err := svc.reg.GetBalance(created.TaskHash)
	require.NoError(t, err)

	// cost = gas_price*(base_fee) + 0% fees (testConfig) + native sends
	// = 1*1000 + 0 + 5 = 1005 (spec.md §4.3 step 4 amount_for_one_task).
	expectedCost := types.NewUint256(1005)
	expectedRemaining := new(types.Uint256).Sub(beforeNative, expectedCost)
	require.Equal(t, expectedRemaining.Dec(), after.Native.Dec())

	// IntervalImmediate reschedules to height+1 again (it fires once per
	// height without waiting a full period), so the task now sits in the
	// next block slot, creation height + 2.
	hashes, err := svc.idx.Hashes(types.SlotBlock, clk.Height()+1)
	require.NoError(t, err)
	require.Contains(t, hashes, created.TaskHash)
}
