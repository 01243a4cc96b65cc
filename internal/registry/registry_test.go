package registry

import (
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/clock"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/slotindex"
	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

// dumpDiff matches the teacher's core/genesis_test.go idiom: on a
// reflect.DeepEqual mismatch, fail with a full structural dump of both
// sides rather than Go's default %v, which elides unexported fields and
// collapses nested pointers.
func dumpDiff(t *testing.T, want, got interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		cfg := spew.ConfigState{DisablePointerAddresses: true, DisableCapacities: true}
		t.Errorf("mismatch:\nwant %s\ngot  %s", cfg.Sdump(want), cfg.Sdump(got))
	}
}

func testConfig() types.Config {
	return types.Config{
		GasBaseFee:       1000,
		GasPerAction:     100,
		GasPerQuery:      50,
		GasPrice:         types.NewUint256(1),
		PerTaskGasCap:    1_000_000,
		BlockGranularity: 1,
		TimeGranularity:  1,
	}
}

func newRegistry(t *testing.T) (*Registry, *clock.Clock) {
	kv := store.NewMemStore()
	idx := slotindex.New(kv)
	var b bus.Bus
	r, err := New(kv, idx, &b, 16)
	require.NoError(t, err)
	return r, clock.NewAt(100, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func simpleAction() types.Action {
	return types.Action{
		Kind:   types.MessageBankSend,
		Target: types.Address{7},
	}
}

func TestCreateTaskHappyPath(t *testing.T) {
	r, clk := newRegistry(t)
	cfg := testConfig()

	task, bal, err := r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.NoError(t, err)
	require.NotNil(t, task)
	require.True(t, bal.Covers(task.AmountForOneTask))

	got, err := r.GetTask(task.Hash)
	require.NoError(t, err)
	require.Equal(t, task.Hash, got.Hash)
	dumpDiff(t, task, got)

	plain, evented, err := r.TasksTotal()
	require.NoError(t, err)
	require.Equal(t, uint64(1), plain)
	require.Equal(t, uint64(0), evented)
}

func TestCreateTaskRejectsEmptyActions(t *testing.T) {
	r, clk := newRegistry(t)
	_, _, err := r.CreateTask(clk, testConfig(), "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.ErrorIs(t, err, errs.ErrInvalidAction)
}

func TestCreateTaskRejectsMissingGasLimit(t *testing.T) {
	r, clk := newRegistry(t)
	_, _, err := r.CreateTask(clk, testConfig(), "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{{Kind: types.MessageContractCall, Target: types.Address{2}}},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.ErrorIs(t, err, errs.ErrNoGasLimit)
}

func TestCreateTaskRejectsBoundaryMismatch(t *testing.T) {
	r, clk := newRegistry(t)
	_, _, err := r.CreateTask(clk, testConfig(), "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalCron, Schedule: "* * * * *"},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.ErrorIs(t, err, errs.ErrInvalidBoundary)
}

func TestCreateTaskRejectsInsufficientFunds(t *testing.T) {
	r, clk := newRegistry(t)
	_, _, err := r.CreateTask(clk, testConfig(), "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1),
	})
	require.Error(t, err)
	_, isShortfall := err.(*errs.ErrInsufficientFunds)
	require.True(t, isShortfall)
}

func TestCreateTaskRejectsDuplicate(t *testing.T) {
	r, clk := newRegistry(t)
	params := CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	}
	_, _, err := r.CreateTask(clk, testConfig(), "croncat-1", params)
	require.NoError(t, err)
	_, _, err = r.CreateTask(clk, testConfig(), "croncat-1", params)
	require.ErrorIs(t, err, errs.ErrTaskAlreadyExists)
}

func TestRecurringTaskRequiresDoubleEscrow(t *testing.T) {
	r, clk := newRegistry(t)
	cfg := testConfig()

	_, _, err := r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalEveryNBlocks, N: 5},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1100), // covers one but not two
	})
	require.Error(t, err)
}

func TestRemoveTaskRefundsAndCleansSlot(t *testing.T) {
	r, clk := newRegistry(t)
	cfg := testConfig()
	task, _, err := r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.NoError(t, err)

	slotID := clk.Height() + 1 // Once truncated to granularity 1 lands at h+1
	hashes, err := r.idx.Hashes(types.SlotBlock, slotID)
	require.NoError(t, err)
	require.Len(t, hashes, 1)

	bal, err := r.RemoveTask(task.Hash, types.SlotBlock, slotID, "owner_removed")
	require.NoError(t, err)
	require.NotNil(t, bal)

	_, err = r.GetTask(task.Hash)
	require.ErrorIs(t, err, errs.ErrNoTaskFound)

	hashes, err = r.idx.Hashes(types.SlotBlock, slotID)
	require.NoError(t, err)
	require.Empty(t, hashes)

	plain, _, err := r.TasksTotal()
	require.NoError(t, err)
	require.Equal(t, uint64(0), plain)
}

func TestRefillNativeAddsToEscrow(t *testing.T) {
	r, clk := newRegistry(t)
	cfg := testConfig()
	task, bal, err := r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.NoError(t, err)
	before := new(types.Uint256).Set(bal.Native)

	updated, err := r.RefillNative(task.Hash, types.NewUint256(500))
	require.NoError(t, err)
	require.Equal(t, new(types.Uint256).Add(before, types.NewUint256(500)).Dec(), updated.Native.Dec())
}

func TestRefillTokenPinsTokenAddressAndRejectsMismatch(t *testing.T) {
	r, clk := newRegistry(t)
	cfg := testConfig()
	task, _, err := r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          types.Address{1},
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.NoError(t, err)

	tokenA := types.Address{9}
	updated, err := r.RefillToken(task.Hash, tokenA, types.NewUint256(100))
	require.NoError(t, err)
	require.Equal(t, tokenA, updated.TokenAddress)
	require.Equal(t, "100", updated.Token.Dec())

	_, err = r.RefillToken(task.Hash, types.Address{10}, types.NewUint256(1))
	require.ErrorIs(t, err, errs.ErrInvalidAction)
}

func TestTasksByOwnerFiltersCorrectly(t *testing.T) {
	r, clk := newRegistry(t)
	cfg := testConfig()

	owner1 := types.Address{1}
	owner2 := types.Address{2}

	_, _, err := r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          owner1,
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{simpleAction()},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.NoError(t, err)

	_, _, err = r.CreateTask(clk, cfg, "croncat-1", CreateParams{
		Owner:          owner2,
		Interval:       types.Interval{Kind: types.IntervalOnce},
		Bounds:         types.Bounds{Kind: types.BoundaryHeight},
		Actions:        []types.Action{{Kind: types.MessageBankSend, Target: types.Address{8}}},
		AttachedNative: types.NewUint256(1_000_000_000),
	})
	require.NoError(t, err)

	owned, err := r.TasksByOwner(owner1, 0, 10)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, owner1, owned[0].Owner)
}
