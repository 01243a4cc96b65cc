package canon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/types"
)

func sampleTask() (types.Address, types.Interval, types.Bounds, []types.Action, []types.Query, []types.Transform) {
	owner := types.Address{1, 2, 3}
	iv := types.Interval{Kind: types.IntervalEveryNBlocks, N: 10}
	bd := types.Bounds{Kind: types.BoundaryHeight}
	actions := []types.Action{{Kind: types.MessageBankSend, Target: types.Address{9}}}
	return owner, iv, bd, actions, nil, nil
}

func TestTaskHashIsDeterministic(t *testing.T) {
	owner, iv, bd, actions, queries, transforms := sampleTask()
	h1 := TaskHash("croncat-1", owner, iv, bd, actions, queries, transforms)
	h2 := TaskHash("croncat-1", owner, iv, bd, actions, queries, transforms)
	require.Equal(t, h1, h2)
}

func TestTaskHashChangesWithInterval(t *testing.T) {
	owner, iv, bd, actions, queries, transforms := sampleTask()
	h1 := TaskHash("croncat-1", owner, iv, bd, actions, queries, transforms)
	iv.N = 11
	h2 := TaskHash("croncat-1", owner, iv, bd, actions, queries, transforms)
	require.NotEqual(t, h1, h2)
}

func TestTaskHashStringIncludesChainLabel(t *testing.T) {
	owner, iv, bd, actions, queries, transforms := sampleTask()
	h := TaskHash("croncat-1", owner, iv, bd, actions, queries, transforms)
	s := TaskHashString("croncat-1", h)
	require.Contains(t, s, "croncat-1:")
}
