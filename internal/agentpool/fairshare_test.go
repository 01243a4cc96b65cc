package agentpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/types"
)

func TestShareWhenTotalBelowActiveCount(t *testing.T) {
	require.Equal(t, uint64(1), Share(0, 5, 3))
	require.Equal(t, uint64(1), Share(2, 5, 3))
	require.Equal(t, uint64(0), Share(3, 5, 3))
	require.Equal(t, uint64(0), Share(4, 5, 3))
}

func TestShareWhenTotalExceedsActiveCount(t *testing.T) {
	// 7 tasks across 3 agents: 3,2,2 with remainder biased to lowest index
	require.Equal(t, uint64(3), Share(0, 3, 7))
	require.Equal(t, uint64(2), Share(1, 3, 7))
	require.Equal(t, uint64(2), Share(2, 3, 7))
}

func TestShareZeroActiveAgents(t *testing.T) {
	require.Equal(t, uint64(0), Share(0, 0, 5))
}

func TestNominationMath(t *testing.T) {
	nom := Nomination(2, 3, 10) // covered=6, needing=4, admit=ceil(4/3)=2
	require.Equal(t, uint64(6), nom.TasksCovered)
	require.Equal(t, uint64(4), nom.TasksNeedingAgents)
	require.Equal(t, uint64(2), nom.NumToAdmit)
}

func TestNominationNoDeficit(t *testing.T) {
	nom := Nomination(5, 2, 3)
	require.Equal(t, uint64(0), nom.TasksNeedingAgents)
	require.Equal(t, uint64(0), nom.NumToAdmit)
}

func TestSharesEarliestFirstBias(t *testing.T) {
	stats := make([]types.AgentStats, 3)
	shares := Shares(types.BalancerEarliestFirst, stats, 7)
	require.Equal(t, []uint64{3, 2, 2}, shares)
}

func TestSharesEqualizerBiasPrefersLeastCompleted(t *testing.T) {
	stats := []types.AgentStats{
		{CompletedBlockTasks: 10},
		{CompletedBlockTasks: 0},
		{CompletedBlockTasks: 5},
	}
	shares := Shares(types.BalancerEqualizer, stats, 7)
	// base=2 each, remainder=1 goes to the least-completed agent (index 1)
	require.Equal(t, uint64(2), shares[0])
	require.Equal(t, uint64(3), shares[1])
	require.Equal(t, uint64(2), shares[2])
}
