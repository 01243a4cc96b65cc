package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/types"
)

func TestTaskCreatedDelivered(t *testing.T) {
	var b Bus
	ch := make(chan TaskCreated, 1)
	sub := b.SubscribeTaskCreated(ch)
	defer sub.Unsubscribe()

	b.TaskCreatedFeed.Send(TaskCreated{TaskHash: types.TaskHash{1}, TotalTasks: 3})

	select {
	case ev := <-ch:
		require.Equal(t, uint64(3), ev.TotalTasks)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCloseUnsubscribesAll(t *testing.T) {
	var b Bus
	ch := make(chan TaskRemoved, 1)
	b.SubscribeTaskRemoved(ch)
	b.Close()
	// A send after Close on a subscription-scope-closed feed should not
	// panic or block.
	b.TaskRemovedFeed.Send(TaskRemoved{Reason: "ended"})
}
