package eventqueue

import (
	"testing"

	"github.com/relaywatch/jobrunner-worker/internal/model"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New()

	_, ok := q.TryPop()
	require.False(t, ok)

	q.Push(model.RunEnqueued(1))
	q.Push(model.RunEnqueued(2))
	q.Push(model.RunEnqueued(3))
	require.Equal(t, 3, q.Len())

	for _, want := range []int64{1, 2, 3} {
		ev, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, want, *ev.RunID)
	}

	_, ok = q.TryPop()
	require.False(t, ok)
}
