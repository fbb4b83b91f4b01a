package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/cardterminal/internal/bridge/config"
	"github.com/iurnickita/cardterminal/internal/model"
)

func tap(id string) model.Notification {
	return model.CardNotification(model.InsertionEvent{ID: id})
}

func popIDs(q *Queue) []string {
	var ids []string
	for {
		n, ok := q.Pop()
		if !ok {
			return ids
		}
		ids = append(ids, n.Insertion.ID)
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4, config.DropOldest)
	for _, id := range []string{"a", "b", "c"} {
		require.False(t, q.Put(tap(id)))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"a", "b", "c"}, popIDs(q))

	// после переполнения кольца порядок сохраняется
	for _, id := range []string{"d", "e", "f", "g"} {
		q.Put(tap(id))
	}
	assert.Equal(t, []string{"d", "e", "f", "g"}, popIDs(q))
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue(2, config.DropOldest)
	q.Put(tap("a"))
	q.Put(tap("b"))
	require.True(t, q.Put(tap("c")))

	assert.Equal(t, []string{"b", "c"}, popIDs(q))
	assert.EqualValues(t, 1, q.Dropped())
}

func TestQueueDropNewest(t *testing.T) {
	q := NewQueue(2, config.DropNewest)
	q.Put(tap("a"))
	q.Put(tap("b"))
	require.True(t, q.Put(tap("c")))

	assert.Equal(t, []string{"a", "b"}, popIDs(q))
	assert.EqualValues(t, 1, q.Dropped())
}

func TestQueueDiscard(t *testing.T) {
	q := NewQueue(0, "")
	q.Put(tap("a"))
	q.Put(tap("b"))

	assert.Equal(t, 2, q.Discard())
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)

	q.Put(tap("c"))
	assert.Equal(t, []string{"c"}, popIDs(q))
}

func TestQueueReadySignal(t *testing.T) {
	q := NewQueue(4, config.DropOldest)
	q.Put(tap("a"))
	q.Put(tap("b"))

	select {
	case <-q.Ready():
	default:
		t.Fatal("no ready signal after put")
	}
	// несколько Put схлопываются в один сигнал
	select {
	case <-q.Ready():
		t.Fatal("unexpected second signal")
	default:
	}
}
