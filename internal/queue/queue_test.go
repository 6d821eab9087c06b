package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkcache/model"
)

func TestOldest_KeepsOldestInOrder(t *testing.T) {
	o := NewOldest(3)
	for i, ts := range []int64{50, 10, 40, 20, 60, 30} {
		o.Offer(Candidate{Key: model.Key("w", int32(i), 0), LastAccess: ts})
	}

	got := o.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, int64(10), got[0].LastAccess)
	assert.Equal(t, int64(20), got[1].LastAccess)
	assert.Equal(t, int64(30), got[2].LastAccess)
	assert.Zero(t, o.Len())
}

func TestOldest_Unbounded(t *testing.T) {
	o := NewOldest(0)
	for i := range 100 {
		o.Offer(Candidate{Key: model.Key("w", int32(i), 0), LastAccess: int64(100 - i)})
	}

	got := o.Drain()
	require.Len(t, got, 100)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].LastAccess, got[i].LastAccess)
	}
}

func TestOldest_TieBreaks(t *testing.T) {
	o := NewOldest(0)
	o.Offer(Candidate{Key: model.Key("b", 0, 0), LastAccess: 1, Size: 10})
	o.Offer(Candidate{Key: model.Key("a", 0, 0), LastAccess: 1, Size: 10})
	o.Offer(Candidate{Key: model.Key("c", 0, 0), LastAccess: 1, Size: 99})

	got := o.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Key.World, "larger payload first on equal age")
	assert.Equal(t, "a", got[1].Key.World)
	assert.Equal(t, "b", got[2].Key.World)
}

func TestCandidates_FIFOAndDedup(t *testing.T) {
	q := NewCandidates()
	a, b, c := model.Key("w", 1, 1), model.Key("w", 2, 2), model.Key("w", 3, 3)

	assert.True(t, q.Push(a))
	assert.True(t, q.Push(b))
	assert.False(t, q.Push(a), "duplicate push must be ignored")
	assert.True(t, q.Push(c))
	assert.Equal(t, 3, q.Len())

	assert.True(t, q.Remove(b))
	assert.False(t, q.Remove(b))
	assert.False(t, q.Contains(b))

	k, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, a, k)
	k, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, c, k)
	_, ok = q.Pop()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestCandidates_Concurrent(t *testing.T) {
	q := NewCandidates()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 500 {
				k := model.Key("w", int32(i), 0)
				q.Push(k)
				if (i+g)%3 == 0 {
					q.Remove(k)
				}
			}
		}(g)
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		n++
	}
	assert.LessOrEqual(t, n, 500)
	assert.Zero(t, q.Len())
}
