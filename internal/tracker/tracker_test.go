package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkcache/internal/queue"
	"github.com/hupe1980/chunkcache/model"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestTouch_RecordsAccess(t *testing.T) {
	tr := New(nil)
	k := model.Key("w", 1, 2)

	assert.Equal(t, uint64(1), tr.Touch(k, epoch))
	assert.Equal(t, uint64(2), tr.Touch(k, epoch.Add(time.Second)))

	snap, ok := tr.Get(k)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Second).UnixNano(), snap.LastAccess)
	assert.Equal(t, uint64(2), snap.Count)
	assert.True(t, snap.Active)
	assert.Equal(t, 1, tr.ActiveCount())
	assert.Equal(t, 1, tr.Len())
}

func TestIsIdleSince(t *testing.T) {
	tr := New(nil)
	k := model.Key("w", 0, 0)
	tr.Touch(k, epoch)

	assert.False(t, tr.IsIdleSince(k, 10*time.Second, epoch.Add(10*time.Second)), "strictly greater than threshold")
	assert.True(t, tr.IsIdleSince(k, 10*time.Second, epoch.Add(10*time.Second+time.Millisecond)))
	assert.True(t, tr.IsIdleSince(model.Key("w", 9, 9), time.Hour, epoch), "unknown keys are idle")
}

func TestSweepActive(t *testing.T) {
	tr := New(nil)
	old, fresh := model.Key("w", 0, 0), model.Key("w", 1, 0)
	tr.Touch(old, epoch)
	tr.Touch(fresh, epoch.Add(50*time.Second))

	n := tr.SweepActive(30*time.Second, epoch.Add(60*time.Second))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.ActiveCount())

	snap, _ := tr.Get(old)
	assert.False(t, snap.Active)

	tr.Touch(old, epoch.Add(61*time.Second))
	assert.Equal(t, 2, tr.ActiveCount())
}

func TestTouchRemovesFromQueue(t *testing.T) {
	q := queue.NewCandidates()
	tr := New(q)
	k := model.Key("w", 4, 4)
	tr.Touch(k, epoch)

	require.True(t, tr.Enqueue(k))
	assert.False(t, tr.Enqueue(k), "already queued")
	assert.Equal(t, 1, q.Len())

	tr.Touch(k, epoch.Add(time.Second))
	assert.Zero(t, q.Len())
	snap, _ := tr.Get(k)
	assert.False(t, snap.Queued)
}

func TestDequeueClearsFlag(t *testing.T) {
	tr := New(nil)
	a, b := model.Key("w", 1, 0), model.Key("w", 2, 0)
	tr.Touch(a, epoch)
	tr.Touch(b, epoch)
	tr.Enqueue(a)
	tr.Enqueue(b)

	k, ok := tr.Dequeue()
	require.True(t, ok)
	assert.Equal(t, a, k)
	snap, _ := tr.Get(a)
	assert.False(t, snap.Queued)
	assert.True(t, tr.Enqueue(a), "key can be queued again after dequeue")
}

func TestForget(t *testing.T) {
	tr := New(nil)
	k := model.Key("w", 1, 1)
	tr.Touch(k, epoch)
	tr.Enqueue(k)

	tr.Forget(k)
	_, ok := tr.Get(k)
	assert.False(t, ok)
	assert.Zero(t, tr.ActiveCount())
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Queue().Len())

	tr.Forget(k) // idempotent
}

func TestRangeStopsEarly(t *testing.T) {
	tr := New(nil)
	for i := range 10 {
		tr.Touch(model.Key("w", int32(i), 0), epoch)
	}

	seen := 0
	tr.Range(func(model.ChunkKey, Snapshot) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)
}

func TestTouch_Concurrent(t *testing.T) {
	tr := New(nil)
	const workers, touches = 16, 1000

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range touches {
				// Half the keys overlap between workers.
				tr.Touch(model.Key("w", int32(i%50), int32(w%2)), epoch.Add(time.Duration(i)))
			}
		}(w)
	}
	wg.Wait()

	var total uint64
	tr.Range(func(_ model.ChunkKey, s Snapshot) bool {
		total += s.Count
		return true
	})
	assert.Equal(t, uint64(workers*touches), total)
	assert.Equal(t, 100, tr.Len())
	assert.Equal(t, 100, tr.ActiveCount())
}
