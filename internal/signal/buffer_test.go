package signal

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, capacity := range []int{1, 3, 16, 100} {
		b := NewBuffer(capacity)
		ts := 0.0
		for i := 0; i < capacity*5; i++ {
			ts += r.Float64() * 0.2
			b.Append(ts, i)
			require.LessOrEqual(t, b.Len(), capacity)
		}

		snap := b.Snapshot()
		require.Len(t, snap, capacity)
		for i := 1; i < len(snap); i++ {
			assert.LessOrEqual(t, snap[i-1].Time, snap[i].Time)
			assert.Less(t, snap[i-1].Seq, snap[i].Seq)
		}
		// the oldest samples were evicted
		assert.Equal(t, capacity*5-1, snap[len(snap)-1].Value)
		assert.Equal(t, capacity*4, snap[0].Value)
	}
}

func TestBuffer_ClampsOutOfOrderTimestamps(t *testing.T) {
	b := NewBuffer(10)
	b.Append(1.0, 1)
	s := b.Append(0.5, 2)

	assert.Equal(t, 1.0, s.Time)
	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 1.0, snap[1].Time)
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultCapacity, b.Cap())
}

func TestBuffer_Since(t *testing.T) {
	b := NewBuffer(4)
	var seqs []uint64
	for i := range 6 {
		seqs = append(seqs, b.Append(float64(i), i).Seq)
	}

	got := b.Since(seqs[3])
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Value)
	assert.Equal(t, 5, got[1].Value)

	assert.Empty(t, b.Since(seqs[5]))
	// older than anything retained returns everything retained
	assert.Len(t, b.Since(0), 4)
}

func TestBuffer_Window(t *testing.T) {
	b := NewBuffer(100)
	assert.Nil(t, b.Window(3))

	for i := range 50 {
		b.Append(float64(i)*0.1, i)
	}
	w := b.Window(1.0)
	require.NotEmpty(t, w)
	assert.Equal(t, 49, w[len(w)-1].Value)
	assert.GreaterOrEqual(t, w[0].Time, 4.9-1.0-1e-9)
}

func TestBuffer_ResetInvalidatesOldGeneration(t *testing.T) {
	b := NewBuffer(10)
	gen := b.Generation()
	_, ok := b.AppendGen(gen, 0.1, 500)
	require.True(t, ok)

	b.Reset()
	assert.Equal(t, 0, b.Len())

	_, ok = b.AppendGen(gen, 0.2, 501)
	assert.False(t, ok, "stale writer must not store")
	assert.Equal(t, 0, b.Len())

	_, ok = b.AppendGen(b.Generation(), 0.2, 502)
	assert.True(t, ok)
}

func TestBuffer_ConcurrentWriterAndReader(t *testing.T) {
	b := NewBuffer(64)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 2000 {
			b.Append(float64(i)*0.01, i)
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			snap := b.Snapshot()
			for i := 1; i < len(snap); i++ {
				if snap[i].Time < snap[i-1].Time {
					t.Errorf("snapshot out of order at %d", i)
					return
				}
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 64, b.Len())
}
