package vectorstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PromaChow/lance/index"
)

func TestSetGet(t *testing.T) {
	s := New(3)
	require.Equal(t, 3, s.Dimension())

	require.NoError(t, s.Set(7, []float32{1, 2, 3}))
	require.NoError(t, s.Set(1, []float32{4, 5, 6}))
	assert.Equal(t, 2, s.Count())

	vec, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	_, ok = s.Get(99)
	assert.False(t, ok)
}

func TestSetDuplicateID(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Set(1, []float32{1, 2}))
	assert.Error(t, s.Set(1, []float32{3, 4}))
	assert.Equal(t, 1, s.Count())
}

func TestSetDimensionMismatch(t *testing.T) {
	s := New(4)
	err := s.Set(1, []float32{1, 2})
	var dims *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &dims)
}

func TestSnapshotStableAcrossAppends(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Set(10, []float32{1, 1}))
	ids, data := s.Snapshot()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Set(uint64(100+i), []float32{float32(i), 0}))
	}

	require.Len(t, ids, 1)
	assert.Equal(t, uint64(10), ids[0])
	assert.Equal(t, []float32{1, 1}, data)
}

func TestAllInsertionOrder(t *testing.T) {
	s := New(1)
	want := []uint64{5, 3, 9}
	for i, id := range want {
		require.NoError(t, s.Set(id, []float32{float32(i)}))
	}

	var got []uint64
	for id, vec := range s.All() {
		got = append(got, id)
		assert.Len(t, vec, 1)
	}
	assert.Equal(t, want, got)
}

func TestConcurrentReadersSingleWriter(t *testing.T) {
	s := New(4)
	require.NoError(t, s.Set(0, []float32{0, 0, 0, 0}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if vec, ok := s.Get(0); ok {
					_ = vec[3]
				}
				s.Count()
			}
		}()
	}

	for i := 1; i <= 500; i++ {
		require.NoError(t, s.Set(uint64(i), []float32{1, 2, 3, 4}))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 501, s.Count())
}
