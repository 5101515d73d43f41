package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_LoadBeforeStore(t *testing.T) {
	var s Snapshot[map[string]int]
	v, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestSnapshot_ConcurrentSwap(t *testing.T) {
	var s Snapshot[[]int]
	s.Store([]int{0})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.Store([]int{n, n})
		}(i)
		go func() {
			defer wg.Done()
			v, ok := s.Load()
			assert.True(t, ok)
			assert.NotEmpty(t, v)
		}()
	}
	wg.Wait()
}
