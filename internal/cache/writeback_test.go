package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stone-miner/internal/domain"
)

func TestReadYourWrite(t *testing.T) {
	c := NewWriteBack()
	_, ok := c.Get("p1")
	assert.False(t, ok)

	c.Upsert("p1", domain.Snapshot{Stones: 10, Version: 1})
	s, ok := c.Get("p1")
	require.True(t, ok)
	assert.Equal(t, int64(10), s.Stones)

	c.Upsert("p1", domain.Snapshot{Stones: 20, Version: 2})
	s, _ = c.Get("p1")
	assert.Equal(t, int64(20), s.Stones)

	c.Remove("p1")
	_, ok = c.Get("p1")
	assert.False(t, ok)
}

func TestAllReturnsCopy(t *testing.T) {
	c := NewWriteBack()
	c.Upsert("a", domain.Snapshot{Stones: 1})
	c.Upsert("b", domain.Snapshot{Stones: 2})

	all := c.All()
	assert.Len(t, all, 2)
	delete(all, "a")
	assert.Equal(t, 2, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := NewWriteBack()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i%10)
			c.Upsert(id, domain.Snapshot{Stones: int64(i)})
			c.Get(id)
			c.All()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}
