package cache

import (
	"sync"
	"testing"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCacheStoresCopies(t *testing.T) {
	c := NewSessionCache()
	s := &models.UploadSession{ID: "s1", TotalChunks: 3}
	c.Set(s)

	s.AddChunk(0)
	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Empty(t, got.UploadedChunks)

	got.AddChunk(1)
	again, _ := c.Get("s1")
	assert.Empty(t, again.UploadedChunks)

	c.Set(nil)
	assert.Equal(t, 1, c.Len())

	c.Del("s1", "missing")
	_, ok = c.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSessionCacheConcurrentAccess(t *testing.T) {
	c := NewSessionCache()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &models.UploadSession{ID: "s", TotalChunks: 20}
			s.AddChunk(i)
			c.Set(s)
			if got, ok := c.Get("s"); ok {
				got.AddChunk(i + 100)
			}
		}(i)
	}
	wg.Wait()
	got, ok := c.Get("s")
	require.True(t, ok)
	assert.Len(t, got.UploadedChunks, 1)
}
