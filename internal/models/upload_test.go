package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalChunksFor(t *testing.T) {
	assert.Equal(t, 3, TotalChunksFor(12_000_000, 5_000_000))
	assert.Equal(t, 2, TotalChunksFor(10_000_000, 5_000_000))
	assert.Equal(t, 1, TotalChunksFor(1, 5_000_000))
	assert.Equal(t, 0, TotalChunksFor(0, 5_000_000))
	assert.Equal(t, 0, TotalChunksFor(-1, 5_000_000))
}

func TestExpectedChunkSize(t *testing.T) {
	s := &UploadSession{FileSize: 12_000_000, ChunkSize: 5_000_000, TotalChunks: 3}
	assert.Equal(t, int64(5_000_000), s.ExpectedChunkSize(0))
	assert.Equal(t, int64(5_000_000), s.ExpectedChunkSize(1))
	assert.Equal(t, int64(2_000_000), s.ExpectedChunkSize(2))
	assert.Equal(t, int64(0), s.ExpectedChunkSize(3))
}

func TestChunkSet(t *testing.T) {
	s := &UploadSession{TotalChunks: 3}

	assert.True(t, s.AddChunk(2))
	assert.True(t, s.AddChunk(0))
	assert.False(t, s.AddChunk(2))
	assert.Equal(t, []int{0, 2}, s.UploadedChunks)
	assert.Equal(t, 2, s.UploadedCount)
	assert.False(t, s.IsComplete())

	assert.True(t, s.AddChunk(1))
	assert.True(t, s.IsComplete())
	assert.True(t, s.HasChunk(1))

	s.RemoveChunks(1, 7)
	assert.Equal(t, []int{0, 2}, s.UploadedChunks)
	assert.Equal(t, 2, s.UploadedCount)
	assert.False(t, s.HasChunk(1))
}

func TestClone(t *testing.T) {
	id := "file"
	s := &UploadSession{ID: "a", UploadedChunks: []int{0}, FinalFileID: &id}
	c := s.Clone()
	c.AddChunk(1)
	*c.FinalFileID = "other"

	assert.Equal(t, []int{0}, s.UploadedChunks)
	assert.Equal(t, "file", *s.FinalFileID)
}
