package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/storage"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadOutOfOrderAndComplete(t *testing.T) {
	env := newTestEnv(t, 5_000_000)
	ctx := context.Background()
	data := fileData(12_000_000)

	sess, err := env.mgr.InitUpload(ctx, "alice", "archive.bin", int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TotalChunks)
	assert.Equal(t, int64(5_000_000), sess.ChunkSize)

	resp := env.upload(t, env.mgr, sess.SessionID, "alice", data, 1)
	assert.False(t, resp.Completed)
	assert.Equal(t, 1, resp.UploadedChunks)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 0)
	resp = env.upload(t, env.mgr, sess.SessionID, "alice", data, 2)
	assert.True(t, resp.Accepted)
	assert.True(t, resp.Completed)
	assert.Equal(t, 3, resp.UploadedChunks)
	assert.Equal(t, 3, resp.TotalChunks)

	status, err := env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, []int{0, 1, 2}, status.UploadedChunkIndices)

	done, err := env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.FinalBlobName(sess.SessionID, "archive.bin"), done.FileID)
	assert.NotEmpty(t, done.FileURL)

	merged := env.readBlob(t, finalBucket, done.FileID)
	require.Len(t, merged, 12_000_000)
	assert.True(t, bytes.Equal(data, merged))
	assert.Equal(t, 0, env.chunkCount(t, sess.SessionID))

	status, err = env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinalized, status.Status)
	assert.Equal(t, done.FileID, status.FileID)
	assert.Equal(t, done.FileURL, status.FileURL)

	require.Len(t, env.hook.finalized, 1)
	assert.Equal(t, models.StatusFinalized, env.hook.finalized[0].Status)
	assert.Equal(t, int64(12_000_000), env.hook.results[0].Size)
}

func TestNumericChunkOrdering(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()
	data := []byte("0000111122223333444455556666777788889999AAAABBBBCC")

	sess, err := env.mgr.InitUpload(ctx, "alice", "digits.txt", int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, 13, sess.TotalChunks)

	for i := sess.TotalChunks - 1; i >= 0; i-- {
		env.upload(t, env.mgr, sess.SessionID, "alice", data, i)
	}
	done, err := env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, string(data), string(env.readBlob(t, finalBucket, done.FileID)))
}

func TestInitUploadValidation(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	_, err := env.mgr.InitUpload(ctx, "alice", "a.txt", 0)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
	_, err = env.mgr.InitUpload(ctx, "alice", "a.txt", -5)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
	_, err = env.mgr.InitUpload(ctx, "", "a.txt", 5)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
	_, err = env.mgr.InitUpload(ctx, "alice", "  ", 5)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
	_, err = env.mgr.InitUpload(ctx, "alice", "..", 5)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)

	env.cfg.Upload.MaxFileSize = 100
	limited := NewSessionManager(env.cfg, env.deps)
	_, err = limited.InitUpload(ctx, "alice", "a.txt", 101)
	assert.ErrorIs(t, err, xerr.ErrFileTooLarge)

	sess, err := env.mgr.InitUpload(ctx, "alice", `..\..\windows\evil.txt`, 25)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TotalChunks)
	stored, err := env.repo.FindByID(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "evil.txt", stored.FileName)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

func TestUploadChunkRejectsBeforeWriting(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)

	_, err = env.mgr.UploadChunk(ctx, "missing", "alice", 0, strings.NewReader("0123456789"), 10)
	assert.ErrorIs(t, err, xerr.ErrNotFound)

	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "mallory", 0, strings.NewReader("0123456789"), 10)
	assert.ErrorIs(t, err, xerr.ErrUnauthorized)

	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "alice", 3, strings.NewReader("01234"), 5)
	assert.ErrorIs(t, err, xerr.ErrChunkIndexOutOfRange)
	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "alice", -1, strings.NewReader("0123456789"), 10)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)

	// 最后一个分片必须是余数长度
	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "alice", 2, strings.NewReader("0123456789"), 10)
	assert.ErrorIs(t, err, xerr.ErrChunkSizeMismatch)
	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "alice", 0, strings.NewReader("012"), 3)
	assert.ErrorIs(t, err, xerr.ErrChunkSizeMismatch)

	assert.Equal(t, 0, env.chunkCount(t, sess.SessionID))
	status, err := env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, status.UploadedChunks)
	assert.Equal(t, []int{}, status.UploadedChunkIndices)
}

func TestDuplicateChunkIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(25)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)

	first := env.upload(t, env.mgr, sess.SessionID, "alice", data, 1)
	second := env.upload(t, env.mgr, sess.SessionID, "alice", data, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.UploadedChunks)
	assert.Equal(t, 1, env.chunkCount(t, sess.SessionID))
}

func TestCompletePreconditions(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(25)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)

	env.upload(t, env.mgr, sess.SessionID, "alice", data, 0)
	_, err = env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	assert.ErrorIs(t, err, xerr.ErrUploadIncomplete)
	assert.ErrorIs(t, err, xerr.ErrFailedPrecondition)

	env.upload(t, env.mgr, sess.SessionID, "alice", data, 1)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 2)

	_, err = env.mgr.CompleteUpload(ctx, sess.SessionID, "bob")
	assert.ErrorIs(t, err, xerr.ErrUnauthorized)
	_, err = env.mgr.CompleteUpload(ctx, "missing", "alice")
	assert.ErrorIs(t, err, xerr.ErrNotFound)

	_, err = env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	require.NoError(t, err)

	_, err = env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	assert.ErrorIs(t, err, xerr.ErrUploadFinalized)
	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "alice", 0, bytes.NewReader(data[:10]), 10)
	assert.ErrorIs(t, err, xerr.ErrFailedPrecondition)
	assert.ErrorIs(t, env.mgr.CancelUpload(ctx, sess.SessionID, "alice"), xerr.ErrFailedPrecondition)
	assert.Equal(t, 0, env.chunkCount(t, sess.SessionID))
	assert.Len(t, env.hook.finalized, 1)
}

func TestCompleteRevertsMissingChunks(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(25)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		env.upload(t, env.mgr, sess.SessionID, "alice", data, i)
	}

	require.NoError(t, env.store.DeleteBlob(ctx, chunkBucket, storage.ChunkBlobName(sess.SessionID, 1)))

	_, err = env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	require.ErrorIs(t, err, xerr.ErrDataCorruption)
	var corruption *CorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, []int{1}, corruption.Missing)

	status, err := env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status.Status)
	assert.Equal(t, []int{0, 2}, status.UploadedChunkIndices)

	resp := env.upload(t, env.mgr, sess.SessionID, "alice", data, 1)
	assert.True(t, resp.Completed)
	done, err := env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, data, env.readBlob(t, finalBucket, done.FileID))
	assert.Len(t, env.hook.finalized, 1)
}

func TestContentTypeDetection(t *testing.T) {
	env := newTestEnv(t, 64)
	ctx := context.Background()

	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 20)...)
	cases := []struct {
		name string
		want string
	}{
		{"picture.png", "image/png"},
		{"no-extension", "image/png"},
	}
	for _, tc := range cases {
		sess, err := env.mgr.InitUpload(ctx, "alice", tc.name, int64(len(png)))
		require.NoError(t, err)
		env.upload(t, env.mgr, sess.SessionID, "alice", png, 0)
		done, err := env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
		require.NoError(t, err)
		ct, ok := env.store.ContentType(finalBucket, done.FileID)
		require.True(t, ok)
		assert.Equal(t, tc.want, ct, tc.name)
	}
}

func TestConcurrentChunkUploads(t *testing.T) {
	env := newTestEnv(t, 8)
	ctx := context.Background()
	data := fileData(8 * 24)
	sess, err := env.mgr.InitUpload(ctx, "alice", "parallel.bin", int64(len(data)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, sess.TotalChunks)
	for i := 0; i < sess.TotalChunks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk := chunkOf(data, 8, i)
			_, err := env.mgr.UploadChunk(ctx, sess.SessionID, "alice", i, bytes.NewReader(chunk), int64(len(chunk)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := env.repo.FindByID(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.TotalChunks, stored.UploadedCount)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	done, err := env.mgr.CompleteUpload(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, data, env.readBlob(t, finalBucket, done.FileID))
}

func TestCacheLossKeepsProgress(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(30)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 30)
	require.NoError(t, err)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 2)

	// 新的管理器拥有空缓存, 模拟进程重启
	deps := env.deps
	deps.Cache = nil
	restarted := NewSessionManager(env.cfg, deps)

	status, err := restarted.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, status.UploadedChunkIndices)

	env.upload(t, restarted, sess.SessionID, "alice", data, 0)
	resp := env.upload(t, restarted, sess.SessionID, "alice", data, 1)
	assert.True(t, resp.Completed)

	done, err := restarted.CompleteUpload(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, data, env.readBlob(t, finalBucket, done.FileID))
}

func TestStaleCacheUsesDurableState(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(20)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 20)
	require.NoError(t, err)

	// 两个实例各自缓存同一会话
	other := NewSessionManager(env.cfg, Deps{Repo: env.repo, Store: env.store, Locker: env.deps.Locker, Now: env.clock.Now})
	_, err = other.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 0)
	resp := env.upload(t, other, sess.SessionID, "alice", data, 1)
	assert.Equal(t, 2, resp.UploadedChunks)
	assert.True(t, resp.Completed)
}

func TestCancelUpload(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(25)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 0)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 2)

	assert.ErrorIs(t, env.mgr.CancelUpload(ctx, sess.SessionID, "mallory"), xerr.ErrUnauthorized)

	require.NoError(t, env.mgr.CancelUpload(ctx, sess.SessionID, "alice"))
	assert.Equal(t, 0, env.chunkCount(t, sess.SessionID))
	_, err = env.repo.FindByID(ctx, sess.SessionID)
	assert.ErrorIs(t, err, xerr.ErrNotFound)
	_, err = env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	assert.ErrorIs(t, err, xerr.ErrNotFound)

	require.NoError(t, env.mgr.CancelUpload(ctx, sess.SessionID, "alice"))
	require.NoError(t, env.mgr.CancelUpload(ctx, "never-existed", "alice"))
}

func TestChunkAfterCancelIsRemoved(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(25)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)
	env.upload(t, env.mgr, sess.SessionID, "alice", data, 0)

	// 另一个实例取消了会话, 本实例缓存中仍然存在
	require.NoError(t, env.repo.Delete(ctx, sess.SessionID))

	_, err = env.mgr.UploadChunk(ctx, sess.SessionID, "alice", 1, bytes.NewReader(chunkOf(data, 10, 1)), 10)
	assert.ErrorIs(t, err, xerr.ErrNotFound)
	_, err = env.store.GetBlob(ctx, chunkBucket, storage.ChunkBlobName(sess.SessionID, 1))
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)

	_, err = env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	assert.ErrorIs(t, err, xerr.ErrNotFound)
}

func TestGetStatusOwnerCheck(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 5)
	require.NoError(t, err)

	_, err = env.mgr.GetStatus(ctx, sess.SessionID, "bob")
	assert.ErrorIs(t, err, xerr.ErrUnauthorized)
	_, err = env.mgr.GetStatus(ctx, fmt.Sprintf("%s-x", sess.SessionID), "alice")
	assert.ErrorIs(t, err, xerr.ErrNotFound)
}

func TestChunkAfterCompletionStaysComplete(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	data := fileData(25)
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		env.upload(t, env.mgr, sess.SessionID, "alice", data, i)
	}
	for _, i := range []int{0, 2} {
		resp := env.upload(t, env.mgr, sess.SessionID, "alice", data, i)
		assert.True(t, resp.Completed)
		assert.Equal(t, 3, resp.UploadedChunks)
		assert.Equal(t, 3, resp.TotalChunks)
	}

	status, err := env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, []int{0, 1, 2}, status.UploadedChunkIndices)
}

func TestColdLoadDoesNotRestoreReapedSession(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	sess, err := env.mgr.InitUpload(ctx, "alice", "a.bin", 25)
	require.NoError(t, err)
	env.mgr.Evict(sess.SessionID)
	env.clock.Advance(25 * time.Hour)

	repo := &hookedRepo{SessionRepository: env.repo}
	deps := env.deps
	deps.Repo = repo
	mgr := NewSessionManager(env.cfg, deps)
	reaper := NewReaper(env.cfg, env.deps, mgr)

	repo.pauseNextFind(false)
	statusDone := make(chan error, 1)
	go func() {
		_, err := mgr.GetStatus(ctx, sess.SessionID, "alice")
		statusDone <- err
	}()
	<-repo.findPaused

	sweepDone := make(chan SweepSummary, 1)
	go func() {
		summary, _ := reaper.Sweep(ctx)
		sweepDone <- summary
	}()
	// 清理在回填缓存期间等待会话锁
	select {
	case <-sweepDone:
		t.Fatal("sweep finished while the session was being loaded")
	case <-time.After(100 * time.Millisecond):
	}
	close(repo.resumeFind)

	require.NoError(t, <-statusDone)
	assert.Equal(t, 1, (<-sweepDone).Reaped)

	_, err = mgr.GetStatus(ctx, sess.SessionID, "alice")
	assert.ErrorIs(t, err, xerr.ErrNotFound)
	_, err = env.mgr.GetStatus(ctx, sess.SessionID, "alice")
	assert.ErrorIs(t, err, xerr.ErrNotFound)
}

func TestLoadIgnoresFirstCallerCancel(t *testing.T) {
	env := newTestEnv(t, 10)
	sess, err := env.mgr.InitUpload(context.Background(), "alice", "a.bin", 25)
	require.NoError(t, err)
	env.mgr.Evict(sess.SessionID)

	repo := &hookedRepo{SessionRepository: env.repo}
	deps := env.deps
	deps.Repo = repo
	mgr := NewSessionManager(env.cfg, deps)

	repo.pauseNextFind(true)
	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := mgr.GetStatus(firstCtx, sess.SessionID, "alice")
		firstDone <- err
	}()
	<-repo.findPaused

	secondDone := make(chan error, 1)
	go func() {
		_, err := mgr.GetStatus(context.Background(), sess.SessionID, "alice")
		secondDone <- err
	}()
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(repo.resumeFind)

	assert.NoError(t, <-firstDone)
	assert.NoError(t, <-secondDone)
}
