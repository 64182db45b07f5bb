package upload

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/storage"
	"github.com/3Eeeecho/go-chunkupload/internal/repositories"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	chunkBucket = "upload-chunks"
	finalBucket = "uploads"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingHook struct {
	mu        sync.Mutex
	finalized []*models.UploadSession
	results   []*MergeResult
}

func (h *recordingHook) OnFinalized(ctx context.Context, session *models.UploadSession, result *MergeResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized = append(h.finalized, session)
	h.results = append(h.results, result)
}

// hookedRepo 在持久化调用上注入暂停和故障
type hookedRepo struct {
	repositories.SessionRepository

	mu         sync.Mutex
	pauseFind  bool
	pauseFirst bool
	findPaused chan struct{}
	resumeFind chan struct{}
	failDelete map[string]error
}

func (r *hookedRepo) FindByID(ctx context.Context, id string) (*models.UploadSession, error) {
	r.mu.Lock()
	pause, first := r.pauseFind, r.pauseFirst
	r.pauseFind = false
	r.mu.Unlock()

	if pause && first {
		close(r.findPaused)
		<-r.resumeFind
	}
	session, err := r.SessionRepository.FindByID(ctx, id)
	if pause && !first {
		close(r.findPaused)
		<-r.resumeFind
	}
	return session, err
}

func (r *hookedRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	err := r.failDelete[id]
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.SessionRepository.Delete(ctx, id)
}

// pauseNextFind 让下一次 FindByID 暂停直到 resumeFind 关闭; beforeRead 决定暂停在读取前还是读取后
func (r *hookedRepo) pauseNextFind(beforeRead bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseFind = true
	r.pauseFirst = beforeRead
	r.findPaused = make(chan struct{})
	r.resumeFind = make(chan struct{})
}

type testEnv struct {
	cfg   *config.Config
	repo  repositories.SessionRepository
	store *storage.MemoryBlobStore
	clock *fakeClock
	hook  *recordingHook
	deps  Deps
	mgr   SessionManager
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.UploadSession{}))
	return db
}

func newTestEnv(t *testing.T, chunkSize int64) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{Type: "memory", ChunkBucket: chunkBucket, FinalBucket: finalBucket},
		Upload: config.UploadConfig{
			ChunkSize:    chunkSize,
			Retention:    24 * time.Hour,
			ReapInterval: time.Hour,
		},
	}
	clock := newFakeClock()
	store := storage.NewMemoryBlobStore()
	store.SetClock(clock.Now)
	hook := &recordingHook{}
	env := &testEnv{
		cfg:   cfg,
		repo:  repositories.NewDBSessionRepository(newTestDB(t)),
		store: store,
		clock: clock,
		hook:  hook,
	}
	env.deps = Deps{Repo: env.repo, Store: store, Hook: hook, Now: clock.Now}
	env.deps.withDefaults()
	env.mgr = NewSessionManager(cfg, env.deps)
	return env
}

// fileData 生成可辨认的测试内容
func fileData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 256)
	}
	return data
}

func chunkOf(data []byte, chunkSize int64, index int) []byte {
	start := int64(index) * chunkSize
	end := start + chunkSize
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[start:end]
}

func (e *testEnv) upload(t *testing.T, mgr SessionManager, sessionID, owner string, data []byte, index int) *models.UploadChunkResponse {
	t.Helper()
	chunk := chunkOf(data, e.cfg.Upload.ChunkSize, index)
	resp, err := mgr.UploadChunk(context.Background(), sessionID, owner, index, bytes.NewReader(chunk), int64(len(chunk)))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) chunkCount(t *testing.T, sessionID string) int {
	t.Helper()
	blobs, err := e.store.ListBlobs(context.Background(), chunkBucket, storage.ChunkBlobPrefix(sessionID))
	require.NoError(t, err)
	return len(blobs)
}

func (e *testEnv) readBlob(t *testing.T, bucket, id string) []byte {
	t.Helper()
	rc, err := e.store.GetBlob(context.Background(), bucket, id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}
