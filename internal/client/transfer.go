package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"go.uber.org/zap"
)

// ErrCancelled 传输被 Cancel 终止
var ErrCancelled = errors.New("upload cancelled")

// 服务端取消请求的超时
const cancelTimeout = 10 * time.Second

// Progress 每接收一个分片后回调一次
type Progress struct {
	Uploaded int
	Total    int
	Percent  int
}

// Result 合并完成后的文件信息
type Result struct {
	SessionID string
	FileID    string
	FileURL   string
}

type TransferOption func(*Transfer)

// WithSessionID 续传已有会话, 跳过初始化
func WithSessionID(sessionID string) TransferOption {
	return func(t *Transfer) { t.sessionID = sessionID }
}

// OnProgress 设置进度回调, 在 Start 所在的 goroutine 中调用
func OnProgress(fn func(Progress)) TransferOption {
	return func(t *Transfer) { t.onProgress = fn }
}

// Transfer 顺序上传一个文件的缺失分片, 可暂停、继续和取消。
// 暂停和取消在分片之间生效, 不会中断正在发送的分片。
type Transfer struct {
	api        API
	ownerID    string
	fileName   string
	src        io.ReaderAt
	size       int64
	onProgress func(Progress)

	mu        sync.Mutex
	sessionID string
	paused    bool
	cancelled bool
	resumeCh  chan struct{}
	cancelCh  chan struct{}
	remote    sync.WaitGroup
}

func NewTransfer(api API, ownerID, fileName string, src io.ReaderAt, size int64, opts ...TransferOption) *Transfer {
	t := &Transfer{
		api:        api,
		ownerID:    ownerID,
		fileName:   fileName,
		src:        src,
		size:       size,
		onProgress: func(Progress) {},
		cancelCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID 返回当前会话, 初始化前为空
func (t *Transfer) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Start 初始化或续传会话, 上传缺失分片后自动完成合并
func (t *Transfer) Start(ctx context.Context) (*Result, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	sessionID := t.SessionID()
	if sessionID == "" {
		created, err := t.api.Init(ctx, t.ownerID, t.fileName, t.size)
		if err != nil {
			return nil, fmt.Errorf("init upload: %w", err)
		}
		sessionID = created.SessionID
		if t.setSession(sessionID) {
			// Init 期间已被取消
			t.cancelRemote(sessionID)
			return nil, ErrCancelled
		}
	}

	status, err := t.api.Status(ctx, sessionID, t.ownerID)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	if status.Status == models.StatusFinalized {
		return &Result{SessionID: sessionID, FileID: status.FileID, FileURL: status.FileURL}, nil
	}
	if status.FileSize != 0 && status.FileSize != t.size {
		return nil, fmt.Errorf("session %s expects %d bytes, source has %d", sessionID, status.FileSize, t.size)
	}

	uploaded := make(map[int]bool, len(status.UploadedChunkIndices))
	for _, i := range status.UploadedChunkIndices {
		uploaded[i] = true
	}

	buf := make([]byte, status.ChunkSize)
	for i := 0; i < status.TotalChunks; i++ {
		if uploaded[i] {
			continue
		}
		if err := t.wait(ctx); err != nil {
			return nil, err
		}

		chunk, err := t.readChunk(buf, i, status.ChunkSize)
		if err != nil {
			return nil, err
		}
		if _, err := t.api.UploadChunk(ctx, sessionID, t.ownerID, i, chunk); err != nil {
			return nil, fmt.Errorf("upload chunk %d: %w", i, err)
		}
		uploaded[i] = true
		t.onProgress(Progress{
			Uploaded: len(uploaded),
			Total:    status.TotalChunks,
			Percent:  int(math.Round(float64(len(uploaded)) / float64(status.TotalChunks) * 100)),
		})
	}

	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	done, err := t.api.Complete(ctx, sessionID, t.ownerID)
	if err != nil {
		return nil, fmt.Errorf("complete upload: %w", err)
	}
	return &Result{SessionID: done.SessionID, FileID: done.FileID, FileURL: done.FileURL}, nil
}

// Pause 当前分片完成后停止推进
func (t *Transfer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || t.cancelled {
		return
	}
	t.paused = true
	t.resumeCh = make(chan struct{})
}

// Resume 继续被暂停的传输
func (t *Transfer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.paused = false
	close(t.resumeCh)
}

// Cancel 停止推进, 并异步请求服务端删除会话
func (t *Transfer) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	if t.paused {
		t.paused = false
		close(t.resumeCh)
	}
	close(t.cancelCh)
	sessionID := t.sessionID
	t.mu.Unlock()

	if sessionID != "" {
		t.cancelRemote(sessionID)
	}
}

// WaitCancelled 等待已发出的服务端取消请求结束
func (t *Transfer) WaitCancelled() {
	t.remote.Wait()
}

func (t *Transfer) setSession(sessionID string) (cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
	return t.cancelled
}

func (t *Transfer) cancelRemote(sessionID string) {
	t.remote.Add(1)
	go func() {
		defer t.remote.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if err := t.api.Cancel(ctx, sessionID, t.ownerID); err != nil {
			logger.Warn("Transfer: cancel request failed", zap.String("sessionID", sessionID), zap.Error(err))
		}
	}()
}

// wait 暂停时阻塞到继续、取消或 ctx 结束
func (t *Transfer) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return ErrCancelled
		}
		if !t.paused {
			t.mu.Unlock()
			return ctx.Err()
		}
		resume := t.resumeCh
		t.mu.Unlock()

		select {
		case <-resume:
		case <-t.cancelCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transfer) readChunk(buf []byte, index int, chunkSize int64) ([]byte, error) {
	offset := int64(index) * chunkSize
	n := chunkSize
	if remaining := t.size - offset; remaining < n {
		n = remaining
	}
	if n <= 0 {
		return nil, fmt.Errorf("chunk %d is beyond the end of the source", index)
	}
	chunk := buf[:n]
	if read, err := t.src.ReadAt(chunk, offset); read < len(chunk) {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return chunk, nil
}
