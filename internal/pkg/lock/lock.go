package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout 在 ctx 结束前未能获取锁
var ErrLockTimeout = errors.New("lock: acquire timed out")

// Locker 按 key 串行化临界区, 不同 key 互不影响
type Locker interface {
	// Acquire 阻塞直到获得锁或 ctx 结束, 返回的 release 必须被调用且只调用一次
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SessionKey 会话级锁的 key
func SessionKey(sessionID string) string {
	return "upload:session:" + sessionID
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker 进程内按 key 加锁; 空闲的 key 会被回收
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}, nil
}

func (l *KeyedLocker) unref(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size 当前持有或等待中的 key 数量
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
