// internal/storage/lock.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout 在限定时间内未拿到写锁
var ErrLockTimeout = errors.New("等待数据文件写锁超时")

const lockRetryDelay = 25 * time.Millisecond

// WriteLock 跨进程的数据文件写锁，保证服务与命令行工具不会交错写入 db.json
type WriteLock struct {
	path string
	fl   *flock.Flock
}

// NewWriteLock 创建基于 path 的文件锁
func NewWriteLock(path string) *WriteLock {
	return &WriteLock{path: path, fl: flock.New(path)}
}

// Path 锁文件路径
func (l *WriteLock) Path() string {
	return l.path
}

// Lock 获取排他锁，直到成功或 ctx 结束
func (l *WriteLock) Lock(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
		}
		return fmt.Errorf("获取写锁失败: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
	}
	return nil
}

// Unlock 释放锁
func (l *WriteLock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("释放写锁失败: %w", err)
	}
	return nil
}
