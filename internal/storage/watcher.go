// internal/storage/watcher.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Corphon/ClipStudy/internal/utils"
)

// Watcher 监听数据文件被外部进程修改（手工编辑、命令行迁移等），
// 失效缓存并回调 onChange；本进程自己的写入会被忽略
type Watcher struct {
	storage  *FileStorage
	watcher  *fsnotify.Watcher
	target   string
	onChange func(path string)
}

// NewWatcher 监听 storage 数据目录下 dirPath/filename
// 监听的是所在目录：原子写入会替换 inode，直接监听文件会在第一次 rename 后失效
func NewWatcher(fs *FileStorage, dirPath, filename string, onChange func(path string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}

	target := filepath.Clean(fs.Path(dirPath, filename))
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return nil, fmt.Errorf("监听目录失败: %w", err)
	}

	return &Watcher{
		storage:  fs,
		watcher:  w,
		target:   target,
		onChange: onChange,
	}, nil
}

// Run 处理事件直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	logger := utils.GetLogger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("数据文件监听错误", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	content, err := os.ReadFile(w.target)
	if err != nil {
		// rename 过程中文件可能暂时不存在
		return
	}
	if w.storage.IsOwnWrite(w.target, content) {
		return
	}

	w.storage.Invalidate(w.target)
	utils.GetLogger().Info("检测到数据文件外部修改", map[string]interface{}{
		"path": w.target,
		"op":   event.Op.String(),
	})
	if w.onChange != nil {
		w.onChange(w.target)
	}
}
