// internal/services/media_service.go
package services

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/storage"
)

const (
	mediaDir         = "media"
	defaultImageExt  = ".png"
	publicDataPrefix = "data"
)

var allowedImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// MediaService 保存上传的来源截图
type MediaService struct {
	storage  *storage.FileStorage
	maxBytes int64
	now      func() time.Time
}

// NewMediaService maxUploadMB 为单个文件的大小上限
func NewMediaService(fs *storage.FileStorage, maxUploadMB int) *MediaService {
	return &MediaService{
		storage:  fs,
		maxBytes: int64(maxUploadMB) << 20,
		now:      time.Now,
	}
}

// MaxBytes 单个文件的大小上限
func (s *MediaService) MaxBytes() int64 {
	return s.maxBytes
}

// SaveUpload 保存到 media/<今天>/<HHmmss>-<uuid><ext>，返回 data/ 开头的相对路径
func (s *MediaService) SaveUpload(originalName string, r io.Reader) (*models.UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = defaultImageExt
	}
	if !allowedImageExts[ext] {
		return nil, apperrors.NewValidationError(fmt.Sprintf("不支持的图片类型: %s", ext), nil)
	}

	// 多读一个字节用于判断是否超限
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewProcessingError("读取上传文件失败", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperrors.NewValidationError(fmt.Sprintf("文件超过 %d MB 限制", s.maxBytes>>20), nil).WithCode("file_too_large")
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("文件为空", nil)
	}

	now := s.now()
	date := now.Format(models.DateLayout)
	name := fmt.Sprintf("%s-%s%s", now.Format("150405"), uuid.NewString(), ext)
	dir := path.Join(mediaDir, date)

	if err := s.storage.SaveBlobFile(dir, name, data); err != nil {
		return nil, apperrors.NewProcessingError("保存上传文件失败", err)
	}

	return &models.UploadResult{
		Path: path.Join(publicDataPrefix, mediaDir, date, name),
		Date: date,
	}, nil
}
