// internal/services/export_service.go
package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/storage"
	"github.com/Corphon/ClipStudy/internal/text"
)

const (
	exportsDir       = "exports"
	emptyExport      = "# 导出为空"
	markdownMimeType = "text/markdown; charset=utf-8"
	csvMimeType      = "text/csv; charset=utf-8"
)

var csvHeader = []string{"date", "created_at", "original_text", "translated_text", "source_image_path", "tags", "remarks"}

// ExportRequest 导出条件：先按 Keyword/Tag 搜索，再应用 Filter
type ExportRequest struct {
	Format  string
	Keyword string
	Tag     string
	Filter  text.EntryFilter
}

// ExportService Markdown / CSV 导出
type ExportService struct {
	entries *EntryService
	storage *storage.FileStorage
	now     func() time.Time
}

// NewExportService 创建导出服务
func NewExportService(entries *EntryService, fs *storage.FileStorage) *ExportService {
	return &ExportService{entries: entries, storage: fs, now: time.Now}
}

// Select 按导出条件选出条目（日期、时间倒序）
func (s *ExportService) Select(req ExportRequest) []models.Entry {
	base := s.entries.Search(strings.TrimSpace(req.Keyword), strings.TrimSpace(req.Tag))
	return req.Filter.Apply(base)
}

// Export 生成导出内容
func (s *ExportService) Export(req ExportRequest) (*models.ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = models.ExportFormatMarkdown
	}

	entries := s.Select(req)
	now := s.now()
	result := &models.ExportResult{
		Format:      format,
		EntryCount:  len(entries),
		GeneratedAt: now,
		Filename:    fmt.Sprintf("clipstudy-%s.%s", now.Format("20060102-150405"), format),
	}

	switch format {
	case models.ExportFormatMarkdown:
		result.Content = FormatMarkdown(entries)
		result.ContentType = markdownMimeType
	case models.ExportFormatCSV:
		content, err := FormatCSV(entries)
		if err != nil {
			return nil, apperrors.NewProcessingError("生成 CSV 失败", err)
		}
		result.Content = content
		result.ContentType = csvMimeType
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("不支持的导出格式: %s，支持 md/csv", req.Format), nil)
	}
	return result, nil
}

// FormatMarkdown 按日期升序分组渲染，组间空一行
func FormatMarkdown(entries []models.Entry) string {
	if len(entries) == 0 {
		return emptyExport
	}

	// 保持选择结果的组内顺序
	byDate := make(map[string][]models.Entry)
	for _, e := range entries {
		byDate[e.Date] = append(byDate[e.Date], e)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	parts := make([]string, 0, len(dates))
	for _, d := range dates {
		parts = append(parts, RenderDaily(d, byDate[d]))
	}
	return strings.Join(parts, "\n\n")
}

// FormatCSV RFC 4180 CSV，标签以分号连接
func FormatCSV(entries []models.Entry) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, e := range entries {
		record := []string{
			e.Date,
			e.CreatedAt,
			e.OriginalText,
			e.TranslatedText,
			e.ImagePath(),
			strings.Join(e.Tags, ";"),
			e.Remarks,
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SaveToDataDir 写入 exports/ 目录，返回文件路径
func (s *ExportService) SaveToDataDir(result *models.ExportResult) (string, error) {
	if err := s.storage.SaveTextFile(exportsDir, result.Filename, []byte(result.Content)); err != nil {
		return "", apperrors.NewProcessingError("保存导出文件失败", err)
	}
	return s.storage.Path(exportsDir, result.Filename), nil
}
