// internal/models/export.go
package models

import "time"

const (
	ExportFormatMarkdown = "md"
	ExportFormatCSV      = "csv"
)

// ExportResult 导出结果
type ExportResult struct {
	Format      string    `json:"format"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	Filename    string    `json:"filename"`
	EntryCount  int       `json:"entry_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// UploadResult 截图上传结果
type UploadResult struct {
	Path string `json:"path"`
	Date string `json:"date"`
}
