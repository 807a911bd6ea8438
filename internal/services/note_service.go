// internal/services/note_service.go
package services

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/storage"
)

const notesDir = "notes"

// NoteService 把每天的条目镜像为 notes/<date>.md
type NoteService struct {
	storage *storage.FileStorage
}

// NewNoteService 创建笔记镜像服务
func NewNoteService(fs *storage.FileStorage) *NoteService {
	return &NoteService{storage: fs}
}

// RenderDaily 渲染一天的 Markdown，entries 需已按时间排序
func RenderDaily(date string, entries []models.Entry) string {
	lines := []string{"# " + date, ""}

	indent := func(s string) {
		for _, ln := range strings.Split(s, "\n") {
			lines = append(lines, "  "+ln)
		}
	}

	for _, e := range entries {
		head := "- " + e.CreatedAt
		if e.HasImage() {
			head += "  来源: " + e.ImagePath()
		}
		lines = append(lines, head, "", "  原文：")
		indent(e.OriginalText)
		lines = append(lines, "", "  译文：")
		indent(e.TranslatedText)

		if e.Remarks != "" {
			lines = append(lines, "", "  备注：")
			indent(e.Remarks)
		}
		if len(e.Tags) > 0 {
			lines = append(lines, "", "  标签： "+strings.Join(e.Tags, ", "))
		}
		if len(e.Tokens) > 0 {
			lines = append(lines, "", "  词汇： "+strings.Join(e.Tokens, ", "))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// WriteDaily 原子写入 notes/<date>.md，返回文件路径
func (s *NoteService) WriteDaily(date, md string) (string, error) {
	if !models.ValidDate(date) {
		return "", apperrors.NewValidationError(fmt.Sprintf("无效日期: %q", date), nil)
	}
	filename := date + ".md"
	if err := s.storage.SaveTextFile(notesDir, filename, []byte(md)); err != nil {
		return "", apperrors.NewProcessingError("写入笔记失败", err)
	}
	return s.storage.Path(notesDir, filename), nil
}

// Mirror 渲染并写入某一天
func (s *NoteService) Mirror(date string, entries []models.Entry) (string, error) {
	return s.WriteDaily(date, RenderDaily(date, entries))
}

// Load 读取某一天的 Markdown
func (s *NoteService) Load(date string) (string, error) {
	if !models.ValidDate(date) {
		return "", apperrors.NewValidationError(fmt.Sprintf("无效日期: %q", date), nil)
	}
	data, err := s.storage.LoadTextFile(notesDir, date+".md")
	if err != nil {
		return "", apperrors.NewNotFoundError("笔记不存在", err)
	}
	return string(data), nil
}

// RebuildAll 按日期分组重写全部笔记并删除已没有条目的日期，返回写入的天数
func (s *NoteService) RebuildAll(entries []models.Entry) (int, error) {
	byDate := GroupByDate(entries)
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	written := 0
	for _, d := range dates {
		if !models.ValidDate(d) {
			continue
		}
		if _, err := s.Mirror(d, byDate[d]); err != nil {
			return written, err
		}
		written++
	}
	return written, s.pruneStale(byDate)
}

// pruneStale 删除 notes/ 下没有对应条目的 <date>.md
func (s *NoteService) pruneStale(byDate map[string][]models.Entry) error {
	files, err := s.storage.ListFiles(notesDir)
	if err != nil {
		return apperrors.NewProcessingError("读取笔记目录失败", err)
	}
	for _, f := range files {
		date, ok := strings.CutSuffix(f, ".md")
		if !ok || !models.ValidDate(date) {
			continue
		}
		if _, keep := byDate[date]; keep {
			continue
		}
		if err := s.storage.DeleteFile(notesDir, f); err != nil {
			return apperrors.NewProcessingError("删除过期笔记失败", err)
		}
	}
	return nil
}

// GroupByDate 按日期分组，组内按 created_at、id 升序
func GroupByDate(entries []models.Entry) map[string][]models.Entry {
	out := make(map[string][]models.Entry)
	for _, e := range entries {
		out[e.Date] = append(out[e.Date], e)
	}
	for _, list := range out {
		SortByTime(list)
	}
	return out
}

// SortByTime created_at 升序，相同则 id 升序
func SortByTime(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
}

// SortNewestFirst date 降序，相同则 created_at 降序
func SortNewestFirst(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date > entries[j].Date
		}
		return entries[i].CreatedAt > entries[j].CreatedAt
	})
}
