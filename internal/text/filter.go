// internal/text/filter.go
package text

import (
	"strings"

	"github.com/Corphon/ClipStudy/internal/models"
	"golang.org/x/text/cases"
)

// MatchMode 多值条件的组合方式
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// ParseMatchMode 解析 any/all，无法识别时返回 def
func ParseMatchMode(s string, def MatchMode) MatchMode {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case MatchAny:
		return MatchAny
	case MatchAll:
		return MatchAll
	default:
		return def
	}
}

// EntryFilter 条目高级筛选条件，零值表示不过滤
type EntryFilter struct {
	Date        string
	Start       string
	End         string
	Tags        []string
	TagsMode    MatchMode
	Keywords    string
	KeywordMode MatchMode
	HasRemarks  bool
	HasImage    bool
}

// IsZero 是否没有任何条件
func (f EntryFilter) IsZero() bool {
	return f.Date == "" && (f.Start == "" || f.End == "") && len(f.Tags) == 0 &&
		strings.TrimSpace(f.Keywords) == "" && !f.HasRemarks && !f.HasImage
}

// Apply 依次应用各项条件，保持输入顺序
func (f EntryFilter) Apply(entries []models.Entry) []models.Entry {
	keywords := splitKeywords(f.Keywords)
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Date != "" && e.Date != f.Date {
			continue
		}
		// 日期区间需要起止同时给出
		if f.Start != "" && f.End != "" && (e.Date < f.Start || e.Date > f.End) {
			continue
		}
		if len(f.Tags) > 0 && !matchTags(e.Tags, f.Tags, f.TagsMode) {
			continue
		}
		if len(keywords) > 0 && !matchKeywords(haystack(e), keywords, f.KeywordMode) {
			continue
		}
		if f.HasRemarks && !e.HasRemarks() {
			continue
		}
		if f.HasImage && !e.HasImage() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Fold 大小写折叠，用于不区分大小写的包含匹配
func Fold(s string) string {
	return cases.Fold().String(s)
}

// ContainsFold 不区分大小写的子串匹配
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

func splitKeywords(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, Fold(f))
	}
	return out
}

func haystack(e models.Entry) string {
	parts := []string{e.OriginalText, e.TranslatedText, e.Remarks, strings.Join(e.Tokens, " ")}
	return Fold(strings.Join(parts, " "))
}

func matchKeywords(hay string, keywords []string, mode MatchMode) bool {
	if mode == MatchAll {
		for _, k := range keywords {
			if !strings.Contains(hay, k) {
				return false
			}
		}
		return true
	}
	for _, k := range keywords {
		if strings.Contains(hay, k) {
			return true
		}
	}
	return false
}

func matchTags(entryTags, want []string, mode MatchMode) bool {
	set := make(map[string]struct{}, len(entryTags))
	for _, t := range entryTags {
		set[t] = struct{}{}
	}
	if mode == MatchAll {
		for _, t := range want {
			if _, ok := set[t]; !ok {
				return false
			}
		}
		return true
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
