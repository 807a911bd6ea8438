// internal/text/tags.go
package text

import (
	"sort"
	"strings"

	"github.com/Corphon/ClipStudy/internal/models"
)

// TagSeparator 层级标签分隔符，例如 "学习/词汇/动词"
const TagSeparator = "/"

// DefaultPaletteSize 标签面板默认展示数量
const DefaultPaletteSize = 24

// TagNode 标签树节点
type TagNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Children []*TagNode `json:"children,omitempty"`
}

// CollectTags 收集所有条目中出现过的标签，去重并排序
func CollectTags(entries []models.Entry) []string {
	set := make(map[string]struct{})
	for _, e := range entries {
		for _, t := range e.Tags {
			set[t] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// BuildTagTree 按 "/" 拆分标签构建层级树，空段被忽略
func BuildTagTree(tags []string) *TagNode {
	root := &TagNode{}
	index := map[string]*TagNode{"": root}

	for _, tag := range tags {
		parent := root
		var path []string
		for _, part := range strings.Split(tag, TagSeparator) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			path = append(path, part)
			full := strings.Join(path, TagSeparator)
			node, ok := index[full]
			if !ok {
				node = &TagNode{Name: part, Path: full}
				index[full] = node
				parent.Children = append(parent.Children, node)
			}
			parent = node
		}
	}

	sortTree(root)
	return root
}

func sortTree(n *TagNode) {
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Name < n.Children[j].Name })
	for _, c := range n.Children {
		sortTree(c)
	}
}

// TagPalette 统计标签使用次数，按次数降序（同次数按首次出现顺序）取前 limit 个
func TagPalette(entries []models.Entry, limit int) []models.TagCount {
	if limit <= 0 {
		limit = DefaultPaletteSize
	}
	counter := make(map[string]int)
	var order []string
	for _, e := range entries {
		for _, t := range e.Tags {
			name := strings.TrimSpace(t)
			if name == "" {
				continue
			}
			if _, seen := counter[name]; !seen {
				order = append(order, name)
			}
			counter[name]++
		}
	}

	palette := make([]models.TagCount, 0, len(order))
	for _, name := range order {
		palette = append(palette, models.TagCount{Name: name, Count: counter[name]})
	}
	// 次数相同的标签保持首次出现的顺序
	sort.SliceStable(palette, func(i, j int) bool {
		return palette[i].Count > palette[j].Count
	})
	if len(palette) > limit {
		palette = palette[:limit]
	}
	return palette
}

// SplitTagList 解析以逗号或分号分隔的标签列表
func SplitTagList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	var tags []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}
