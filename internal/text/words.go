// internal/text/words.go
package text

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Corphon/ClipStudy/internal/models"
)

var (
	wordSplitter = regexp.MustCompile(`[^A-Za-z\-']+`)
	wordPattern  = regexp.MustCompile(`^[a-z\-']{2,}$`)
)

// CountWords 统计条目中的英文词频
// 条目有 tokens 时只统计 tokens，否则从原文中切词；结果按次数降序，同次数保持首次出现顺序
func CountWords(entries []models.Entry) []models.WordCount {
	index := make(map[string]int)
	var counts []models.WordCount

	push := func(w string) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || !wordPattern.MatchString(w) {
			return
		}
		if i, ok := index[w]; ok {
			counts[i].Count++
			return
		}
		index[w] = len(counts)
		counts = append(counts, models.WordCount{Word: w, Count: 1})
	}

	for _, e := range entries {
		if len(e.Tokens) > 0 {
			for _, t := range e.Tokens {
				push(t)
			}
			continue
		}
		for _, w := range wordSplitter.Split(e.OriginalText, -1) {
			push(w)
		}
	}

	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	return counts
}
