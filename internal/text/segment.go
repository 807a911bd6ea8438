// internal/text/segment.go
package text

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Mode 切分方式
type Mode string

const (
	ModeLine     Mode = "line"
	ModeSentence Mode = "sentence"
)

// Lang 决定句末标点集合
type Lang string

const (
	LangEnglish Lang = "en"
	LangChinese Lang = "zh"
)

var (
	englishSentence = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|\n|$)`)
	chineseSentence = regexp.MustCompile(`[^。！？\n]+(?:[。！？]+|\n|$)`)
)

// Segment 一个句子或一行在原文中的位置
// Start/End 为字节偏移（End 不含），StartUTF16/EndUTF16 供浏览器端 setSelectionRange 使用
type Segment struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	StartUTF16 int    `json:"start_utf16"`
	EndUTF16   int    `json:"end_utf16"`
}

// ParseMode 解析切分方式，无法识别时返回 def
func ParseMode(s string, def Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLine:
		return ModeLine
	case ModeSentence:
		return ModeSentence
	default:
		return def
	}
}

// Split 按方式切分文本
func Split(s string, mode Mode, lang Lang) []Segment {
	if mode == ModeLine {
		return SegmentLines(s)
	}
	return SegmentSentences(s, lang)
}

// SegmentLines 按换行切分，丢弃空白行
func SegmentLines(s string) []Segment {
	var segs []Segment
	pos := 0
	for _, line := range strings.Split(s, "\n") {
		start := pos
		end := start + len(line)
		pos = end + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		segs = append(segs, Segment{Text: line, Start: start, End: end})
	}
	return withUTF16(s, segs)
}

// SegmentSentences 按句末标点切分，丢弃空白片段
func SegmentSentences(s string, lang Lang) []Segment {
	re := englishSentence
	if lang == LangChinese {
		re = chineseSentence
	}
	var segs []Segment
	for _, loc := range re.FindAllStringIndex(s, -1) {
		part := s[loc[0]:loc[1]]
		if strings.TrimSpace(part) == "" {
			continue
		}
		segs = append(segs, Segment{Text: part, Start: loc[0], End: loc[1]})
	}
	return withUTF16(s, segs)
}

// withUTF16 补全序号与 UTF-16 偏移；segs 按 Start 递增
func withUTF16(s string, segs []Segment) []Segment {
	bytePos, unitPos := 0, 0
	advance := func(to int) int {
		for _, r := range s[bytePos:to] {
			n := utf16.RuneLen(r)
			if n < 0 {
				n = 1
			}
			unitPos += n
		}
		bytePos = to
		return unitPos
	}
	for i := range segs {
		segs[i].Index = i
		segs[i].StartUTF16 = advance(segs[i].Start)
		segs[i].EndUTF16 = advance(segs[i].End)
	}
	return segs
}
