// internal/models/entry.go
package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	// DateLayout 条目日期格式（YYYY-MM-DD）
	DateLayout = "2006-01-02"
	// TimeLayout 条目创建时间格式（HH:mm）
	TimeLayout = "15:04"

	StatusNormal          = "normal"
	StatusNoTranslate     = "no_translate"
	StatusTranslateFailed = "translate_failed"
)

// AlignmentPair 原文句子序号与译文句子序号的对应关系
type AlignmentPair struct {
	Orig  int `json:"orig"`
	Trans int `json:"trans"`
}

// Entry 一条采集记录：原文、译文以及学习元数据
type Entry struct {
	ID              int             `json:"id"`
	Date            string          `json:"date"`
	CreatedAt       string          `json:"created_at"`
	SourceType      *string         `json:"source_type"`
	SourceImagePath *string         `json:"source_image_path"`
	OriginalText    string          `json:"original_text"`
	TranslatedText  string          `json:"translated_text"`
	Tokens          []string        `json:"tokens"`
	Tags            []string        `json:"tags"`
	Status          string          `json:"status"`
	Remarks         string          `json:"remarks"`
	AlignmentMap    []AlignmentPair `json:"alignment_map,omitempty"`
}

// HasImage 是否关联了来源截图
func (e *Entry) HasImage() bool {
	return e.SourceImagePath != nil && *e.SourceImagePath != ""
}

// HasRemarks 备注是否非空
func (e *Entry) HasRemarks() bool {
	return strings.TrimSpace(e.Remarks) != ""
}

// ImagePath 返回来源截图路径，未设置时为空串
func (e *Entry) ImagePath() string {
	if e.SourceImagePath == nil {
		return ""
	}
	return *e.SourceImagePath
}

// EntryInput 创建条目的请求体
type EntryInput struct {
	Date            string          `json:"date"`
	CreatedAt       string          `json:"created_at"`
	SourceType      string          `json:"source_type"`
	SourceImagePath string          `json:"source_image_path"`
	OriginalText    string          `json:"original_text"`
	TranslatedText  string          `json:"translated_text"`
	Tokens          []string        `json:"tokens"`
	Tags            []string        `json:"tags"`
	Status          string          `json:"status"`
	Remarks         string          `json:"remarks"`
	AlignmentMap    []AlignmentPair `json:"alignment_map"`
}

// EntryPatch 更新条目的请求体，nil 字段表示不修改
// JSON 中显式为 null 的字段记录在 Null 中，Apply 时清空；date 与 created_at 不可清空
type EntryPatch struct {
	Date            *string          `json:"date"`
	CreatedAt       *string          `json:"created_at"`
	SourceType      *string          `json:"source_type"`
	SourceImagePath *string          `json:"source_image_path"`
	OriginalText    *string          `json:"original_text"`
	TranslatedText  *string          `json:"translated_text"`
	Tokens          *[]string        `json:"tokens"`
	Tags            *[]string        `json:"tags"`
	Status          *string          `json:"status"`
	Remarks         *string          `json:"remarks"`
	AlignmentMap    *[]AlignmentPair `json:"alignment_map"`

	Null []string `json:"-"`
}

// UnmarshalJSON 解码补丁并记录值为 null 的字段
func (p *EntryPatch) UnmarshalJSON(data []byte) error {
	type plain EntryPatch
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded.Null = nil
	for key, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			decoded.Null = append(decoded.Null, key)
		}
	}
	sort.Strings(decoded.Null)

	*p = EntryPatch(decoded)
	return nil
}

// Apply 将补丁浅合并到条目上
func (p *EntryPatch) Apply(e *Entry) {
	for _, field := range p.Null {
		clearField(e, field)
	}

	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.CreatedAt != nil {
		e.CreatedAt = *p.CreatedAt
	}
	if p.SourceType != nil {
		e.SourceType = optionalString(*p.SourceType)
	}
	if p.SourceImagePath != nil {
		e.SourceImagePath = optionalString(*p.SourceImagePath)
	}
	if p.OriginalText != nil {
		e.OriginalText = *p.OriginalText
	}
	if p.TranslatedText != nil {
		e.TranslatedText = *p.TranslatedText
	}
	if p.Tokens != nil {
		e.Tokens = *p.Tokens
	}
	if p.Tags != nil {
		e.Tags = *p.Tags
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Remarks != nil {
		e.Remarks = *p.Remarks
	}
	if p.AlignmentMap != nil {
		e.AlignmentMap = *p.AlignmentMap
	}
}

func clearField(e *Entry, field string) {
	switch field {
	case "source_type":
		e.SourceType = nil
	case "source_image_path":
		e.SourceImagePath = nil
	case "original_text":
		e.OriginalText = ""
	case "translated_text":
		e.TranslatedText = ""
	case "tokens":
		e.Tokens = nil
	case "tags":
		e.Tags = nil
	case "status":
		e.Status = StatusNormal
	case "remarks":
		e.Remarks = ""
	case "alignment_map":
		e.AlignmentMap = nil
	}
}

// NewEntry 按默认值规则从输入构造条目（不分配 ID）
func NewEntry(in EntryInput, now time.Time) Entry {
	date := in.Date
	if date == "" {
		date = now.Format(DateLayout)
	}
	createdAt := in.CreatedAt
	if createdAt == "" {
		createdAt = now.Format(TimeLayout)
	}
	status := in.Status
	if status == "" {
		status = StatusNormal
	}
	var tokens, tags []string
	if len(in.Tokens) > 0 {
		tokens = in.Tokens
	}
	if len(in.Tags) > 0 {
		tags = in.Tags
	}
	return Entry{
		Date:            date,
		CreatedAt:       createdAt,
		SourceType:      optionalString(in.SourceType),
		SourceImagePath: optionalString(in.SourceImagePath),
		OriginalText:    in.OriginalText,
		TranslatedText:  in.TranslatedText,
		Tokens:          tokens,
		Tags:            tags,
		Status:          status,
		Remarks:         in.Remarks,
		AlignmentMap:    in.AlignmentMap,
	}
}

// ValidDate 校验 YYYY-MM-DD 日期
func ValidDate(date string) bool {
	_, err := time.Parse(DateLayout, date)
	return err == nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
