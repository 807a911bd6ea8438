// internal/models/review.go
package models

// WordCount 词频统计
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// WordsResult 复习词汇提取结果
type WordsResult struct {
	Words       []string `json:"words"`
	Total       int      `json:"total"`
	SourceCount int      `json:"sourceCount"`
}

// ChatMessage 复习对话中的一条消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TagCount 标签使用次数
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
