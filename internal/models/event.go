// internal/models/event.go
package models

import "time"

// 条目变更事件类型
const (
	EventEntryCreated = "entry.created"
	EventEntryUpdated = "entry.updated"
	EventEntryDeleted = "entry.deleted"
	EventStoreChanged = "store.changed"
)

// EntryEvent 推送给实时订阅者的条目变更
type EntryEvent struct {
	Type      string    `json:"type"`
	ID        int       `json:"id,omitempty"`
	Date      string    `json:"date,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
