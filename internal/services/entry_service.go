// internal/services/entry_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/storage"
	"github.com/Corphon/ClipStudy/internal/text"
	"github.com/Corphon/ClipStudy/internal/utils"
)

const (
	DBFileName       = "db.json"
	dbLockFileName   = "db.json.lock"
	defaultLockWait  = 5 * time.Second
	defaultPaletteSz = text.DefaultPaletteSize
)

// ErrStoreCorrupt 数据文件无法解析，拒绝写入以免覆盖
var ErrStoreCorrupt = errors.New("数据文件损坏")

// EventPublisher 条目变更的订阅方（实时推送）
type EventPublisher interface {
	Publish(event models.EntryEvent)
}

// storeFile db.json 的结构
type storeFile struct {
	Entries []models.Entry `json:"entries"`
	Seq     int            `json:"seq"`
}

// EntryQuery 列表查询：Date 优先，否则按 Keyword/Tag 搜索，再叠加高级筛选
type EntryQuery struct {
	Date    string
	Keyword string
	Tag     string
	Filter  text.EntryFilter
}

// EntryService 条目存储，整文件读写 db.json
type EntryService struct {
	storage   *storage.FileStorage
	writeLock *storage.WriteLock
	notes     *NoteService
	metrics   *utils.APIMetrics

	mu sync.Mutex // 进程内串行化写操作

	pubMu     sync.RWMutex
	publisher EventPublisher

	now         func() time.Time
	lockTimeout time.Duration
}

// NewEntryService 创建条目服务，数据文件不存在时初始化为空库
func NewEntryService(fs *storage.FileStorage, notes *NoteService, metrics *utils.APIMetrics) (*EntryService, error) {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	s := &EntryService{
		storage:     fs,
		writeLock:   storage.NewWriteLock(fs.Path("", dbLockFileName)),
		notes:       notes,
		metrics:     metrics,
		now:         time.Now,
		lockTimeout: defaultLockWait,
	}

	if !fs.FileExists("", DBFileName) {
		err := s.withWriteLock(context.Background(), func() error {
			if fs.FileExists("", DBFileName) {
				return nil
			}
			return fs.SaveJSONFile("", DBFileName, storeFile{Entries: []models.Entry{}, Seq: 1})
		})
		if err != nil {
			return nil, fmt.Errorf("初始化数据文件失败: %w", err)
		}
	}
	return s, nil
}

// SetPublisher 设置事件订阅方
func (s *EntryService) SetPublisher(p EventPublisher) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publisher = p
}

// SetClock 替换时间来源
func (s *EntryService) SetClock(now func() time.Time) {
	s.now = now
}

// DBPath 数据文件完整路径
func (s *EntryService) DBPath() string {
	return s.storage.Path("", DBFileName)
}

func (s *EntryService) publish(eventType string, id int, date string) {
	s.pubMu.RLock()
	p := s.publisher
	s.pubMu.RUnlock()
	if p == nil {
		return
	}
	p.Publish(models.EntryEvent{Type: eventType, ID: id, Date: date, Timestamp: s.now()})
}

// load 读取数据文件；损坏时返回 ErrStoreCorrupt 与空库
func (s *EntryService) load() (*storeFile, error) {
	var db storeFile
	if err := s.storage.LoadJSONFile("", DBFileName, &db); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &storeFile{Entries: []models.Entry{}, Seq: 1}, nil
		}
		return &storeFile{Entries: []models.Entry{}, Seq: 1}, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	if db.Entries == nil {
		db.Entries = []models.Entry{}
	}
	normalizeSeq(&db)
	return &db, nil
}

// normalizeSeq 保证 seq 大于现有最大 id，避免手工编辑后重复分配
func normalizeSeq(db *storeFile) {
	maxID := 0
	for _, e := range db.Entries {
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	if db.Seq <= maxID {
		db.Seq = maxID + 1
	}
	if db.Seq < 1 {
		db.Seq = 1
	}
}

// snapshot 读操作使用：损坏的数据文件按空库处理并记录日志
func (s *EntryService) snapshot() []models.Entry {
	db, err := s.load()
	if err != nil {
		utils.GetLogger().Error("读取数据文件失败，按空库处理", map[string]interface{}{
			"path":  s.DBPath(),
			"error": err.Error(),
		})
	}
	return db.Entries
}

func (s *EntryService) withWriteLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.writeLock.Lock(lockCtx); err != nil {
		return apperrors.NewUnavailableError(fmt.Sprintf("数据文件正被其他进程写入: %s", s.writeLock.Path()), err)
	}
	defer func() {
		if err := s.writeLock.Unlock(); err != nil {
			utils.GetLogger().Warn("释放写锁失败", map[string]interface{}{
				"lock":  s.writeLock.Path(),
				"error": err.Error(),
			})
		}
	}()
	return fn()
}

// mutate 在写锁内读取最新数据、修改并保存，随后重写受影响日期的笔记
func (s *EntryService) mutate(ctx context.Context, fn func(db *storeFile) ([]string, error)) error {
	var dirty []string
	err := s.withWriteLock(ctx, func() error {
		// 其他进程可能已写入，丢弃缓存
		s.storage.Invalidate(s.DBPath())
		db, err := s.load()
		if err != nil {
			return apperrors.NewUnavailableError("数据文件无法解析，已拒绝写入", err)
		}

		dirty, err = fn(db)
		if err != nil {
			return err
		}
		if len(dirty) == 0 {
			return nil
		}
		if err := s.storage.SaveJSONFile("", DBFileName, db); err != nil {
			return apperrors.NewProcessingError("保存数据文件失败", err)
		}
		s.mirror(db.Entries, dirty)
		return nil
	})
	return err
}

// mirror 笔记写入失败只记录日志，不影响条目写入结果
func (s *EntryService) mirror(entries []models.Entry, dates []string) {
	if s.notes == nil {
		return
	}
	seen := make(map[string]bool, len(dates))
	for _, date := range dates {
		if date == "" || seen[date] {
			continue
		}
		seen[date] = true

		day := filterByDate(entries, date)
		if _, err := s.notes.Mirror(date, day); err != nil {
			utils.GetLogger().Warn("写入每日笔记失败", map[string]interface{}{
				"date":  date,
				"error": err.Error(),
			})
		}
	}
}

func filterByDate(entries []models.Entry, date string) []models.Entry {
	out := make([]models.Entry, 0)
	for _, e := range entries {
		if e.Date == date {
			out = append(out, e)
		}
	}
	SortByTime(out)
	return out
}

func findIndex(entries []models.Entry, id int) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func validateDate(date string) error {
	if !models.ValidDate(date) {
		return apperrors.NewValidationError(fmt.Sprintf("日期格式应为 YYYY-MM-DD: %q", date), nil)
	}
	return nil
}

// Create 新建条目并返回分配的 id
func (s *EntryService) Create(ctx context.Context, in models.EntryInput) (int, error) {
	if in.Date != "" {
		if err := validateDate(in.Date); err != nil {
			return 0, err
		}
	}

	var created models.Entry
	err := s.mutate(ctx, func(db *storeFile) ([]string, error) {
		created = models.NewEntry(in, s.now())
		created.ID = db.Seq
		db.Seq++
		db.Entries = append(db.Entries, created)
		return []string{created.Date}, nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordEntryMutation("create")
	s.publish(models.EventEntryCreated, created.ID, created.Date)
	return created.ID, nil
}

// Update 浅合并补丁，id 不存在时返回 false
func (s *EntryService) Update(ctx context.Context, id int, patch models.EntryPatch) (bool, error) {
	if patch.Date != nil {
		if err := validateDate(*patch.Date); err != nil {
			return false, err
		}
	}

	found := false
	var date string
	err := s.mutate(ctx, func(db *storeFile) ([]string, error) {
		idx := findIndex(db.Entries, id)
		if idx < 0 {
			return nil, nil
		}
		found = true
		oldDate := db.Entries[idx].Date
		patch.Apply(&db.Entries[idx])
		date = db.Entries[idx].Date
		return []string{date, oldDate}, nil
	})
	if err != nil || !found {
		return false, err
	}

	s.metrics.RecordEntryMutation("update")
	s.publish(models.EventEntryUpdated, id, date)
	return true, nil
}

// Delete 删除条目，id 不存在时返回 false
func (s *EntryService) Delete(ctx context.Context, id int) (bool, error) {
	found := false
	var date string
	err := s.mutate(ctx, func(db *storeFile) ([]string, error) {
		idx := findIndex(db.Entries, id)
		if idx < 0 {
			return nil, nil
		}
		found = true
		date = db.Entries[idx].Date
		db.Entries = append(db.Entries[:idx], db.Entries[idx+1:]...)
		return []string{date}, nil
	})
	if err != nil || !found {
		return false, err
	}

	s.metrics.RecordEntryMutation("delete")
	s.publish(models.EventEntryDeleted, id, date)
	return true, nil
}

// Get 按 id 读取
func (s *EntryService) Get(id int) (models.Entry, error) {
	entries := s.snapshot()
	if idx := findIndex(entries, id); idx >= 0 {
		return entries[idx], nil
	}
	return models.Entry{}, apperrors.NewNotFoundError(fmt.Sprintf("条目不存在: %d", id), nil)
}

// All 全部条目，保持文件中的顺序
func (s *EntryService) All() []models.Entry {
	return s.snapshot()
}

// ListByDate 某天的条目，按 created_at、id 升序
func (s *EntryService) ListByDate(date string) []models.Entry {
	return filterByDate(s.snapshot(), date)
}

// Search 关键词匹配原文、译文、备注；标签为子串匹配；均不区分大小写
// 结果按日期、时间倒序
func (s *EntryService) Search(keyword, tag string) []models.Entry {
	entries := s.snapshot()
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if keyword != "" &&
			!text.ContainsFold(e.OriginalText, keyword) &&
			!text.ContainsFold(e.TranslatedText, keyword) &&
			!text.ContainsFold(e.Remarks, keyword) {
			continue
		}
		if tag != "" && !anyTagContains(e.Tags, tag) {
			continue
		}
		out = append(out, e)
	}
	SortNewestFirst(out)
	return out
}

func anyTagContains(tags []string, tag string) bool {
	for _, t := range tags {
		if text.ContainsFold(t, tag) {
			return true
		}
	}
	return false
}

// Query 列表接口的组合查询
func (s *EntryService) Query(q EntryQuery) []models.Entry {
	var base []models.Entry
	if q.Date != "" {
		base = s.ListByDate(q.Date)
	} else {
		base = s.Search(strings.TrimSpace(q.Keyword), strings.TrimSpace(q.Tag))
	}
	if q.Filter.IsZero() {
		return base
	}
	return q.Filter.Apply(base)
}

// Segments 条目原文、译文的切分结果
type Segments struct {
	ID           int                    `json:"id"`
	OrigMode     text.Mode              `json:"origMode"`
	TransMode    text.Mode              `json:"transMode"`
	Original     []text.Segment         `json:"original"`
	Translated   []text.Segment         `json:"translated"`
	AlignmentMap []models.AlignmentPair `json:"alignment_map"`
	// TransIndex[i] 为第 i 个原文句子对应的译文序号
	TransIndex []int `json:"transIndex"`
}

// Segments 按模式切分条目文本
func (s *EntryService) Segments(id int, origMode, transMode text.Mode) (*Segments, error) {
	e, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	pairs := e.AlignmentMap
	if pairs == nil {
		pairs = []models.AlignmentPair{}
	}
	original := text.Split(e.OriginalText, origMode, text.LangEnglish)
	translated := text.Split(e.TranslatedText, transMode, text.LangChinese)
	return &Segments{
		ID:           id,
		OrigMode:     origMode,
		TransMode:    transMode,
		Original:     original,
		Translated:   translated,
		AlignmentMap: pairs,
		TransIndex:   text.TransIndex(pairs, len(original), len(translated)),
	}, nil
}

// AddAlignment 添加一组句子对应，序号按当前切分结果钳制
func (s *EntryService) AddAlignment(ctx context.Context, id, orig, trans int, origMode, transMode text.Mode) ([]models.AlignmentPair, error) {
	return s.updateAlignment(ctx, id, func(e *models.Entry) []models.AlignmentPair {
		origCount := len(text.Split(e.OriginalText, origMode, text.LangEnglish))
		transCount := len(text.Split(e.TranslatedText, transMode, text.LangChinese))
		return text.AddPair(e.AlignmentMap, orig, trans, origCount, transCount)
	})
}

// RemoveAlignment 删除某个原文序号的对应
func (s *EntryService) RemoveAlignment(ctx context.Context, id, orig int) ([]models.AlignmentPair, error) {
	return s.updateAlignment(ctx, id, func(e *models.Entry) []models.AlignmentPair {
		return text.RemovePair(e.AlignmentMap, orig)
	})
}

func (s *EntryService) updateAlignment(ctx context.Context, id int, fn func(e *models.Entry) []models.AlignmentPair) ([]models.AlignmentPair, error) {
	var (
		pairs []models.AlignmentPair
		date  string
		found bool
	)
	err := s.mutate(ctx, func(db *storeFile) ([]string, error) {
		idx := findIndex(db.Entries, id)
		if idx < 0 {
			return nil, nil
		}
		found = true
		e := &db.Entries[idx]
		e.AlignmentMap = fn(e)
		pairs = e.AlignmentMap
		date = e.Date
		return []string{date}, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("条目不存在: %d", id), nil)
	}

	s.metrics.RecordEntryMutation("alignment")
	s.publish(models.EventEntryUpdated, id, date)
	if pairs == nil {
		pairs = []models.AlignmentPair{}
	}
	return pairs, nil
}

// Tags 标签使用频次
func (s *EntryService) Tags(limit int) []models.TagCount {
	if limit <= 0 {
		limit = defaultPaletteSz
	}
	return text.TagPalette(s.snapshot(), limit)
}

// TagTree 标签层级
func (s *EntryService) TagTree() *text.TagNode {
	return text.BuildTagTree(text.CollectTags(s.snapshot()))
}

// Import 追加外部条目并重新分配 id，跳过 skip 返回 true 的条目
func (s *EntryService) Import(ctx context.Context, incoming []models.Entry, skip func(existing []models.Entry, e models.Entry) bool) (int, error) {
	imported := 0
	err := s.mutate(ctx, func(db *storeFile) ([]string, error) {
		var dates []string
		for _, e := range incoming {
			if skip != nil && skip(db.Entries, e) {
				continue
			}
			e.ID = db.Seq
			db.Seq++
			db.Entries = append(db.Entries, e)
			dates = append(dates, e.Date)
			imported++
		}
		return dates, nil
	})
	if err != nil {
		return 0, err
	}
	if imported > 0 {
		s.metrics.Collector().AddCounter("entry_imported", int64(imported))
		s.publish(models.EventStoreChanged, 0, "")
	}
	return imported, nil
}

// RebuildNotes 重写所有日期的 Markdown 镜像
func (s *EntryService) RebuildNotes() (int, error) {
	if s.notes == nil {
		return 0, nil
	}
	return s.notes.RebuildAll(s.snapshot())
}

// HandleExternalChange 数据文件被外部修改后通知订阅方
func (s *EntryService) HandleExternalChange(path string) {
	s.storage.Invalidate(path)
	s.metrics.Collector().IncrementCounter("store_external_changes")
	s.publish(models.EventStoreChanged, 0, "")
}
