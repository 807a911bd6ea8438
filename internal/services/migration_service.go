// internal/services/migration_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/storage"
	"github.com/Corphon/ClipStudy/internal/utils"
)

const (
	migrationLogFile = "migration.log"
	dedupPrefixRunes = 64
)

// MigrationResult 单个来源目录的迁移结果
type MigrationResult struct {
	SourceDir string `json:"sourceDir"`
	Migrated  int    `json:"migrated"`
	Skipped   int    `json:"skipped"`
}

// MigrationService 把旧数据目录中的 db.json 合并进当前数据目录
type MigrationService struct {
	entries *EntryService
	storage *storage.FileStorage
	now     func() time.Time
}

// NewMigrationService 创建迁移服务
func NewMigrationService(entries *EntryService, fs *storage.FileStorage) *MigrationService {
	return &MigrationService{entries: entries, storage: fs, now: time.Now}
}

// LegacyDirs 候选来源目录：显式指定的目录与旧版的 <项目根>/server/data
func LegacyDirs(dataDir, migrateFrom string) []string {
	var dirs []string
	if migrateFrom != "" {
		dirs = append(dirs, migrateFrom)
	}
	if abs, err := filepath.Abs(dataDir); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(abs), "server", "data"))
	}
	return dirs
}

// dedupKey 日期 + 时间 + 原文前 64 个字符
func dedupKey(e models.Entry) string {
	orig := []rune(e.OriginalText)
	if len(orig) > dedupPrefixRunes {
		orig = orig[:dedupPrefixRunes]
	}
	return e.Date + "|" + e.CreatedAt + "|" + string(orig)
}

func readLegacyStore(dir string) ([]models.Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, DBFileName))
	if err != nil {
		return nil, err
	}
	var legacy storeFile
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("解析旧数据失败: %w", err)
	}
	return legacy.Entries, nil
}

// MigrateFrom 合并单个目录；与当前数据目录相同或没有 db.json 时跳过
func (s *MigrationService) MigrateFrom(ctx context.Context, dir string) (*MigrationResult, error) {
	result := &MigrationResult{SourceDir: dir}

	src, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	current, err := filepath.Abs(s.storage.BaseDir)
	if err != nil {
		return nil, err
	}
	if src == current {
		return result, nil
	}
	result.SourceDir = src

	legacy, err := readLegacyStore(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, err
	}
	if len(legacy) == 0 {
		return result, nil
	}

	var seen map[string]bool
	migrated, err := s.entries.Import(ctx, legacy, func(existing []models.Entry, e models.Entry) bool {
		if seen == nil {
			seen = make(map[string]bool, len(existing))
			for _, x := range existing {
				seen[dedupKey(x)] = true
			}
		}
		key := dedupKey(e)
		if seen[key] {
			return true
		}
		seen[key] = true
		return false
	})
	if err != nil {
		return nil, err
	}
	result.Migrated = migrated
	result.Skipped = len(legacy) - migrated

	if migrated > 0 {
		line := fmt.Sprintf("Migrated %d entries from %s on %s\n", migrated, src, s.now().UTC().Format(time.RFC3339))
		if err := s.storage.AppendTextFile("", migrationLogFile, []byte(line)); err != nil {
			utils.GetLogger().Warn("写入迁移日志失败", map[string]interface{}{"error": err.Error()})
		}
		utils.GetLogger().Info("已迁移旧数据", map[string]interface{}{
			"source":   src,
			"migrated": migrated,
			"skipped":  result.Skipped,
		})
	}
	return result, nil
}

// MigrateAll 依次处理候选目录，单个目录失败只记录日志
func (s *MigrationService) MigrateAll(ctx context.Context, dirs []string) []MigrationResult {
	var results []MigrationResult
	for _, dir := range dirs {
		r, err := s.MigrateFrom(ctx, dir)
		if err != nil {
			utils.GetLogger().Warn("迁移旧数据失败", map[string]interface{}{
				"source": dir,
				"error":  err.Error(),
			})
			continue
		}
		results = append(results, *r)
	}
	return results
}
