// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/ClipStudy/internal/api"
	"github.com/Corphon/ClipStudy/internal/config"
	"github.com/Corphon/ClipStudy/internal/di"
	"github.com/Corphon/ClipStudy/internal/services"
	"github.com/Corphon/ClipStudy/internal/storage"
	"github.com/Corphon/ClipStudy/internal/utils"
)

const (
	logFileName       = "clipstudy.log"
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	metricsInterval   = 5 * time.Minute
)

// Options 创建应用的参数
type Options struct {
	// DataDir 为空时使用 CLIPSTUDY_DATA_DIR
	DataDir string
	// Quiet 命令行工具模式：不写日志文件，只输出警告及以上
	Quiet bool
}

// App 持有配置、存储与全部服务
type App struct {
	config    *config.AppConfig
	storage   *storage.FileStorage
	container *di.Container
	metrics   *utils.APIMetrics
	hub       *api.Hub
}

// New 加载配置、初始化日志与存储，并按依赖顺序创建服务
func New(opts Options) (*App, error) {
	if err := config.InitConfig(opts.DataDir); err != nil {
		return nil, fmt.Errorf("初始化配置系统失败: %w", err)
	}
	cfg := config.GetCurrentConfig()

	if opts.Quiet {
		_ = utils.GetLogger().SetLogLevel("warn")
	} else if err := utils.InitLogger(filepath.Join(cfg.LogDir, logFileName), cfg.DebugMode); err != nil {
		return nil, err
	}

	fs, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	a := &App{
		config:    cfg,
		storage:   fs,
		container: di.NewContainer(),
		metrics:   utils.NewAPIMetrics(),
	}
	if err := a.InitServices(); err != nil {
		fs.Close()
		return nil, err
	}

	utils.GetLogger().Info("应用初始化完成", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"services": len(a.container.GetNames()),
	})
	return a, nil
}

// InitServices 按依赖顺序创建并注册服务
func (a *App) InitServices() error {
	notes := services.NewNoteService(a.storage)
	entries, err := services.NewEntryService(a.storage, notes, a.metrics)
	if err != nil {
		return fmt.Errorf("初始化条目服务失败: %w", err)
	}
	llmService := services.NewLLMService(a.config, a.metrics)

	a.hub = api.NewHub(a.metrics)
	entries.SetPublisher(a.hub)

	c := a.container
	c.Register(di.ServiceMetrics, a.metrics)
	c.Register(di.ServiceNote, notes)
	c.Register(di.ServiceEntry, entries)
	c.Register(di.ServiceLLM, llmService)
	c.Register(di.ServiceTranslate, services.NewTranslateService(llmService, a.metrics))
	c.Register(di.ServiceReview, services.NewReviewService(entries, llmService, a.metrics))
	c.Register(di.ServiceExport, services.NewExportService(entries, a.storage))
	c.Register(di.ServiceMedia, services.NewMediaService(a.storage, a.config.MaxUploadMB))
	c.Register(di.ServiceMigration, services.NewMigrationService(entries, a.storage))
	c.Register(di.ServiceRealtime, a.hub)
	return nil
}

// Config 当前配置
func (a *App) Config() *config.AppConfig {
	return a.config
}

// Container 依赖注入容器
func (a *App) Container() *di.Container {
	return a.container
}

// Entries 条目服务
func (a *App) Entries() *services.EntryService {
	return di.MustResolve[*services.EntryService](a.container, di.ServiceEntry)
}

// Export 导出服务
func (a *App) Export() *services.ExportService {
	return di.MustResolve[*services.ExportService](a.container, di.ServiceExport)
}

// Migration 迁移服务
func (a *App) Migration() *services.MigrationService {
	return di.MustResolve[*services.MigrationService](a.container, di.ServiceMigration)
}

// MigrateLegacy 合并 MIGRATE_FROM_DIR 与旧版 server/data 中的数据
func (a *App) MigrateLegacy(ctx context.Context) []services.MigrationResult {
	return a.Migration().MigrateAll(ctx, services.LegacyDirs(a.config.DataDir, a.config.MigrateFromDir))
}

// Run 启动 HTTP 服务、数据文件监听与实时推送，直到 ctx 结束或其中之一失败
// ln 为 nil 时监听 PORT
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	logger := utils.GetLogger()

	router, err := api.SetupRouter(a.container, a.config)
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}

	a.MigrateLegacy(ctx)

	if ln == nil {
		if ln, err = net.Listen("tcp", ":"+a.config.Port); err != nil {
			return fmt.Errorf("监听端口失败: %w", err)
		}
	}

	watcher, err := storage.NewWatcher(a.storage, "", services.DBFileName, a.Entries().HandleExternalChange)
	if err != nil {
		ln.Close()
		return err
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("服务器启动", map[string]interface{}{"addr": ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("正在关闭服务器...", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("服务器强制关闭: %w", err)
		}
		logger.Info("服务器已关闭", nil)
		return nil
	})

	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error {
		a.metrics.StartMetricsCollection(gctx, metricsInterval)
		return nil
	})

	return g.Wait()
}

// Close 释放存储并刷新日志
func (a *App) Close() error {
	err := a.storage.Close()
	utils.GetLogger().Sync()
	return err
}
