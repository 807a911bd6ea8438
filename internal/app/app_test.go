// internal/app/app_test.go
package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/ClipStudy/internal/di"
	"github.com/Corphon/ClipStudy/internal/services"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "CLIPSTUDY_DATA_DIR", "LOG_DIR", "DEBUG_MODE",
		"ZHIPU_API_KEY", "SILICONFLOW_API_KEY", "MODEL_ZHIPU", "MODEL_SILICONFLOW",
		"ZHIPU_BASE_URL", "SILICONFLOW_BASE_URL", "CLIPSTUDY_SECRET_KEY",
		"MIGRATE_FROM_DIR", "LLM_TIMEOUT_SECONDS", "MAX_UPLOAD_MB",
	} {
		t.Setenv(key, "")
	}
}

func newTestApp(t *testing.T, dataDir string) *App {
	t.Helper()
	a, err := New(Options{DataDir: dataDir, Quiet: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRegistersServices(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	a := newTestApp(t, dir)

	for _, name := range []string{
		di.ServiceEntry, di.ServiceNote, di.ServiceLLM, di.ServiceTranslate,
		di.ServiceReview, di.ServiceExport, di.ServiceMedia, di.ServiceMigration,
		di.ServiceMetrics, di.ServiceRealtime,
	} {
		assert.True(t, a.Container().Has(name), name)
	}
	assert.Equal(t, dir, a.Config().DataDir)
	assert.FileExists(t, filepath.Join(dir, services.DBFileName))
}

func TestMigrateLegacyFromDefaultDir(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	legacy := filepath.Join(root, "server", "data")
	require.NoError(t, os.MkdirAll(legacy, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, services.DBFileName), []byte(`{
		"entries": [{"id": 3, "date": "2025-01-02", "created_at": "08:00", "original_text": "old entry", "tags": []}],
		"seq": 4
	}`), 0644))

	a := newTestApp(t, filepath.Join(root, "data"))

	results := a.MigrateLegacy(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Migrated)

	all := a.Entries().All()
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].ID)
	assert.Equal(t, "old entry", all[0].OriginalText)

	// 再次迁移不会重复导入
	results = a.MigrateLegacy(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Migrated)
	assert.Equal(t, 1, results[0].Skipped)
}

func TestRunServesUntilCancelled(t *testing.T) {
	clearEnv(t)
	a := newTestApp(t, t.TempDir())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run 未在取消后退出")
	}
}

func TestRunFailsCleanlyWhenPortBusy(t *testing.T) {
	clearEnv(t)
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()
	_, port, err := net.SplitHostPort(busy.Addr().String())
	require.NoError(t, err)
	t.Setenv("PORT", port)

	a := newTestApp(t, t.TempDir())
	require.Equal(t, port, a.Config().Port)

	ignore := goleak.IgnoreCurrent()
	err = a.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "监听端口失败")
	goleak.VerifyNone(t, ignore)
}
