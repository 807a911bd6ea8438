// internal/services/helpers_test.go
package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/ClipStudy/internal/config"
	"github.com/Corphon/ClipStudy/internal/llm"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/storage"
	"github.com/Corphon/ClipStudy/internal/utils"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)

type testEnv struct {
	storage *storage.FileStorage
	notes   *NoteService
	entries *EntryService
	metrics *utils.APIMetrics
	events  *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	metrics := utils.NewAPIMetricsWith(utils.NewMetricsCollector())
	notes := NewNoteService(fs)
	entries, err := NewEntryService(fs, notes, metrics)
	require.NoError(t, err)
	entries.SetClock(func() time.Time { return fixedNow })

	events := &recordingPublisher{}
	entries.SetPublisher(events)

	return &testEnv{storage: fs, notes: notes, entries: entries, metrics: metrics, events: events}
}

func (e *testEnv) create(t *testing.T, in models.EntryInput) int {
	t.Helper()
	id, err := e.entries.Create(context.Background(), in)
	require.NoError(t, err)
	return id
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.EntryEvent
}

func (p *recordingPublisher) Publish(ev models.EntryEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// fakeProvider 记录请求并按预设返回
type fakeProvider struct {
	mu       sync.Mutex
	name     string
	reply    string
	err      error
	requests []llm.ChatRequest
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                    { return f.name }
func (f *fakeProvider) GetDefaultModel() string            { return f.name + "-model" }

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Text: f.reply}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// slowProvider 一直阻塞到请求超时
type slowProvider struct{ fakeProvider }

func (f *slowProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// newTestLLM 不带任何已配置引擎的 LLMService
func newTestLLM(metrics *utils.APIMetrics) *LLMService {
	cfg := &config.AppConfig{
		LLMTimeoutSeconds: 5,
		Engines: map[string]config.EngineConfig{
			config.EngineZhipu:       {Provider: "glm"},
			config.EngineSiliconFlow: {Provider: "siliconflow"},
		},
	}
	return NewLLMService(cfg, metrics)
}
