// internal/api/api_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ClipStudy/internal/config"
	"github.com/Corphon/ClipStudy/internal/di"
	"github.com/Corphon/ClipStudy/internal/llm"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/services"
	"github.com/Corphon/ClipStudy/internal/storage"
	"github.com/Corphon/ClipStudy/internal/utils"
)

type echoProvider struct {
	name     string
	requests []llm.ChatRequest
}

func (p *echoProvider) Initialize(map[string]string) error { return nil }
func (p *echoProvider) GetName() string                    { return p.name }
func (p *echoProvider) GetDefaultModel() string            { return "echo" }

func (p *echoProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	last := req.Messages[len(req.Messages)-1].Content
	return &llm.ChatResponse{Text: "译:" + last}, nil
}

type testServer struct {
	router  *gin.Engine
	entries *services.EntryService
	llm     *services.LLMService
	hub     *Hub
	metrics *utils.APIMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	for _, key := range []string{
		"PORT", "CLIPSTUDY_DATA_DIR", "LOG_DIR", "DEBUG_MODE",
		"ZHIPU_API_KEY", "SILICONFLOW_API_KEY", "MODEL_ZHIPU", "MODEL_SILICONFLOW",
		"ZHIPU_BASE_URL", "SILICONFLOW_BASE_URL", "CLIPSTUDY_SECRET_KEY",
		"MIGRATE_FROM_DIR", "LLM_TIMEOUT_SECONDS", "MAX_UPLOAD_MB",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	require.NoError(t, config.InitConfig(dir))
	cfg := config.GetCurrentConfig()
	cfg.MaxUploadMB = 1

	fs, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	metrics := utils.NewAPIMetricsWith(utils.NewMetricsCollector())
	notes := services.NewNoteService(fs)
	entries, err := services.NewEntryService(fs, notes, metrics)
	require.NoError(t, err)
	llmService := services.NewLLMService(cfg, metrics)
	hub := NewHub(metrics)
	entries.SetPublisher(hub)
	t.Cleanup(hub.Shutdown)

	container := di.NewContainer()
	container.Register(di.ServiceEntry, entries)
	container.Register(di.ServiceNote, notes)
	container.Register(di.ServiceLLM, llmService)
	container.Register(di.ServiceTranslate, services.NewTranslateService(llmService, metrics))
	container.Register(di.ServiceReview, services.NewReviewService(entries, llmService, metrics))
	container.Register(di.ServiceExport, services.NewExportService(entries, fs))
	container.Register(di.ServiceMedia, services.NewMediaService(fs, cfg.MaxUploadMB))
	container.Register(di.ServiceMetrics, metrics)
	container.Register(di.ServiceRealtime, hub)

	router, err := SetupRouter(container, cfg)
	require.NoError(t, err)

	return &testServer{router: router, entries: entries, llm: llmService, hub: hub, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEntryCRUD(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/entries", map[string]interface{}{
		"date":          "2025-03-10",
		"created_at":    "08:00",
		"original_text": "Hello world.",
		"tags":          []string{"greeting"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/entries?date=2025-03-10", nil)
	var list []models.Entry
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Hello world.", list[0].OriginalText)

	w = s.do(t, http.MethodPut, "/api/entries/1", map[string]interface{}{"translated_text": "你好世界。"})
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/entries/1", nil)
	var entry models.Entry
	decode(t, w, &entry)
	assert.Equal(t, "你好世界。", entry.TranslatedText)
	assert.Equal(t, []string{"greeting"}, entry.Tags)

	w = s.do(t, http.MethodPut, "/api/entries/1", `{"tags": null, "translated_text": null}`)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	decode(t, s.do(t, http.MethodGet, "/api/entries/1", nil), &entry)
	assert.Empty(t, entry.Tags)
	assert.Empty(t, entry.TranslatedText)
	assert.Equal(t, "Hello world.", entry.OriginalText)

	w = s.do(t, http.MethodPut, "/api/entries/99", map[string]interface{}{"remarks": "x"})
	assert.JSONEq(t, `{"ok":false}`, w.Body.String())

	w = s.do(t, http.MethodDelete, "/api/entries/1", nil)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/entries/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/entries/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateEntryValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/entries", map[string]interface{}{"date": "10/03/2025"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, ErrorBadRequest, resp.Error)
	assert.NotEmpty(t, resp.RequestID)

	w = s.do(t, http.MethodPost, "/api/entries", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmptyBodyTreatedAsEmptyObject(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/entries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())

	e, err := s.entries.Get(1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNormal, e.Status)
	assert.NotEmpty(t, e.Date)

	w = s.do(t, http.MethodPost, "/api/review/chat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reply"`)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t)

	big := `{"original_text":"` + strings.Repeat("a", int(DefaultBodyLimit)+10) + `"}`
	w := s.do(t, http.MethodPost, "/api/entries", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, ErrorBodyTooLarge, resp.Error)
	assert.Empty(t, s.entries.All())
}

func TestListEntriesAdvancedFilters(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.entries.Create(ctx, models.EntryInput{Date: "2025-03-10", OriginalText: "alpha", Tags: []string{"a"}, Remarks: "note"})
	require.NoError(t, err)
	_, err = s.entries.Create(ctx, models.EntryInput{Date: "2025-03-11", OriginalText: "beta", Tags: []string{"a", "b"}})
	require.NoError(t, err)

	var list []models.Entry
	decode(t, s.do(t, http.MethodGet, "/api/entries?tags=a,b&tagsMode=all", nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, "beta", list[0].OriginalText)

	decode(t, s.do(t, http.MethodGet, "/api/entries?keyword=ALPHA", nil), &list)
	require.Len(t, list, 1)

	decode(t, s.do(t, http.MethodGet, "/api/entries?hasRemarks=true", nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, "alpha", list[0].OriginalText)

	w := s.do(t, http.MethodGet, "/api/entries?keyword=nothing", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestTranslate(t *testing.T) {
	s := newTestServer(t)
	provider := &echoProvider{name: "glm"}
	s.llm.SetProvider(config.EngineZhipu, provider)

	w := s.do(t, http.MethodPost, "/api/translate", map[string]interface{}{"text": "  Hello  "})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"translated":"译:Hello"}`, w.Body.String())
	require.Len(t, provider.requests, 1)
	assert.Equal(t, services.TranslationSystemPrompt, provider.requests[0].SystemPrompt)

	w = s.do(t, http.MethodPost, "/api/translate", map[string]interface{}{"text": "   "})
	assert.JSONEq(t, `{"translated":""}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/translate", map[string]interface{}{"text": "Hi", "offlineOnly": true})
	assert.JSONEq(t, `{"translated":""}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/translate", "{bad")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"translated":""}`, w.Body.String())
	assert.Len(t, provider.requests, 1)
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadAndServeMedia(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "image", "shot.png", []byte("fake-png")))
	require.Equal(t, http.StatusOK, w.Code)

	var result models.UploadResult
	decode(t, w, &result)
	assert.True(t, strings.HasPrefix(result.Path, "data/media/"+result.Date+"/"))

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+result.Path, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fake-png", w.Body.String())

	// 数据文件不对外提供
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/data/db.json", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "file", "shot.png", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No file"}`, w.Body.String())

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "image", "run.sh", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "image", "big.png", bytes.Repeat([]byte("x"), 1<<20+10)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, ErrorFileTooLarge, resp.Error)
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t)
	_, err := s.entries.Create(context.Background(), models.EntryInput{Date: "2025-03-10", CreatedAt: "08:00", OriginalText: "x", Tags: []string{"t"}})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/export", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "# 2025-03-10\n"))

	w = s.do(t, http.MethodGet, "/api/export?type=csv&tags=t", nil)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "2025-03-10,08:00,x,,,t,")
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")

	w = s.do(t, http.MethodGet, "/api/export?date=2024-01-01", nil)
	assert.Equal(t, "# 导出为空", w.Body.String())

	w = s.do(t, http.MethodGet, "/api/export?type=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetNote(t *testing.T) {
	s := newTestServer(t)
	_, err := s.entries.Create(context.Background(), models.EntryInput{Date: "2025-03-10", CreatedAt: "08:00", OriginalText: "noted"})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/notes/2025-03-10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "# 2025-03-10\n"))
	assert.Contains(t, w.Body.String(), "  noted")

	w = s.do(t, http.MethodGet, "/api/notes/2025-03-11", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/notes/yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSegmentsAndAlignment(t *testing.T) {
	s := newTestServer(t)
	id, err := s.entries.Create(context.Background(), models.EntryInput{
		OriginalText:   "One.\nTwo.",
		TranslatedText: "一。二。",
	})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/entries/1/segments?origMode=line&transMode=sentence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var segs services.Segments
	decode(t, w, &segs)
	assert.Equal(t, id, segs.ID)
	assert.Len(t, segs.Original, 2)
	assert.Len(t, segs.Translated, 2)
	assert.Empty(t, segs.AlignmentMap)
	assert.Equal(t, []int{0, 1}, segs.TransIndex)

	w = s.do(t, http.MethodPut, "/api/entries/1/alignment", map[string]interface{}{"orig": 1, "trans": 0, "origMode": "line"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1,"alignment_map":[{"orig":1,"trans":0}]}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/entries/1/segments?origMode=line", nil)
	decode(t, w, &segs)
	assert.Equal(t, []int{0, 0}, segs.TransIndex)

	w = s.do(t, http.MethodDelete, "/api/entries/1/alignment/1", nil)
	assert.JSONEq(t, `{"id":1,"alignment_map":[]}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/entries/7/segments", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/entries/1/alignment/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTagsEndpoints(t *testing.T) {
	s := newTestServer(t)
	_, err := s.entries.Create(context.Background(), models.EntryInput{Tags: []string{"lang/en", "lang/zh"}})
	require.NoError(t, err)

	var palette []models.TagCount
	decode(t, s.do(t, http.MethodGet, "/api/tags?limit=1", nil), &palette)
	assert.Equal(t, []models.TagCount{{Name: "lang/en", Count: 1}}, palette)

	w := s.do(t, http.MethodGet, "/api/tags/tree", nil)
	assert.Contains(t, w.Body.String(), `"path":"lang/zh"`)
}

func TestReviewEndpoints(t *testing.T) {
	s := newTestServer(t)
	_, err := s.entries.Create(context.Background(), models.EntryInput{Date: "2025-03-10", OriginalText: "review review words"})
	require.NoError(t, err)

	var words models.WordsResult
	decode(t, s.do(t, http.MethodGet, "/api/review/words?date=2025-03-10&limit=abc", nil), &words)
	assert.Equal(t, []string{"review", "words"}, words.Words)

	w := s.do(t, http.MethodPost, "/api/review/chat", map[string]interface{}{"date": "2025-03-10"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	decode(t, w, &resp)
	assert.Contains(t, resp["reply"], "- review")

	s.llm.SetProvider(config.EngineZhipu, &echoProvider{name: "glm"})
	w = s.do(t, http.MethodPost, "/api/review/chat", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "quiz me"}},
	})
	decode(t, w, &resp)
	assert.Equal(t, "译:quiz me", resp["reply"])
}

func TestSettings(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Engines []services.EngineStatus `json:"engines"`
	}
	decode(t, w, &view)
	require.Len(t, view.Engines, 2)
	assert.False(t, view.Engines[0].Ready)

	w = s.do(t, http.MethodPut, "/api/settings", map[string]interface{}{"engine": "zhipu", "apiKey": "sk-test-12345"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &view)
	assert.Equal(t, config.EngineZhipu, view.Engines[0].Name)
	assert.True(t, view.Engines[0].Ready)
	assert.Equal(t, "****2345", view.Engines[0].APIKey)
	assert.NotContains(t, w.Body.String(), "sk-test-12345")
	assert.True(t, s.llm.HasEngine(config.EngineZhipu))

	w = s.do(t, http.MethodPut, "/api/settings", map[string]interface{}{"engine": "openai"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/settings", map[string]interface{}{"apiKey": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/health", nil)

	w := s.do(t, http.MethodGet, "/api/metrics", nil)
	var snap utils.MetricsSnapshot
	decode(t, w, &snap)
	assert.GreaterOrEqual(t, snap.Counters["api_requests_total"], int64(1))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, remaining, _ := rl.Allow("ip", 2, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _ = rl.Allow("ip", 2, time.Minute)
	assert.True(t, ok)
	ok, _, _ = rl.Allow("ip", 2, time.Minute)
	assert.False(t, ok)

	ok, _, _ = rl.Allow("other", 2, time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _, _ = rl.Allow("ip", 2, time.Minute)
	assert.True(t, ok)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "An internal error occurred", sanitizeErrorMessage("invalid api_key sk-1"))
	assert.Equal(t, "日期格式错误", sanitizeErrorMessage("日期格式错误"))
}

func TestWebSocketReceivesEntryEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/entries"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.metrics.Collector().Snapshot().Gauges[wsClientsGauge])

	_, err = s.entries.Create(context.Background(), models.EntryInput{Date: "2025-03-10", OriginalText: "live"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.EntryEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.EventEntryCreated, event.Type)
	assert.Equal(t, 1, event.ID)
	assert.Equal(t, "2025-03-10", event.Date)

	s.hub.Shutdown()
	assert.Equal(t, 0, s.hub.ClientCount())
}

func TestHubPublishConcurrentWithClose(t *testing.T) {
	metrics := utils.NewAPIMetricsWith(utils.NewMetricsCollector())
	hub := NewHub(metrics)

	clients := make([]*wsClient, 8)
	for i := range clients {
		clients[i] = &wsClient{send: make(chan []byte, wsSendBuffer), createdAt: time.Now()}
		require.True(t, hub.register(clients[i]))
	}
	assert.Equal(t, int64(8), metrics.Collector().Snapshot().Gauges[wsClientsGauge])

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(models.EntryEvent{Type: models.EventEntryUpdated, ID: j})
			}
		}()
	}
	for _, c := range clients {
		wg.Add(1)
		go func(c *wsClient) {
			defer wg.Done()
			hub.unregister(c)
			c.Close()
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, int64(0), metrics.Collector().Snapshot().Gauges[wsClientsGauge])
	for _, c := range clients {
		assert.True(t, c.IsClosed())
		assert.True(t, c.trySend([]byte("late")))
	}
}
