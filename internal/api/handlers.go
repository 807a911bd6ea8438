// internal/api/handlers.go
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ClipStudy/internal/config"
	"github.com/Corphon/ClipStudy/internal/di"
	apperrors "github.com/Corphon/ClipStudy/internal/errors"
	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/services"
	"github.com/Corphon/ClipStudy/internal/text"
	"github.com/Corphon/ClipStudy/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	EntryService     *services.EntryService     // 条目存储
	NoteService      *services.NoteService      // 每日笔记
	TranslateService *services.TranslateService // 翻译
	ReviewService    *services.ReviewService    // 词汇复习
	ExportService    *services.ExportService    // 导出
	MediaService     *services.MediaService     // 截图上传
	LLMService       *services.LLMService       // 模型引擎
	Metrics          *utils.APIMetrics          // 指标
	Hub              *Hub                       // 实时推送
	Response         *ResponseHelper            // 响应助手
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Text            string `json:"text"`
	PreferredEngine string `json:"preferredEngine"`
	OfflineOnly     bool   `json:"offlineOnly"`
}

// AlignmentRequest 添加句子对应
type AlignmentRequest struct {
	Orig      int    `json:"orig"`
	Trans     int    `json:"trans"`
	OrigMode  string `json:"origMode"`
	TransMode string `json:"transMode"`
}

// SettingsUpdateRequest 更新某个引擎的设置
type SettingsUpdateRequest struct {
	Engine string `json:"engine" binding:"required"`
	config.EngineUpdate
}

// NewHandler 从容器取出服务创建处理器
func NewHandler(container *di.Container) (*Handler, error) {
	h := &Handler{}
	var err error

	if h.EntryService, err = di.Resolve[*services.EntryService](container, di.ServiceEntry); err != nil {
		return nil, err
	}
	if h.NoteService, err = di.Resolve[*services.NoteService](container, di.ServiceNote); err != nil {
		return nil, err
	}
	if h.TranslateService, err = di.Resolve[*services.TranslateService](container, di.ServiceTranslate); err != nil {
		return nil, err
	}
	if h.ReviewService, err = di.Resolve[*services.ReviewService](container, di.ServiceReview); err != nil {
		return nil, err
	}
	if h.ExportService, err = di.Resolve[*services.ExportService](container, di.ServiceExport); err != nil {
		return nil, err
	}
	if h.MediaService, err = di.Resolve[*services.MediaService](container, di.ServiceMedia); err != nil {
		return nil, err
	}
	if h.LLMService, err = di.Resolve[*services.LLMService](container, di.ServiceLLM); err != nil {
		return nil, err
	}
	if h.Metrics, err = di.Resolve[*utils.APIMetrics](container, di.ServiceMetrics); err != nil {
		return nil, err
	}
	if h.Hub, err = di.Resolve[*Hub](container, di.ServiceRealtime); err != nil {
		return nil, err
	}

	h.Response = NewResponseHelper(h.Metrics)
	return h, nil
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UploadImage 保存截图，表单字段为 image
func (h *Handler) UploadImage(c *gin.Context) {
	// 为 multipart 边界等额外内容预留 1MB
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MediaService.MaxBytes()+1<<20)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge, "上传文件过大")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrorNoFile})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.Response.InternalError(c, "读取上传文件失败")
		return
	}
	defer src.Close()

	result, err := h.MediaService.SaveUpload(file.Filename, src)
	if err != nil {
		if apperrors.CodeOf(err) == ErrorFileTooLarge {
			h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge, "上传文件过大")
			return
		}
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Translate 英译中；失败时返回空译文，状态码始终为 200
func (h *Handler) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"translated": ""})
		return
	}

	input := strings.TrimSpace(req.Text)
	if input == "" {
		c.JSON(http.StatusOK, gin.H{"translated": ""})
		return
	}

	translated := h.TranslateService.Translate(c.Request.Context(), input, services.TranslateOptions{
		PreferredEngine: req.PreferredEngine,
		OfflineOnly:     req.OfflineOnly,
	})
	c.JSON(http.StatusOK, gin.H{"translated": translated})
}

// CreateEntry 新建条目
func (h *Handler) CreateEntry(c *gin.Context) {
	var input models.EntryInput
	if err := bindOptionalJSON(c, &input); err != nil {
		h.Response.BindError(c, err)
		return
	}

	id, err := h.EntryService.Create(c.Request.Context(), input)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// ListEntries date 优先；否则按 keyword/tag 搜索，再叠加高级筛选
func (h *Handler) ListEntries(c *gin.Context) {
	entries := h.EntryService.Query(services.EntryQuery{
		Date:    c.Query("date"),
		Keyword: c.Query("keyword"),
		Tag:     c.Query("tag"),
		Filter:  parseFilter(c, false),
	})
	c.JSON(http.StatusOK, entries)
}

// GetEntry 按 id 读取
func (h *Handler) GetEntry(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrorNotFound})
		return
	}

	entry, err := h.EntryService.Get(id)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrorNotFound})
			return
		}
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// UpdateEntry 浅合并更新
func (h *Handler) UpdateEntry(c *gin.Context) {
	var patch models.EntryPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.Response.BindError(c, err)
		return
	}

	id, valid := parseID(c.Param("id"))
	if !valid {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}

	ok, err := h.EntryService.Update(c.Request.Context(), id, patch)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

// DeleteEntry 删除条目
func (h *Handler) DeleteEntry(c *gin.Context) {
	id, valid := parseID(c.Param("id"))
	if !valid {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}

	ok, err := h.EntryService.Delete(c.Request.Context(), id)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

// GetSegments 原文与译文的切分结果
func (h *Handler) GetSegments(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, "条目不存在")
		return
	}

	segs, err := h.EntryService.Segments(id,
		text.ParseMode(c.Query("origMode"), text.ModeSentence),
		text.ParseMode(c.Query("transMode"), text.ModeSentence),
	)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, segs)
}

// PutAlignment 添加一组句子对应
func (h *Handler) PutAlignment(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, "条目不存在")
		return
	}

	var req AlignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BindError(c, err)
		return
	}

	pairs, err := h.EntryService.AddAlignment(c.Request.Context(), id, req.Orig, req.Trans,
		text.ParseMode(req.OrigMode, text.ModeSentence),
		text.ParseMode(req.TransMode, text.ModeSentence),
	)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "alignment_map": pairs})
}

// DeleteAlignment 删除某个原文句子的对应
func (h *Handler) DeleteAlignment(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, "条目不存在")
		return
	}
	orig, err := strconv.Atoi(c.Param("orig"))
	if err != nil {
		h.Response.BadRequest(c, "orig 必须是整数")
		return
	}

	pairs, err := h.EntryService.RemoveAlignment(c.Request.Context(), id, orig)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "alignment_map": pairs})
}

// GetNote 某一天的 Markdown 笔记
func (h *Handler) GetNote(c *gin.Context) {
	md, err := h.NoteService.Load(c.Param("date"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
}

// GetTags 标签使用频次
func (h *Handler) GetTags(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, h.EntryService.Tags(limit))
}

// GetTagTree 标签层级
func (h *Handler) GetTagTree(c *gin.Context) {
	c.JSON(http.StatusOK, h.EntryService.TagTree())
}

// Export Markdown / CSV 导出
func (h *Handler) Export(c *gin.Context) {
	result, err := h.ExportService.Export(services.ExportRequest{
		Format:  c.DefaultQuery("type", models.ExportFormatMarkdown),
		Keyword: c.Query("keyword"),
		Tag:     c.Query("tag"),
		Filter:  parseFilter(c, true),
	})
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.FileResponse(c, result.Content, result.Filename, result.ContentType)
}

// ReviewWords 复习词汇
func (h *Handler) ReviewWords(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = services.DefaultWordLimit
	}
	c.JSON(http.StatusOK, h.ReviewService.ExtractWords(services.WordsQuery{
		Date:  c.Query("date"),
		Start: c.Query("start"),
		End:   c.Query("end"),
		Limit: limit,
	}))
}

// ReviewChat 复习对话
func (h *Handler) ReviewChat(c *gin.Context) {
	var req services.ReviewChatRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.Response.BindError(c, err)
		return
	}

	reply, err := h.ReviewService.Chat(c.Request.Context(), req)
	if err != nil {
		utils.GetLogger().Warn("复习对话失败", map[string]interface{}{
			"request_id": c.GetString(requestIDKey),
			"error":      err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrorChatFailed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// settingsView 设置页数据，密钥已脱敏
func (h *Handler) settingsView() gin.H {
	cfg := config.GetCurrentConfig()
	return gin.H{
		"engines":           h.LLMService.Status(),
		"llmTimeoutSeconds": cfg.LLMTimeoutSeconds,
		"maxUploadMB":       cfg.MaxUploadMB,
		"encryptedKeys":     cfg.SecretKey != "",
	}
}

// GetSettings 模型引擎设置
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsView())
}

// UpdateSettings 更新并持久化引擎设置，随后重建引擎
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req SettingsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BindError(c, err)
		return
	}

	cfg, err := config.UpdateEngineConfig(strings.ToLower(strings.TrimSpace(req.Engine)), req.EngineUpdate)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.LLMService.Configure(cfg)

	utils.GetLogger().Info("模型引擎设置已更新", map[string]interface{}{
		"engine":     req.Engine,
		"request_id": c.GetString(requestIDKey),
	})
	c.JSON(http.StatusOK, h.settingsView())
}

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.Metrics.Collector().Snapshot())
}

// bindOptionalJSON 空请求体按 {} 处理
func bindOptionalJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseID 解析路径中的条目 id
func parseID(raw string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseFilter 从查询参数构造高级筛选；withDate 为 true 时 date 也作为筛选条件
func parseFilter(c *gin.Context, withDate bool) text.EntryFilter {
	f := text.EntryFilter{
		Start:       c.Query("start"),
		End:         c.Query("end"),
		Tags:        text.SplitTagList(c.Query("tags")),
		TagsMode:    text.ParseMatchMode(c.Query("tagsMode"), text.MatchAny),
		Keywords:    c.Query("keywords"),
		KeywordMode: text.ParseMatchMode(c.Query("keywordMode"), text.MatchAny),
		HasRemarks:  strings.EqualFold(c.Query("hasRemarks"), "true"),
		HasImage:    strings.EqualFold(c.Query("hasImage"), "true"),
	}
	if withDate {
		f.Date = c.Query("date")
	}
	return f
}
