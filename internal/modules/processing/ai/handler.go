package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/pkg/extract"
	"github.com/mx-space/chaptr/internal/pkg/response"
	"github.com/mx-space/chaptr/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

type Handler struct {
	svc            *Service
	logger         *zap.Logger
	maxUploadBytes int64
}

func NewHandler(svc *Service, logger *zap.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes mounts the endpoints on rg. analyzeMW runs in front of the
// analysis endpoints only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, analyzeMW ...gin.HandlerFunc) {
	rg.GET("/providers", h.listProviders)

	analyze := rg.Group("/analyze", analyzeMW...)
	analyze.POST("", h.analyze)
	analyze.POST("/upload", h.analyzeUpload)

	tasks := rg.Group("/tasks")
	tasks.GET("", h.listTasks)
	tasks.GET("/:id", h.getTask)
	tasks.POST("/:id/cancel", h.cancelTask)
	tasks.DELETE("/:id", h.deleteTask)

	rg.POST("/chat", h.chatUnbound)
	rg.GET("/chat/ws", h.chatSocket)
	rg.POST("/documents/:id/chat", h.chatDocument)
}

// GET /providers
func (h *Handler) listProviders(c *gin.Context) {
	response.OK(c, h.svc.Router().Providers())
}

// POST /analyze?async=true
func (h *Handler) analyze(c *gin.Context) {
	var in AnalyzeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.runAnalyze(c, in)
}

// POST /analyze/upload  multipart: file, title, keep_original, config (JSON)
func (h *Handler) analyzeUpload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.TooLarge(c, "upload exceeds the size limit")
			return
		}
		response.BadRequest(c, "file is required")
		return
	}
	if !extract.Supported(fh.Filename) {
		response.BadRequest(c, "unsupported file type: "+fh.Filename)
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	text, err := extract.Bytes(fh.Filename, content)
	if err != nil {
		response.UnprocessableEntity(c, "could not read the uploaded file", err.Error())
		return
	}

	in := AnalyzeInput{Title: c.PostForm("title"), Text: text}
	if in.Title == "" {
		in.Title = strings.TrimSuffix(fh.Filename, extOf(fh.Filename))
	}
	if raw := c.PostForm("keep_original"); raw != "" {
		keep, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "keep_original must be a boolean")
			return
		}
		in.KeepOriginal = &keep
	}
	if raw := c.PostForm("config"); raw != "" {
		var o ConfigOverride
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			response.BadRequest(c, "config must be a JSON object")
			return
		}
		in.Override = &o
	}
	h.runAnalyze(c, in)
}

func (h *Handler) runAnalyze(c *gin.Context, in AnalyzeInput) {
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		task, err := h.svc.EnqueueAnalyze(c.Request.Context(), in)
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.Accepted(c, gin.H{"task_id": task.ID, "status": task.Status})
		return
	}

	doc, err := h.svc.Analyze(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, doc)
}

// GET /tasks?type=&limit=
func (h *Handler) listTasks(c *gin.Context) {
	queue := h.svc.Tasks()
	if queue == nil {
		h.writeError(c, ErrNoTaskQueue)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	tasks, err := queue.List(c.Request.Context(), c.Query("type"), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, tasks)
}

// GET /tasks/:id
func (h *Handler) getTask(c *gin.Context) {
	queue := h.svc.Tasks()
	if queue == nil {
		h.writeError(c, ErrNoTaskQueue)
		return
	}
	task, err := queue.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if task == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, task)
}

// POST /tasks/:id/cancel
func (h *Handler) cancelTask(c *gin.Context) {
	if err := h.svc.CancelTask(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// DELETE /tasks/:id
func (h *Handler) deleteTask(c *gin.Context) {
	queue := h.svc.Tasks()
	if queue == nil {
		h.writeError(c, ErrNoTaskQueue)
		return
	}
	if err := queue.DeleteByID(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

type chatDocumentDTO struct {
	Message string          `json:"message" binding:"required"`
	Config  *ConfigOverride `json:"config"`
}

// POST /documents/:id/chat  SSE
func (h *Handler) chatDocument(c *gin.Context) {
	var dto chatDocumentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	reply, err := h.svc.Chat().Send(c.Request.Context(), c.Param("id"), dto.Message, h.svc.Config(dto.Config))
	if err != nil {
		h.writeError(c, err)
		return
	}
	streamReply(c, reply)
}

type chatUnboundDTO struct {
	Segments []models.Segment     `json:"segments"`
	History  []models.ChatMessage `json:"history"`
	Message  string               `json:"message" binding:"required"`
	Config   *ConfigOverride      `json:"config"`
}

// POST /chat  SSE, nothing persisted
func (h *Handler) chatUnbound(c *gin.Context) {
	var dto chatUnboundDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	reply, err := h.svc.Chat().Stream(c.Request.Context(), ChatRequest{
		Segments: dto.Segments,
		History:  dto.History,
		Message:  dto.Message,
		Config:   h.svc.Config(dto.Config),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	streamReply(c, reply)
}

// writeError maps domain errors onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	var cfgErr *ConfigError
	var parseErr *ParseError
	var netErr *NetworkError
	switch {
	case errors.Is(err, ErrEmptyText), errors.Is(err, ErrEmptyMessage):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrTextTooLong):
		response.TooLarge(c, err.Error())
	case errors.As(err, &cfgErr):
		response.BadRequest(c, cfgErr.Error())
	case errors.As(err, &parseErr):
		response.UnprocessableEntity(c, "analysis failed, check the provider configuration or network", parseErr.Error())
	case errors.As(err, &netErr):
		response.BadGateway(c, FailureText(netErr, 0), netErr.Error())
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, taskqueue.ErrTaskNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, taskqueue.ErrNotCancelable):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNoTaskQueue):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, context.Canceled):
		c.Abort()
	case errors.Is(err, context.DeadlineExceeded):
		response.BadGateway(c, FailureText(err, 0), "")
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalError(c, err)
	}
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
