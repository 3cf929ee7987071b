package chat

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/api/render"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Service is the conversation backend of the handler
type Service interface {
	InitChat(ctx context.Context, appID, chatID string) (*domain.InitChatResponse, error)
	ListHistories(ctx context.Context, appID string) ([]domain.HistorySummary, error)
	UpdateHistory(ctx context.Context, req *domain.UpdateHistoryRequest) error
	DeleteHistory(ctx context.Context, appID, chatID string) error
	ClearHistories(ctx context.Context, appID string) error
	Completions(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error)
}

// Handler handles chat API requests
type Handler struct {
	chatService Service
	logger      *zap.Logger
}

// NewHandler creates a new chat handler
func NewHandler(chatService Service, logger *zap.Logger) *Handler {
	return &Handler{chatService: chatService, logger: logger}
}

// RegisterRoutes registers the conversation routes. completions is mounted
// separately so it can carry its own middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, completions ...gin.HandlerFunc) {
	r.GET("/init", h.Init)
	r.GET("/histories", h.ListHistories)
	r.PUT("/history", h.UpdateHistory)
	r.DELETE("/history", h.DeleteHistory)
	r.DELETE("/histories", h.ClearHistories)
	r.POST("/completions", append(completions, h.Completions)...)
}

func requireQuery(c *gin.Context, names ...string) ([]string, bool) {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = c.Query(name)
		if values[i] == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required"})
			return nil, false
		}
	}
	return values, true
}

// Init returns app info, title and history of a conversation
func (h *Handler) Init(c *gin.Context) {
	q, ok := requireQuery(c, "app_id")
	if !ok {
		return
	}

	resp, err := h.chatService.InitChat(c.Request.Context(), q[0], c.Query("chat_id"))
	if err != nil {
		render.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListHistories lists the conversations of an app
func (h *Handler) ListHistories(c *gin.Context) {
	q, ok := requireQuery(c, "app_id")
	if !ok {
		return
	}

	histories, err := h.chatService.ListHistories(c.Request.Context(), q[0])
	if err != nil {
		render.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"histories": histories})
}

// UpdateHistory changes title, custom title or pin state of a conversation
func (h *Handler) UpdateHistory(c *gin.Context) {
	var req domain.UpdateHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	if err := h.chatService.UpdateHistory(c.Request.Context(), &req); err != nil {
		render.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history updated"})
}

// DeleteHistory deletes one conversation
func (h *Handler) DeleteHistory(c *gin.Context) {
	q, ok := requireQuery(c, "app_id", "chat_id")
	if !ok {
		return
	}

	if err := h.chatService.DeleteHistory(c.Request.Context(), q[0], q[1]); err != nil {
		render.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history deleted"})
}

// ClearHistories deletes every conversation of an app
func (h *Handler) ClearHistories(c *gin.Context) {
	q, ok := requireQuery(c, "app_id")
	if !ok {
		return
	}

	if err := h.chatService.ClearHistories(c.Request.Context(), q[0]); err != nil {
		render.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "histories cleared"})
}

// Completions streams an answer as server-sent events: answer fragments, one
// responseData event, then done. Failures after the stream started are sent
// as an error event.
func (h *Handler) Completions(c *gin.Context) {
	var req domain.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	stream, err := h.chatService.Completions(c.Request.Context(), &req)
	if err != nil {
		if render.Status(err) == http.StatusInternalServerError {
			h.logger.Error("completion setup failed", zap.String("app_id", req.AppID), zap.Error(err))
		}
		render.Error(c, err)
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-stream
		if !ok {
			return false
		}
		switch chunk.Type {
		case domain.EventAnswer:
			c.SSEvent(domain.EventAnswer, domain.AnswerPayload{Text: chunk.Content})
		case domain.EventResponseData:
			c.SSEvent(domain.EventResponseData, chunk.Data)
		case domain.EventError:
			c.SSEvent(domain.EventError, domain.ErrorPayload{Message: chunk.Content})
		case domain.EventDone:
			c.SSEvent(domain.EventDone, "[DONE]")
		default:
			h.logger.Warn("dropping unknown stream chunk", zap.String("type", chunk.Type))
		}
		return true
	})
}
