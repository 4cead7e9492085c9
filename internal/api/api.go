package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/chat"
	"github.com/wuwenbin0122/roomchat/internal/db"
	"github.com/wuwenbin0122/roomchat/internal/gateway"
	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

// Forwarder relays a prompt upstream and returns the provider body verbatim.
type Forwarder interface {
	Forward(ctx context.Context, messages []models.Message) (json.RawMessage, error)
}

type Options struct {
	SessionID     string
	SystemPrompt  string
	HistoryWindow int
}

type Handler struct {
	opts    Options
	store   chat.Store
	gateway Forwarder
	logger  *zap.Logger
}

func NewHandler(store chat.Store, forwarder Forwarder, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		opts:    opts,
		store:   store,
		gateway: forwarder,
		logger:  utils.OrNop(logger).Named("api"),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	// single route, method dispatch happens in the handler
	apiGroup.Any("/chat", corsMiddleware(), h.handleChat)

	apiGroup.GET("/turns", h.handleListTurns)
	apiGroup.POST("/turns", h.handleAppendTurn)

	apiGroup.GET("/session/ws", h.handleSession)
}

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

type appendTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) handleChat(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeProxyError(c, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProxyError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeProxyError(c, http.StatusBadRequest, "messages must not be empty")
		return
	}

	raw, err := h.gateway.Forward(c.Request.Context(), req.Messages)
	if err != nil {
		status := gateway.StatusFromError(err)
		h.logger.Warn("chat_proxy_failed", zap.Int("status", status), zap.Error(err))
		writeProxyError(c, status, err.Error())
		return
	}

	c.Data(http.StatusOK, "application/json", raw)
}

func (h *Handler) handleListTurns(c *gin.Context) {
	turns, err := h.store.ListTurns(c.Request.Context(), h.opts.SessionID)
	if err != nil {
		h.logger.Error("list_turns_failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to load turns", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": h.opts.SessionID,
		"turns":     turns,
	})
}

func (h *Handler) handleAppendTurn(c *gin.Context) {
	var req appendTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	role, ok := models.ParseRole(req.Role)
	if !ok || !role.Persistable() {
		writeError(c, http.StatusBadRequest, "role must be user or assistant", db.ErrInvalidRole)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(c, http.StatusBadRequest, "content is required", errEmptyContent)
		return
	}

	turn, err := h.store.Append(c.Request.Context(), h.opts.SessionID, role, req.Content)
	if err != nil {
		if errors.Is(err, db.ErrInvalidRole) {
			writeError(c, http.StatusBadRequest, err.Error(), err)
			return
		}
		h.logger.Error("append_turn_failed", zap.String("role", string(role)), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to persist turn", err)
		return
	}

	c.JSON(http.StatusCreated, turn)
}

var errEmptyContent = errors.New("content is required")

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Set("Access-Control-Max-Age", "86400")
		c.Next()
	}
}

// writeProxyError answers the proxy route with the {error} envelope clients
// render verbatim.
func writeProxyError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
