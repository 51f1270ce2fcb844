package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
	"github.com/alumnia/assistant/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat", h.Chat)
	e.GET("/v1/conversations/:conversation_id/messages", h.GetConversationMessages)
	e.GET("/v1/conversations/:conversation_id/usage", h.GetConversationUsage)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Chat handles one chat turn, streaming the answer as plain text. Turn
// metadata travels in response headers, never in the body.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	tenantID := c.Request().Header.Get("X-Tenant-Id")
	userID := c.Request().Header.Get("X-User-Id")
	if tenantID == "" || userID == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("missing tenant or user identity"))
	}

	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	sink := newStreamSink(c)
	_, err := h.svc.ChatTurn(c.Request().Context(), service.ChatRequest{
		ConversationID: body.ConversationID,
		Message:        body.Message,
		TenantID:       tenantID,
		UserID:         userID,
	}, sink)

	if err != nil {
		if sink.started {
			// Headers and part of the body are already out; the terminated
			// stream is the error signal.
			h.logger.Warn("turn ended after stream start", zap.Error(err))
			return nil
		}
		return h.writeTurnError(c, err)
	}
	return nil
}

func (h *Handler) writeTurnError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case domain.IsQuotaError(err):
		return c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
	case errors.Is(err, domain.ErrConversationNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, domain.ErrProvidersExhausted):
		return c.JSON(http.StatusBadGateway, errorBody(err.Error()))
	default:
		h.logger.Error("chat turn failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

// GetConversationMessages returns the message history.
// GET /v1/conversations/:conversation_id/messages
func (h *Handler) GetConversationMessages(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	limit := intQueryParam(c, "limit", 50)

	messages, err := h.svc.GetMessages(c.Request().Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("failed to get messages", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// GetConversationUsage returns the usage ledger rows for a conversation.
// GET /v1/conversations/:conversation_id/usage
func (h *Handler) GetConversationUsage(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	records, err := h.svc.GetUsage(c.Request().Context(), conversationID)
	if err != nil {
		h.logger.Error("failed to get usage", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"usage": records,
	})
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func intQueryParam(c echo.Context, name string, defaultVal int) int {
	val := c.QueryParam(name)
	if val == "" {
		return defaultVal
	}
	n := 0
	for _, r := range val {
		if r < '0' || r > '9' {
			return defaultVal
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return defaultVal
	}
	return n
}
